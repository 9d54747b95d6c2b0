package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/result"
)

const auditorTestPrefix = "audit:auditor_test"

func TestNewAPICallEvent(t *testing.T) {
	mc := api.NewMethodContext("events.get", "alice", api.SourceHTTP, nil)
	res := result.New(result.Options{})
	res.AddStream("events", result.NewSliceStream())

	ev := NewAPICallEvent(mc, res, time.UnixMilli(1500))
	if ev.ID == "" || ev.ID == mc.CallID {
		t.Errorf("%s - expected a fresh event id, got %q", auditorTestPrefix, ev.ID)
	}
	if ev.CallID != mc.CallID || ev.MethodID != "events.get" || ev.Username != "alice" || ev.Source != api.SourceHTTP {
		t.Errorf("%s - unexpected event %+v", auditorTestPrefix, ev)
	}
	if !ev.Streamed {
		t.Errorf("%s - expected streamed event", auditorTestPrefix)
	}
	if ev.Time != 1.5 {
		t.Errorf("%s - time = %v, want 1.5", auditorTestPrefix, ev.Time)
	}
}

func TestCallbackAuditor_ThroughDispatcher(t *testing.T) {
	var got []*APICallEvent
	auditor := NewCallbackAuditor(func(_ context.Context, ev *APICallEvent) error {
		got = append(got, ev)
		return nil
	})

	declared := NewDeclaredMethods([]string{"streams.get"})
	d := api.New(api.Options{Auditor: auditor, ValidateMethod: declared.Validate})
	if err := d.Register("streams.get", api.Fn(func(context.Context, *api.MethodContext, api.Params, *result.Result) error {
		return nil
	})); err != nil {
		t.Fatal(err)
	}
	if err := d.Register("streams.delete", api.Fn(func(context.Context, *api.MethodContext, api.Params, *result.Result) error {
		return nil
	})); err == nil {
		t.Errorf("%s - undeclared method should be rejected", auditorTestPrefix)
	}

	res, err := d.Call(context.Background(), api.NewMethodContext("streams.get", "bob", api.SourceInternal, nil), api.Params{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := res.ToObject(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].MethodID != "streams.get" || got[0].Username != "bob" {
		t.Errorf("%s - audited %+v", auditorTestPrefix, got)
	}
}

func TestCallbackAuditor_ErrorDoesNotFailCall(t *testing.T) {
	auditor := NewCallbackAuditor(func(context.Context, *APICallEvent) error {
		return errors.New("audit store down")
	})
	d := api.New(api.Options{Auditor: auditor})
	d.MustRegister("m", api.Fn(func(context.Context, *api.MethodContext, api.Params, *result.Result) error { return nil }))

	res, err := d.Call(context.Background(), api.NewMethodContext("m", "", api.SourceInternal, nil), api.Params{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := res.ToObject(context.Background()); err != nil {
		t.Errorf("%s - audit failure leaked into the result: %v", auditorTestPrefix, err)
	}
}

func TestNoOpAuditor(t *testing.T) {
	var a api.Auditor = NoOpAuditor{}
	if err := a.ValidAPICall(context.Background(), api.NewMethodContext("m", "", "", nil), nil); err != nil {
		t.Errorf("%s - NoOpAuditor returned %v", auditorTestPrefix, err)
	}
}
