package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/result"
)

// APICallEvent is recorded for every successful API call.
type APICallEvent struct {
	ID       string  `json:"id"`
	CallID   string  `json:"callId"`
	MethodID string  `json:"methodId"`
	Username string  `json:"username,omitempty"`
	Source   string  `json:"source,omitempty"`
	Streamed bool    `json:"streamed"`
	Time     float64 `json:"time"`
}

// NewAPICallEvent builds the event of a call that completed at now.
func NewAPICallEvent(mc *api.MethodContext, res *result.Result, now time.Time) *APICallEvent {
	return &APICallEvent{
		ID:       uuid.NewString(),
		CallID:   mc.CallID,
		MethodID: mc.MethodID,
		Username: mc.Username,
		Source:   mc.Source,
		Streamed: res != nil && res.IsStreamResult(),
		Time:     float64(now.UnixMilli()) / 1000,
	}
}

// NoOpAuditor is an api.Auditor that does nothing (for running without audit).
type NoOpAuditor struct{}

// ValidAPICall is a no-op.
func (NoOpAuditor) ValidAPICall(context.Context, *api.MethodContext, *result.Result) error {
	return nil
}

// CallbackAuditor is an api.Auditor that hands every event to a callback (for testing).
type CallbackAuditor struct {
	callback func(ctx context.Context, event *APICallEvent) error
}

// NewCallbackAuditor creates a new CallbackAuditor.
func NewCallbackAuditor(cb func(ctx context.Context, event *APICallEvent) error) *CallbackAuditor {
	return &CallbackAuditor{callback: cb}
}

// ValidAPICall calls the callback.
func (a *CallbackAuditor) ValidAPICall(ctx context.Context, mc *api.MethodContext, res *result.Result) error {
	return a.callback(ctx, NewAPICallEvent(mc, res, time.Now()))
}
