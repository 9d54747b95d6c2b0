package transport

import (
	"context"
	"testing"

	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/apierrors"
	"github.com/morezero/api-server/pkg/result"
)

// newTestDispatcher registers a few methods covering plain, streamed and
// failing results.
func newTestDispatcher(t *testing.T) *api.Dispatcher {
	t.Helper()
	d := api.New(api.Options{
		Meta: func() map[string]any { return map[string]any{"apiVersion": "1.2.3"} },
	})

	register := func(id string, fn api.HandlerFunc) {
		if err := d.Register(id, api.Fn(fn)); err != nil {
			t.Fatalf("transport:testhelpers_test - Register(%s): %v", id, err)
		}
	}
	register("echo.get", func(_ context.Context, mc *api.MethodContext, params api.Params, res *result.Result) error {
		res.Set("params", map[string]any(params))
		res.Set("username", mc.Username)
		res.Set("token", mc.AccessToken)
		res.Set("source", mc.Source)
		return nil
	})
	register("things.create", func(_ context.Context, _ *api.MethodContext, _ api.Params, res *result.Result) error {
		res.Set("thing", map[string]any{"id": "t1"})
		return nil
	})
	register("items.get", func(_ context.Context, _ *api.MethodContext, _ api.Params, res *result.Result) error {
		res.AddStream("items", result.NewSliceStream(map[string]any{"id": "a"}, map[string]any{"id": "b"}))
		return nil
	})
	register("things.fail", func(_ context.Context, _ *api.MethodContext, _ api.Params, _ *result.Result) error {
		return apierrors.UnknownResource("thing", "x")
	})
	d.Seal()
	return d
}
