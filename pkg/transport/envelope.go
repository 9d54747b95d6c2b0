// Package transport exposes the dispatcher over HTTP, WebSocket and COMMS.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/apierrors"
)

const envelopeLogPrefix = "transport:envelope"

// CallRequest is the JSON envelope of one call received over WebSocket or COMMS.
type CallRequest struct {
	ID       string         `json:"id"`
	Method   string         `json:"method"`
	Username string         `json:"username,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Ctx      *CallContext   `json:"ctx,omitempty"`
}

// CallContext holds context from the caller.
type CallContext struct {
	AccessToken string `json:"accessToken,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
	DeadlineMs  int    `json:"deadlineMs,omitempty"`
	TimeoutMs   int    `json:"timeoutMs,omitempty"`
}

// CallResponse is the JSON envelope of a call outcome.
type CallResponse struct {
	ID     string         `json:"id"`
	Ok     bool           `json:"ok"`
	Result map[string]any `json:"result,omitempty"`
	Error  *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

func errorResponse(id string, err error) *CallResponse {
	apiErr, ok := apierrors.AsAPIError(err)
	if !ok {
		apiErr = apierrors.UnexpectedError(err)
	}
	return &CallResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      apiErr.ID,
			Message:   apiErr.Message,
			Details:   apiErr.Data,
			Retryable: apiErr.ID == apierrors.IDUnexpectedError,
		},
	}
}

// callTimeout returns the timeout of req: the caller's deadline or timeout
// when it is shorter than max.
func callTimeout(req *CallRequest, max time.Duration) time.Duration {
	if req.Ctx == nil {
		return max
	}
	ms := req.Ctx.DeadlineMs
	if ms <= 0 {
		ms = req.Ctx.TimeoutMs
	}
	if ms > 0 && time.Duration(ms)*time.Millisecond < max {
		return time.Duration(ms) * time.Millisecond
	}
	return max
}

// invoke runs req through d and drains the result into the response.
// username is used when the request does not name one.
func invoke(ctx context.Context, d *api.Dispatcher, req *CallRequest, username, source string, timeout time.Duration) *CallResponse {
	if req.Method == "" {
		return errorResponse(req.ID, apierrors.InvalidRequestStructure("Missing method"))
	}
	if req.Username != "" {
		username = req.Username
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout(req, timeout))
	defer cancel()

	mc := d.NewMethodContext(callCtx, req.Method, username, source)
	if req.Ctx != nil {
		mc.AccessToken = req.Ctx.AccessToken
	}
	params := api.Params(req.Params)
	if params == nil {
		params = api.Params{}
	}

	res, err := d.Call(callCtx, mc, params)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - %s %s failed: %v", envelopeLogPrefix, source, req.Method, err))
		return errorResponse(req.ID, err)
	}
	out, err := res.ToObject(callCtx)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return &CallResponse{ID: req.ID, Ok: true, Result: out}
}
