package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/apierrors"
	"github.com/morezero/api-server/pkg/commsutil"
)

const commsLogPrefix = "transport:comms"

// CommsOptions configures SubscribeCalls.
type CommsOptions struct {
	// Subject defaults to commsutil.SubjectAPICalls.
	Subject string
	// QueueGroup spreads calls across instances when set.
	QueueGroup string
	// Timeout bounds each call; a shorter caller deadline wins.
	Timeout time.Duration
}

// SubscribeCalls answers CallRequest messages on the call subject. Each reply
// carries a CallResponse with the result drained to plain JSON.
func SubscribeCalls(ctx context.Context, nc *comms.Conn, d *api.Dispatcher, opts CommsOptions) (*comms.Subscription, error) {
	subject := opts.Subject
	if subject == "" {
		subject = commsutil.SubjectAPICalls
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	handler := func(msg *comms.Msg) {
		var req CallRequest
		var resp *CallResponse
		if err := commsutil.DecodeMsg(msg, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode request: %v", commsLogPrefix, err))
			resp = errorResponse("", apierrors.InvalidRequestStructure("Failed to decode request"))
		} else {
			resp = invoke(ctx, d, &req, "", api.SourceComms, timeout)
		}
		respond(msg, resp)
	}

	var sub *comms.Subscription
	var err error
	if opts.QueueGroup != "" {
		sub, err = nc.QueueSubscribe(subject, opts.QueueGroup, handler)
	} else {
		sub, err = nc.Subscribe(subject, handler)
	}
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", commsLogPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", commsLogPrefix, subject))
	return sub, nil
}

func respond(msg *comms.Msg, resp *CallResponse) {
	if msg.Reply == "" {
		return
	}
	out, err := commsutil.NewMsg(msg.Reply, resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", commsLogPrefix, err))
		return
	}
	if err := msg.RespondMsg(out); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to respond: %v", commsLogPrefix, err))
	}
}
