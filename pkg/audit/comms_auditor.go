package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/commsutil"
	"github.com/morezero/api-server/pkg/result"
)

const commsAuditorLogPrefix = "audit:comms_auditor"

// CommsAuditorOpts configures CommsAuditor. Nil or zero values use defaults.
type CommsAuditorOpts struct {
	// GlobalSubject overrides the global audit subject (AUDIT_SUBJECT).
	GlobalSubject string
}

// CommsAuditor publishes API call events to COMMS subjects.
type CommsAuditor struct {
	nc            *comms.Conn
	globalSubject string
}

// NewCommsAuditor creates a new CommsAuditor. Pass nil for opts to use defaults.
func NewCommsAuditor(nc *comms.Conn, opts *CommsAuditorOpts) *CommsAuditor {
	globalSubject := commsutil.SubjectAuditGlobal
	if opts != nil && opts.GlobalSubject != "" {
		globalSubject = opts.GlobalSubject
	}
	return &CommsAuditor{nc: nc, globalSubject: globalSubject}
}

// ValidAPICall publishes the call event to the per-method subject and to the
// global audit subject.
func (a *CommsAuditor) ValidAPICall(_ context.Context, mc *api.MethodContext, res *result.Result) error {
	event := NewAPICallEvent(mc, res, time.Now())
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsAuditorLogPrefix, err)
	}

	methodSubject := commsutil.BuildAuditSubject(mc.MethodID)
	if err := a.nc.Publish(methodSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsAuditorLogPrefix, methodSubject, err))
		return err
	}

	if err := a.nc.Publish(a.globalSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsAuditorLogPrefix, a.globalSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published audit event for %s (call %s)", commsAuditorLogPrefix, mc.MethodID, mc.CallID))
	return nil
}
