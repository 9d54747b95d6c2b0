package api

import (
	"github.com/google/uuid"

	"github.com/morezero/api-server/pkg/tracing"
)

// Call sources.
const (
	SourceHTTP      = "http"
	SourceWebSocket = "websocket"
	SourceComms     = "comms"
	SourceInternal  = "internal"
)

// MethodContext describes one call. It is not modified once the call starts.
type MethodContext struct {
	MethodID    string
	Username    string
	AccessToken string
	CallID      string
	Source      string
	Tracing     tracing.Tracing
}

// NewMethodContext creates a MethodContext with a fresh call id.
func NewMethodContext(methodID, username, source string, tr tracing.Tracing) *MethodContext {
	if tr == nil {
		tr = tracing.Noop{}
	}
	return &MethodContext{
		MethodID: methodID,
		Username: username,
		CallID:   uuid.NewString(),
		Source:   source,
		Tracing:  tr,
	}
}
