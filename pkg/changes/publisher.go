package changes

import "context"

// Publisher is the interface for publishing change notifications.
type Publisher interface {
	PublishChanged(ctx context.Context, event *ChangedEvent) error
}

// NoOpPublisher is a Publisher that does nothing (when COMMS is disabled).
type NoOpPublisher struct{}

// PublishChanged is a no-op.
func (NoOpPublisher) PublishChanged(context.Context, *ChangedEvent) error {
	return nil
}

// CallbackPublisher is a Publisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *ChangedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *ChangedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishChanged calls the callback.
func (p *CallbackPublisher) PublishChanged(ctx context.Context, event *ChangedEvent) error {
	return p.callback(ctx, event)
}
