package changes

import (
	"context"
	"errors"
	"testing"
)

func TestNoOpPublisher(t *testing.T) {
	var pub Publisher = NoOpPublisher{}
	if err := pub.PublishChanged(context.Background(), &ChangedEvent{Username: "alice", Kind: KindStreams}); err != nil {
		t.Errorf("changes:publisher_test - expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *ChangedEvent
	pub := NewCallbackPublisher(func(_ context.Context, event *ChangedEvent) error {
		captured = event
		return nil
	})

	event := &ChangedEvent{
		Username:  "alice",
		Kind:      KindStreams,
		MethodID:  "streams.create",
		ItemIDs:   []string{"s_1"},
		Timestamp: "2025-01-01T00:00:00Z",
	}
	if err := pub.PublishChanged(context.Background(), event); err != nil {
		t.Errorf("changes:publisher_test - expected no error, got %v", err)
	}
	if captured != event {
		t.Fatal("changes:publisher_test - expected callback to receive the event")
	}

	boom := errors.New("boom")
	failing := NewCallbackPublisher(func(context.Context, *ChangedEvent) error { return boom })
	if err := failing.PublishChanged(context.Background(), event); !errors.Is(err, boom) {
		t.Errorf("changes:publisher_test - err = %v, want callback error", err)
	}
}
