package changes

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

const commsPublisherTestPrefix = "changes:comms_publisher_integration_test"

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*comms.Conn, func()) {
	t.Helper()

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", commsPublisherTestPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", commsPublisherTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", commsPublisherTestPrefix, err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}
	return nc, cleanup
}

func subscribeEvents(t *testing.T, nc *comms.Conn, subject string) chan *ChangedEvent {
	t.Helper()
	ch := make(chan *ChangedEvent, 1)
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var event ChangedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("%s - failed to unmarshal: %v", commsPublisherTestPrefix, err)
			return
		}
		ch <- &event
	})
	if err != nil {
		t.Fatalf("%s - failed to subscribe to %s: %v", commsPublisherTestPrefix, subject, err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
	return ch
}

func TestCommsPublisher_PublishChanged_BothSubjects(t *testing.T) {
	nc, cleanup := startTestServer(t, 14260)
	defer cleanup()

	userCh := subscribeEvents(t, nc, "api.changed.alice.streams")
	globalCh := subscribeEvents(t, nc, "api.changed")

	event := &ChangedEvent{
		Username:  "alice",
		Kind:      KindStreams,
		MethodID:  "streams.create",
		ItemIDs:   []string{"s_9"},
		Timestamp: "2025-01-01T00:00:00Z",
	}
	if err := NewCommsPublisher(nc, nil).PublishChanged(context.Background(), event); err != nil {
		t.Fatalf("%s - PublishChanged failed: %v", commsPublisherTestPrefix, err)
	}
	nc.Flush()

	for _, c := range []struct {
		name string
		ch   chan *ChangedEvent
	}{
		{"user", userCh},
		{"global", globalCh},
	} {
		select {
		case got := <-c.ch:
			if got.Username != "alice" || got.MethodID != "streams.create" || len(got.ItemIDs) != 1 || got.ItemIDs[0] != "s_9" {
				t.Errorf("%s - %s event = %+v", commsPublisherTestPrefix, c.name, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s - timeout waiting for %s event", commsPublisherTestPrefix, c.name)
		}
	}
}

func TestCommsPublisher_CustomGlobalSubject(t *testing.T) {
	nc, cleanup := startTestServer(t, 14261)
	defer cleanup()

	globalCh := subscribeEvents(t, nc, "custom.changed")

	pub := NewCommsPublisher(nc, &CommsPublisherOpts{GlobalChangeSubject: "custom.changed"})
	if err := pub.PublishChanged(context.Background(), &ChangedEvent{Username: "bob", Kind: KindEvents}); err != nil {
		t.Fatalf("%s - PublishChanged failed: %v", commsPublisherTestPrefix, err)
	}
	nc.Flush()

	select {
	case got := <-globalCh:
		if got.Username != "bob" || got.Kind != KindEvents {
			t.Errorf("%s - event = %+v", commsPublisherTestPrefix, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for custom global event", commsPublisherTestPrefix)
	}
}

func TestCommsPublisher_ClosedConnection(t *testing.T) {
	nc, cleanup := startTestServer(t, 14262)
	cleanup()

	err := NewCommsPublisher(nc, nil).PublishChanged(context.Background(), &ChangedEvent{Username: "carol", Kind: KindStreams})
	if err == nil {
		t.Errorf("%s - expected error on closed connection", commsPublisherTestPrefix)
	}
}
