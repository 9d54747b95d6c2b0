// Package changes defines change notifications and their publishers.
package changes

// Kinds of changed items.
const (
	KindStreams = "streams"
	KindEvents  = "events"
)

// ChangedEvent is emitted after a call changed a user's streams or events.
type ChangedEvent struct {
	Username  string   `json:"username"`
	Kind      string   `json:"kind"`
	MethodID  string   `json:"methodId"`
	ItemIDs   []string `json:"itemIds,omitempty"`
	Timestamp string   `json:"timestamp"`
}
