package db

// Stream represents a row in the streams table. Timestamps are seconds since
// the epoch, with millisecond precision.
type Stream struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	ParentID   *string                `json:"parentId"`
	ClientData map[string]interface{} `json:"clientData,omitempty"`
	Trashed    bool                   `json:"trashed,omitempty"`
	Created    float64                `json:"created"`
	CreatedBy  string                 `json:"createdBy"`
	Modified   float64                `json:"modified"`
	ModifiedBy string                 `json:"modifiedBy"`
	// Children is filled when streams are assembled into a tree; it is not stored.
	Children []*Stream `json:"children"`
}

// ItemDeletion records the deletion of a stream or event.
type ItemDeletion struct {
	ID      string  `json:"id"`
	Deleted float64 `json:"deleted"`
}

// Event represents a row in the events table.
type Event struct {
	ID         string      `json:"id"`
	StreamIDs  []string    `json:"streamIds"`
	Type       string      `json:"type"`
	Content    interface{} `json:"content,omitempty"`
	Time       float64     `json:"time"`
	Duration   *float64    `json:"duration,omitempty"`
	Trashed    bool        `json:"trashed,omitempty"`
	Created    float64     `json:"created"`
	CreatedBy  string      `json:"createdBy"`
	Modified   float64     `json:"modified"`
	ModifiedBy string      `json:"modifiedBy"`
}

// Item states accepted by the list operations.
const (
	StateDefault = "default"
	StateTrashed = "trashed"
	StateAll     = "all"
)

// EventsQuery selects the events of one stream.
type EventsQuery struct {
	StreamID string
	FromTime *float64
	ToTime   *float64
	State    string
	// Limit caps the number of rows; 0 means no limit.
	Limit int
}
