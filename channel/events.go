// Package channel is the per-review progress distribution mechanism: a
// broadcast hub multiplexing coordinator events to any number of websocket
// observers. Delivery is at-least-once and best-effort; observers merge
// cell updates idempotently keyed by (column_id, file_id).
package channel

import "encoding/json"

// EventType enumerates the progress events scoped to one review room.
type EventType string

const (
	EventConnected          EventType = "connected"
	EventCellUpdated        EventType = "cell_updated"
	EventColumnAdded        EventType = "column_added"
	EventExtractionProgress EventType = "extraction_progress"
	EventTableCreated       EventType = "table_created"
	EventError              EventType = "error"
)

// Event is the JSON message sent per progress update. Only the fields for
// the given Type are populated.
type Event struct {
	Type EventType `json:"type"`

	// cell_updated
	CellID     string          `json:"cell_id,omitempty"`
	FileID     string          `json:"file_id,omitempty"`
	ColumnID   string          `json:"column_id,omitempty"`
	CellValue  string          `json:"cell_value,omitempty"`
	Citation   json.RawMessage `json:"citation,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Status     string          `json:"status,omitempty"`

	// column_added
	Column interface{} `json:"column,omitempty"`

	// extraction_progress (ColumnID is shared with cell_updated)
	Progress int `json:"progress,omitempty"`
	Total    int `json:"total,omitempty"`

	// table_created
	Table interface{} `json:"table,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}
