package models

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Cell statuses.
const (
	CellStatusPending   = "pending"
	CellStatusCompleted = "completed"
	CellStatusError     = "error"
)

// Citation is the provenance payload attached to a cell: the span of source
// text the oracle claims the value came from. Persisted and transmitted in
// the same shape.
type Citation struct {
	DocumentID string `json:"documentId"`
	Filename   string `json:"filename"`
	Text       string `json:"text"`
	Position   int    `json:"position,omitempty"`
	Page       int    `json:"page,omitempty"`
	Section    string `json:"section,omitempty"`
}

// Cell is the extracted value for one (review, column, document) triple.
// At most one live cell exists per triple; the extraction coordinator is the
// only writer and always upserts, so re-running extraction replaces the
// prior value rather than inserting a duplicate.
type Cell struct {
	// ID is a unique identifier for the cell, stored as a UUID.
	ID string `gorm:"type:uuid;primaryKey" json:"id"`

	// ReviewID, ColumnID and DocumentID form the cell's compound identity.
	ReviewID   string `gorm:"type:uuid;not null;uniqueIndex:idx_cells_triple" json:"review_id"`
	ColumnID   string `gorm:"type:uuid;not null;uniqueIndex:idx_cells_triple" json:"column_id"`
	DocumentID string `gorm:"type:uuid;not null;uniqueIndex:idx_cells_triple" json:"document_id"`

	// Value is the extracted value, always a string regardless of the
	// column's data type.
	Value string `json:"value"`

	// Citation is a JSONB Citation payload, null when the oracle returned
	// no usable citation or the extraction failed.
	Citation datatypes.JSON `json:"citation,omitempty"`

	// Confidence is the oracle's self-reported confidence, always in [0,1].
	Confidence float64 `json:"confidence"`

	// Status is pending, completed or error.
	Status string `gorm:"not null;default:pending" json:"status"`

	// ErrorMessage carries the oracle failure for error-status cells.
	ErrorMessage string `json:"error_message,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Cell) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// SetCitation marshals cit into the JSONB column. A nil citation clears it.
func (c *Cell) SetCitation(cit *Citation) {
	if cit == nil {
		c.Citation = nil
		return
	}
	bytes, err := json.Marshal(cit)
	if err != nil {
		log.Printf("[SetCitation] Error marshaling citation: %v", err)
		return
	}
	c.Citation = datatypes.JSON(bytes)
}

// GetCitation unmarshals the JSONB column, returning nil when unset.
func (c *Cell) GetCitation() *Citation {
	if len(c.Citation) == 0 {
		return nil
	}
	var cit Citation
	if err := json.Unmarshal([]byte(c.Citation), &cit); err != nil {
		log.Printf("[GetCitation] Error unmarshaling citation: %v", err)
		return nil
	}
	return &cit
}
