package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document holds the full extracted text of one source file. The engine
// treats documents as read-only input; file parsing (PDF/DOCX) happens
// upstream and only the resulting text is ingested here.
type Document struct {
	// ID is a unique identifier for the document, stored as a UUID.
	ID string `gorm:"type:uuid;primaryKey" json:"id"`

	// Filename is the original file name, kept for display and citations.
	Filename string `gorm:"not null" json:"filename"`

	// Content is the document's full text.
	Content string `json:"content"`

	// SourceURL is the S3 archive location of the raw text, empty when the
	// archive bucket is not configured.
	SourceURL string `json:"source_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}
