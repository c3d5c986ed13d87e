package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Review is a named collection of documents plus extraction columns — the
// "table" the engine populates.
type Review struct {
	// ID is a unique identifier for the review, stored as a UUID.
	ID string `gorm:"type:uuid;primaryKey" json:"id"`

	// Title is the review's display name, required.
	Title string `gorm:"not null" json:"title"`

	// Description is an optional free-text summary of the review.
	Description string `json:"description,omitempty"`

	// OwnerID identifies the user that created the review. Only the owner
	// may mutate the review or trigger extraction runs.
	OwnerID string `gorm:"not null;index" json:"owner_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none is provided so the model works on
// both the postgres and sqlite drivers.
func (r *Review) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// ReviewDocument records membership of a document in a review. The pair is
// unique; ordering is a display concern and irrelevant for extraction.
type ReviewDocument struct {
	ReviewID   string `gorm:"type:uuid;primaryKey" json:"review_id"`
	DocumentID string `gorm:"type:uuid;primaryKey" json:"document_id"`
}
