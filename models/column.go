package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Column data types accepted by the engine. The data type is a rendering and
// prompting hint; cell values are always persisted as strings.
const (
	DataTypeText         = "text"
	DataTypeNumber       = "number"
	DataTypeDate         = "date"
	DataTypeTag          = "tag"
	DataTypeMultipleTags = "multiple_tags"
	DataTypeYesNo        = "yes_no"
	DataTypeBulletedList = "bulleted_list"
	DataTypeCurrency     = "currency"
	DataTypeVerbatim     = "verbatim"
)

// ValidDataType reports whether t is one of the accepted column data types.
func ValidDataType(t string) bool {
	switch t {
	case DataTypeText, DataTypeNumber, DataTypeDate, DataTypeTag,
		DataTypeMultipleTags, DataTypeYesNo, DataTypeBulletedList,
		DataTypeCurrency, DataTypeVerbatim:
		return true
	}
	return false
}

// Column is a reusable natural-language extraction instruction applied to
// every document in its review.
type Column struct {
	// ID is a unique identifier for the column, stored as a UUID.
	ID string `gorm:"type:uuid;primaryKey" json:"id"`

	// ReviewID references the owning review.
	ReviewID string `gorm:"type:uuid;not null;uniqueIndex:idx_columns_review_position" json:"review_id"`

	// Title is the column header shown in the table.
	Title string `gorm:"not null" json:"title"`

	// Query is the natural-language instruction sent to the oracle for each
	// document, e.g. "What is the total contract amount?".
	Query string `gorm:"not null" json:"query"`

	// DataType is one of the DataType* constants, defaulting to text.
	DataType string `gorm:"not null;default:text" json:"data_type"`

	// Position is the zero-based display order, assigned as the current
	// column count at creation time (append-only). The column is named
	// position because "order" is an SQL keyword.
	Position int `gorm:"not null;uniqueIndex:idx_columns_review_position" json:"order"`

	CreatedAt time.Time `json:"created_at"`
}

func (c *Column) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}
