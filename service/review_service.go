package service

import (
	"errors"
	"fmt"
	"log"

	"github.com/docsift/DocSift/channel"
	model "github.com/docsift/DocSift/models"

	"gorm.io/gorm"
)

// ReviewService manages the review matrix: reviews, their document sets and
// extraction columns, and the assembled table view.
type ReviewService struct {
	db  *gorm.DB
	hub *channel.Hub
}

func NewReviewService(db *gorm.DB, hub *channel.Hub) *ReviewService {
	return &ReviewService{db: db, hub: hub}
}

// CreateReview creates an empty review owned by ownerID.
func (s *ReviewService) CreateReview(ownerID, title, description string) (*model.Review, error) {
	if ownerID == "" {
		return nil, &ValidationError{Message: "owner id is required"}
	}
	if title == "" {
		return nil, &ValidationError{Message: "title is required"}
	}

	review := model.Review{
		Title:       title,
		Description: description,
		OwnerID:     ownerID,
	}
	if err := s.db.Create(&review).Error; err != nil {
		log.Printf("[CreateReview] Error saving review: %v", err)
		return nil, fmt.Errorf("failed to save review: %w", err)
	}
	log.Printf("[CreateReview] Review %s created for owner %s", review.ID, ownerID)

	s.hub.Publish(review.ID, channel.Event{Type: channel.EventTableCreated, Table: review})
	return &review, nil
}

// getOwnedReview loads the review and enforces ownership before any other
// work happens.
func (s *ReviewService) getOwnedReview(reviewID, ownerID string) (*model.Review, error) {
	if reviewID == "" {
		return nil, &ValidationError{Message: "review id is required"}
	}
	var review model.Review
	if err := s.db.First(&review, "id = ?", reviewID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "review", ID: reviewID}
		}
		return nil, fmt.Errorf("failed to fetch review: %w", err)
	}
	if review.OwnerID != ownerID {
		return nil, &ForbiddenError{Message: "review does not belong to caller"}
	}
	return &review, nil
}

// AttachDocuments adds existing documents to the review's membership set.
// Already attached documents are skipped.
func (s *ReviewService) AttachDocuments(ownerID, reviewID string, documentIDs []string) error {
	review, err := s.getOwnedReview(reviewID, ownerID)
	if err != nil {
		return err
	}
	if len(documentIDs) == 0 {
		return &ValidationError{Message: "no document ids provided"}
	}

	var count int64
	if err := s.db.Model(&model.Document{}).Where("id IN ?", documentIDs).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check documents: %w", err)
	}
	if int(count) != len(documentIDs) {
		return &NotFoundError{Resource: "document", ID: "one or more of the requested ids"}
	}

	for _, docID := range documentIDs {
		member := model.ReviewDocument{ReviewID: review.ID, DocumentID: docID}
		err := s.db.FirstOrCreate(&member, member).Error
		if err != nil {
			log.Printf("[AttachDocuments] Error attaching document %s: %v", docID, err)
			return fmt.Errorf("failed to attach document: %w", err)
		}
	}
	log.Printf("[AttachDocuments] %d documents attached to review %s", len(documentIDs), reviewID)
	return nil
}

// CreateColumn appends a new extraction column. The display position is the
// current column count, so columns are strictly append-only and zero-based.
func (s *ReviewService) CreateColumn(ownerID, reviewID, title, query, dataType string) (*model.Column, error) {
	review, err := s.getOwnedReview(reviewID, ownerID)
	if err != nil {
		return nil, err
	}
	if title == "" {
		return nil, &ValidationError{Message: "column title is required"}
	}
	if query == "" {
		return nil, &ValidationError{Message: "column query is required"}
	}
	if dataType == "" {
		dataType = model.DataTypeText
	}
	if !model.ValidDataType(dataType) {
		return nil, &ValidationError{Message: fmt.Sprintf("unknown data type %q", dataType)}
	}

	column := model.Column{
		ReviewID: review.ID,
		Title:    title,
		Query:    query,
		DataType: dataType,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Column{}).Where("review_id = ?", review.ID).Count(&count).Error; err != nil {
			return err
		}
		column.Position = int(count)
		return tx.Create(&column).Error
	})
	if err != nil {
		log.Printf("[CreateColumn] Error saving column: %v", err)
		return nil, fmt.Errorf("failed to save column: %w", err)
	}
	log.Printf("[CreateColumn] Column %s (%q) added to review %s at position %d",
		column.ID, column.Title, reviewID, column.Position)

	s.hub.Publish(review.ID, channel.Event{Type: channel.EventColumnAdded, Column: column})
	return &column, nil
}

// CellView is a cell with its document reference denormalized for the table
// view, citation payload included.
type CellView struct {
	model.Cell
	Document struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
	} `json:"document"`
}

// ReviewView is the assembled table: the review, its columns in display
// order, and every populated cell.
type ReviewView struct {
	Review  model.Review   `json:"review"`
	Columns []model.Column `json:"columns"`
	Cells   []CellView     `json:"cells"`
}

// GetReview returns the full table view for one review.
func (s *ReviewService) GetReview(ownerID, reviewID string) (*ReviewView, error) {
	review, err := s.getOwnedReview(reviewID, ownerID)
	if err != nil {
		return nil, err
	}

	var columns []model.Column
	if err := s.db.Where("review_id = ?", reviewID).Order("position asc").Find(&columns).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}

	var cells []model.Cell
	if err := s.db.Where("review_id = ?", reviewID).Find(&cells).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch cells: %w", err)
	}

	docs, err := s.reviewDocuments(reviewID)
	if err != nil {
		return nil, err
	}
	docByID := make(map[string]model.Document, len(docs))
	for _, doc := range docs {
		docByID[doc.ID] = doc
	}

	view := &ReviewView{Review: *review, Columns: columns, Cells: make([]CellView, 0, len(cells))}
	for _, cell := range cells {
		cv := CellView{Cell: cell}
		if doc, ok := docByID[cell.DocumentID]; ok {
			cv.Document.ID = doc.ID
			cv.Document.Filename = doc.Filename
		}
		view.Cells = append(view.Cells, cv)
	}
	return view, nil
}

// reviewDocuments loads the documents attached to a review.
func (s *ReviewService) reviewDocuments(reviewID string) ([]model.Document, error) {
	var docs []model.Document
	err := s.db.
		Joins("JOIN review_documents ON review_documents.document_id = documents.id").
		Where("review_documents.review_id = ?", reviewID).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch review documents: %w", err)
	}
	return docs, nil
}
