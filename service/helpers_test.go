package service

import (
	"context"
	"testing"

	"github.com/docsift/DocSift/channel"
	model "github.com/docsift/DocSift/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a private in-memory sqlite database. The pool is pinned
// to one connection so the :memory: database survives for the whole test and
// concurrent workers serialize instead of tripping sqlite table locks.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.Review{},
		&model.ReviewDocument{},
		&model.Document{},
		&model.Column{},
		&model.Cell{},
	))
	return db
}

// seedReview creates an owned review with the given documents attached.
func seedReview(t *testing.T, db *gorm.DB, owner string, docContents map[string]string) (*model.Review, []model.Document) {
	t.Helper()

	review := model.Review{Title: "Test Review", OwnerID: owner}
	require.NoError(t, db.Create(&review).Error)

	var docs []model.Document
	for filename, content := range docContents {
		doc := model.Document{Filename: filename, Content: content}
		require.NoError(t, db.Create(&doc).Error)
		require.NoError(t, db.Create(&model.ReviewDocument{ReviewID: review.ID, DocumentID: doc.ID}).Error)
		docs = append(docs, doc)
	}
	return &review, docs
}

// fakeOracle lets each test script the oracle's behavior per cell.
type fakeOracle struct {
	fn func(ctx context.Context, query, documentText string) (*Extraction, error)
}

func (f *fakeOracle) Extract(ctx context.Context, query, documentText string) (*Extraction, error) {
	return f.fn(ctx, query, documentText)
}

// newTestStack wires a review service and extraction coordinator over db.
func newTestStack(db *gorm.DB, oracle Oracle) (*ReviewService, *ExtractionService, *channel.Hub) {
	hub := channel.NewHub()
	reviews := NewReviewService(db, hub)
	extraction := NewExtractionService(db, oracle, hub, reviews)
	return reviews, extraction, hub
}
