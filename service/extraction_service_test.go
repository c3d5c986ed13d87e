package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/docsift/DocSift/channel"
	model "github.com/docsift/DocSift/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var FixedTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRunExtractionScenario(t *testing.T) {
	// Review R: 2 documents, 1 column "Contract amount".
	db := setupTestDB(t)
	reviews, extraction, _ := newTestStack(db, &StubOracle{})

	review, docs := seedReview(t, db, "user-1", map[string]string{
		"alpha.txt": "The payment of 500000 rubles is due on 2024-01-01.",
		"beta.txt":  "A fee of 1200 euros is payable within thirty days.",
	})
	_, err := reviews.CreateColumn("user-1", review.ID, "Contract amount", "What is the contract amount?", model.DataTypeCurrency)
	require.NoError(t, err)

	summary, err := extraction.RunExtraction(context.Background(), "user-1", review.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Results, 2)

	var cells []model.Cell
	require.NoError(t, db.Where("review_id = ?", review.ID).Find(&cells).Error)
	require.Len(t, cells, 2)

	docIDs := map[string]bool{docs[0].ID: true, docs[1].ID: true}
	for _, cell := range cells {
		assert.Equal(t, model.CellStatusCompleted, cell.Status)
		citation := cell.GetCitation()
		require.NotNil(t, citation)
		assert.True(t, docIDs[citation.DocumentID], "citation must reference one of the review's documents")
	}
}

func TestRunExtractionCardinalityAndConfidenceBounds(t *testing.T) {
	db := setupTestDB(t)
	reviews, extraction, _ := newTestStack(db, &StubOracle{})

	review, _ := seedReview(t, db, "user-1", map[string]string{
		"a.txt": "first document body",
		"b.txt": "second document body",
		"c.txt": "third document body",
	})
	for _, title := range []string{"Amount", "Due date"} {
		_, err := reviews.CreateColumn("user-1", review.ID, title, "What is the "+title+"?", "")
		require.NoError(t, err)
	}

	summary, err := extraction.RunExtraction(context.Background(), "user-1", review.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Processed)

	var cells []model.Cell
	require.NoError(t, db.Find(&cells).Error)
	require.Len(t, cells, 6, "cells == columns x documents after a clean run")
	for _, cell := range cells {
		assert.GreaterOrEqual(t, cell.Confidence, 0.0)
		assert.LessOrEqual(t, cell.Confidence, 1.0)
	}
}

func TestRunExtractionIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	reviews, extraction, _ := newTestStack(db, &StubOracle{})

	review, _ := seedReview(t, db, "user-1", map[string]string{
		"a.txt": "alpha body",
		"b.txt": "beta body",
	})
	_, err := reviews.CreateColumn("user-1", review.ID, "Amount", "How much?", "")
	require.NoError(t, err)

	_, err = extraction.RunExtraction(context.Background(), "user-1", review.ID, "")
	require.NoError(t, err)

	firstValues := cellValuesByTriple(t, db, review.ID)

	_, err = extraction.RunExtraction(context.Background(), "user-1", review.ID, "")
	require.NoError(t, err)

	secondValues := cellValuesByTriple(t, db, review.ID)
	assert.Equal(t, firstValues, secondValues, "re-running with unchanged inputs must upsert, not duplicate")
}

func cellValuesByTriple(t *testing.T, db *gorm.DB, reviewID string) map[string]string {
	t.Helper()
	var cells []model.Cell
	require.NoError(t, db.Where("review_id = ?", reviewID).Find(&cells).Error)
	values := make(map[string]string, len(cells))
	for _, cell := range cells {
		values[cell.ColumnID+"/"+cell.DocumentID] = cell.Value
	}
	return values
}

func TestRunExtractionPartialFailureIsolation(t *testing.T) {
	db := setupTestDB(t)

	// The oracle fails for exactly one document.
	oracle := &fakeOracle{fn: func(ctx context.Context, query, text string) (*Extraction, error) {
		if strings.Contains(text, "poison") {
			return nil, &OracleError{Message: "schema-invalid output"}
		}
		return &Extraction{Value: "ok", CitationText: text[:4], Confidence: 0.9}, nil
	}}
	reviews, extraction, _ := newTestStack(db, oracle)

	review, _ := seedReview(t, db, "user-1", map[string]string{
		"good1.txt": "clean document one",
		"good2.txt": "clean document two",
		"bad.txt":   "poison document",
	})
	_, err := reviews.CreateColumn("user-1", review.ID, "Amount", "How much?", "")
	require.NoError(t, err)

	summary, err := extraction.RunExtraction(context.Background(), "user-1", review.ID, "")
	require.NoError(t, err, "a partially failed run is still a successful request")
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	failures := 0
	for _, r := range summary.Results {
		if !r.Success {
			failures++
			assert.Contains(t, r.Error, "schema-invalid output")
		}
	}
	assert.Equal(t, 1, failures)

	var errorCells []model.Cell
	require.NoError(t, db.Where("status = ?", model.CellStatusError).Find(&errorCells).Error)
	require.Len(t, errorCells, 1)
	assert.Contains(t, errorCells[0].ErrorMessage, "schema-invalid output")
}

func TestRunExtractionSingleColumnRestriction(t *testing.T) {
	db := setupTestDB(t)
	reviews, extraction, _ := newTestStack(db, &StubOracle{})

	review, _ := seedReview(t, db, "user-1", map[string]string{
		"a.txt": "alpha body",
		"b.txt": "beta body",
	})
	first, err := reviews.CreateColumn("user-1", review.ID, "Amount", "How much?", "")
	require.NoError(t, err)
	_, err = reviews.CreateColumn("user-1", review.ID, "Due date", "When is it due?", "")
	require.NoError(t, err)

	summary, err := extraction.RunExtraction(context.Background(), "user-1", review.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)

	var cells []model.Cell
	require.NoError(t, db.Find(&cells).Error)
	require.Len(t, cells, 2)
	for _, cell := range cells {
		assert.Equal(t, first.ID, cell.ColumnID)
	}
}

func TestRunExtractionRequestLevelErrors(t *testing.T) {
	db := setupTestDB(t)
	reviews, extraction, _ := newTestStack(db, &StubOracle{})

	review, _ := seedReview(t, db, "user-1", map[string]string{"a.txt": "body"})

	// No columns yet.
	var validation *ValidationError
	_, err := extraction.RunExtraction(context.Background(), "user-1", review.ID, "")
	assert.ErrorAs(t, err, &validation)

	column, err := reviews.CreateColumn("user-1", review.ID, "Amount", "How much?", "")
	require.NoError(t, err)

	// Foreign column id.
	other, err := reviews.CreateReview("user-1", "Other", "")
	require.NoError(t, err)
	otherColumn, err := reviews.CreateColumn("user-1", other.ID, "X", "Y?", "")
	require.NoError(t, err)

	var notFound *NotFoundError
	_, err = extraction.RunExtraction(context.Background(), "user-1", review.ID, otherColumn.ID)
	assert.ErrorAs(t, err, &notFound)

	// Review with documents but wrong caller.
	var forbidden *ForbiddenError
	_, err = extraction.RunExtraction(context.Background(), "intruder", review.ID, column.ID)
	assert.ErrorAs(t, err, &forbidden)

	// Review without documents.
	_, err = reviews.CreateColumn("user-1", other.ID, "Z", "W?", "")
	require.NoError(t, err)
	_, err = extraction.RunExtraction(context.Background(), "user-1", other.ID, "")
	assert.ErrorAs(t, err, &validation)

	// Nothing was persisted by any of the rejected runs.
	var count int64
	require.NoError(t, db.Model(&model.Cell{}).Where("review_id = ?", other.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRunExtractionTruncatesDocumentContext(t *testing.T) {
	db := setupTestDB(t)

	var seen []int
	oracle := &fakeOracle{fn: func(ctx context.Context, query, text string) (*Extraction, error) {
		seen = append(seen, len(text))
		return &Extraction{Value: "ok", Confidence: 0.5}, nil
	}}
	reviews, extraction, _ := newTestStack(db, oracle)
	extraction.workers = 1
	extraction.contextChars = 16

	review, _ := seedReview(t, db, "user-1", map[string]string{
		"long.txt":  strings.Repeat("x", 500),
		"short.txt": "tiny",
	})
	_, err := reviews.CreateColumn("user-1", review.ID, "Amount", "How much?", "")
	require.NoError(t, err)

	_, err = extraction.RunExtraction(context.Background(), "user-1", review.ID, "")
	require.NoError(t, err)

	require.Len(t, seen, 2)
	for _, n := range seen {
		assert.LessOrEqual(t, n, 16)
	}
}

func TestRunExtractionPublishesProgressAndCellEvents(t *testing.T) {
	db := setupTestDB(t)
	reviews, extraction, hub := newTestStack(db, &StubOracle{})

	review, _ := seedReview(t, db, "user-1", map[string]string{
		"a.txt": "alpha body",
		"b.txt": "beta body",
	})
	column, err := reviews.CreateColumn("user-1", review.ID, "Amount", "How much?", "")
	require.NoError(t, err)

	sub := hub.Subscribe(review.ID)
	defer hub.Unsubscribe(sub)

	_, err = extraction.RunExtraction(context.Background(), "user-1", review.ID, "")
	require.NoError(t, err)

	var cellUpdates, progressEvents int
	maxProgress := 0
	for done := false; !done; {
		select {
		case ev := <-sub.Events():
			switch ev.Type {
			case channel.EventCellUpdated:
				cellUpdates++
				assert.Equal(t, column.ID, ev.ColumnID)
				assert.Equal(t, model.CellStatusCompleted, ev.Status)
				assert.NotEmpty(t, ev.CellID)
			case channel.EventExtractionProgress:
				progressEvents++
				assert.Equal(t, 2, ev.Total)
				if ev.Progress > maxProgress {
					maxProgress = ev.Progress
				}
			}
		default:
			done = true
		}
	}
	assert.Equal(t, 2, cellUpdates)
	assert.Equal(t, 2, progressEvents)
	assert.Equal(t, 2, maxProgress)
}

func TestRunExtractionTimeoutIsPerCellError(t *testing.T) {
	db := setupTestDB(t)

	oracle := &fakeOracle{fn: func(ctx context.Context, query, text string) (*Extraction, error) {
		if strings.Contains(text, "slow") {
			<-ctx.Done()
			return nil, &OracleError{Message: "request failed", Err: ctx.Err()}
		}
		return &Extraction{Value: "ok", Confidence: 0.7}, nil
	}}
	reviews, extraction, _ := newTestStack(db, oracle)
	extraction.timeout = 20 * time.Millisecond

	review, _ := seedReview(t, db, "user-1", map[string]string{
		"slow.txt": "slow document",
		"fast.txt": "fast document",
	})
	_, err := reviews.CreateColumn("user-1", review.ID, "Amount", "How much?", "")
	require.NoError(t, err)

	summary, err := extraction.RunExtraction(context.Background(), "user-1", review.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
}

func TestRunExtractionStampsUpdateTime(t *testing.T) {
	patches := gomonkey.ApplyFunc(time.Now, func() time.Time {
		return FixedTime
	})
	defer patches.Reset()

	db := setupTestDB(t)
	reviews, extraction, _ := newTestStack(db, &StubOracle{})
	extraction.workers = 1

	review, _ := seedReview(t, db, "user-1", map[string]string{"a.txt": "alpha body"})
	_, err := reviews.CreateColumn("user-1", review.ID, "Amount", "How much?", "")
	require.NoError(t, err)

	_, err = extraction.RunExtraction(context.Background(), "user-1", review.ID, "")
	require.NoError(t, err)

	var cell model.Cell
	require.NoError(t, db.First(&cell).Error)
	assert.Equal(t, FixedTime.Unix(), cell.UpdatedAt.Unix())
}

func TestOracleErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := &OracleError{Message: "request failed", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}
