package service

import (
	"context"
	"testing"

	model "github.com/docsift/DocSift/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateReviewValidation(t *testing.T) {
	db := setupTestDB(t)
	reviews, _, _ := newTestStack(db, &StubOracle{})

	_, err := reviews.CreateReview("", "Contracts", "")
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = reviews.CreateReview("user-1", "", "")
	assert.ErrorAs(t, err, &validation)

	review, err := reviews.CreateReview("user-1", "Contracts", "Q3 vendor contracts")
	require.NoError(t, err)
	assert.NotEmpty(t, review.ID)
	assert.Equal(t, "user-1", review.OwnerID)
}

func TestCreateColumnAssignsAppendOnlyPositions(t *testing.T) {
	db := setupTestDB(t)
	reviews, _, _ := newTestStack(db, &StubOracle{})

	review, err := reviews.CreateReview("user-1", "Contracts", "")
	require.NoError(t, err)

	titles := []string{"Amount", "Due date", "Counterparty"}
	for i, title := range titles {
		column, err := reviews.CreateColumn("user-1", review.ID, title, "What is the "+title+"?", "")
		require.NoError(t, err)
		assert.Equal(t, i, column.Position, "position must equal prior column count")
		assert.Equal(t, model.DataTypeText, column.DataType)
	}
}

func TestCreateColumnRejectsUnknownDataType(t *testing.T) {
	db := setupTestDB(t)
	reviews, _, _ := newTestStack(db, &StubOracle{})
	review, err := reviews.CreateReview("user-1", "Contracts", "")
	require.NoError(t, err)

	_, err = reviews.CreateColumn("user-1", review.ID, "Amount", "How much?", "spreadsheet")
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = reviews.CreateColumn("user-1", review.ID, "Signed", "Is it signed?", model.DataTypeYesNo)
	assert.NoError(t, err)
}

func TestOwnershipEnforcement(t *testing.T) {
	db := setupTestDB(t)
	reviews, _, _ := newTestStack(db, &StubOracle{})
	review, err := reviews.CreateReview("user-1", "Contracts", "")
	require.NoError(t, err)

	var forbidden *ForbiddenError
	_, err = reviews.GetReview("intruder", review.ID)
	assert.ErrorAs(t, err, &forbidden)

	_, err = reviews.CreateColumn("intruder", review.ID, "Amount", "How much?", "")
	assert.ErrorAs(t, err, &forbidden)

	var notFound *NotFoundError
	_, err = reviews.GetReview("user-1", "1e8427f3-17b3-4c45-a2af-787061b3f425")
	assert.ErrorAs(t, err, &notFound)
}

func TestAttachDocumentsValidatesExistence(t *testing.T) {
	db := setupTestDB(t)
	reviews, _, _ := newTestStack(db, &StubOracle{})
	review, err := reviews.CreateReview("user-1", "Contracts", "")
	require.NoError(t, err)

	doc := model.Document{Filename: "lease.txt", Content: "lease terms"}
	require.NoError(t, db.Create(&doc).Error)

	var notFound *NotFoundError
	err = reviews.AttachDocuments("user-1", review.ID, []string{doc.ID, "be0d4b4f-3345-4899-8ef6-acf92a96d5b0"})
	assert.ErrorAs(t, err, &notFound)

	require.NoError(t, reviews.AttachDocuments("user-1", review.ID, []string{doc.ID}))
	// Attaching twice must not duplicate membership.
	require.NoError(t, reviews.AttachDocuments("user-1", review.ID, []string{doc.ID}))

	var count int64
	require.NoError(t, db.Model(&model.ReviewDocument{}).Where("review_id = ?", review.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGetReviewDenormalizesDocuments(t *testing.T) {
	db := setupTestDB(t)
	reviews, extraction, _ := newTestStack(db, &StubOracle{})

	review, docs := seedReview(t, db, "user-1", map[string]string{
		"contract.txt": "The payment of 500000 rubles is due on 2024-01-01.",
	})
	_, err := reviews.CreateColumn("user-1", review.ID, "Amount", "What is the contract amount?", "")
	require.NoError(t, err)

	_, err = extraction.RunExtraction(context.Background(), "user-1", review.ID, "")
	require.NoError(t, err)

	view, err := reviews.GetReview("user-1", review.ID)
	require.NoError(t, err)
	require.Len(t, view.Columns, 1)
	require.Len(t, view.Cells, 1)

	cell := view.Cells[0]
	assert.Equal(t, docs[0].ID, cell.Document.ID)
	assert.Equal(t, "contract.txt", cell.Document.Filename)

	citation := cell.GetCitation()
	require.NotNil(t, citation)
	assert.Equal(t, docs[0].ID, citation.DocumentID)
	assert.Equal(t, "contract.txt", citation.Filename)
}
