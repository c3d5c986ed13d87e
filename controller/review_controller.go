package controller

import (
	"errors"
	"log"
	"net/http"

	"github.com/docsift/DocSift/anchor"
	"github.com/docsift/DocSift/channel"
	service "github.com/docsift/DocSift/service"

	"github.com/gin-gonic/gin"
)

// ReviewController manages HTTP requests for the review matrix and the
// extraction engine.
type ReviewController struct {
	reviews    *service.ReviewService
	documents  *service.DocumentService
	extraction *service.ExtractionService
	hub        *channel.Hub
}

func NewReviewController(reviews *service.ReviewService, documents *service.DocumentService, extraction *service.ExtractionService, hub *channel.Hub) *ReviewController {
	return &ReviewController{reviews: reviews, documents: documents, extraction: extraction, hub: hub}
}

// ownerID resolves the calling user. Authentication itself happens upstream;
// the gateway forwards the identity in this header.
func ownerID(ctx *gin.Context) string {
	return ctx.GetHeader("X-User-ID")
}

// respondError maps the service error taxonomy onto HTTP statuses.
func respondError(ctx *gin.Context, err error) {
	var (
		validation *service.ValidationError
		notFound   *service.NotFoundError
		forbidden  *service.ForbiddenError
	)
	switch {
	case errors.As(err, &validation):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &notFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &forbidden):
		ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CreateReview handles POST /reviews.
func (c *ReviewController) CreateReview(ctx *gin.Context) {
	var req struct {
		Title       string `json:"title" binding:"required"`
		Description string `json:"description"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	review, err := c.reviews.CreateReview(ownerID(ctx), req.Title, req.Description)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message": "Review created successfully",
		"review":  review,
	})
}

// IngestDocument handles POST /documents. File parsing happens upstream;
// the request carries the extracted text.
func (c *ReviewController) IngestDocument(ctx *gin.Context) {
	var req struct {
		Filename string `json:"filename" binding:"required"`
		Content  string `json:"content" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	doc, err := c.documents.IngestDocument(req.Filename, req.Content)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":  "Document ingested successfully",
		"document": doc,
	})
}

// AttachDocuments handles POST /reviews/:id/documents.
func (c *ReviewController) AttachDocuments(ctx *gin.Context) {
	var req struct {
		DocumentIDs []string `json:"document_ids" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := c.reviews.AttachDocuments(ownerID(ctx), ctx.Param("id"), req.DocumentIDs); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Documents attached successfully"})
}

// CreateColumn handles POST /reviews/:id/columns.
func (c *ReviewController) CreateColumn(ctx *gin.Context) {
	var req struct {
		Title    string `json:"title" binding:"required"`
		Query    string `json:"query" binding:"required"`
		DataType string `json:"data_type"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	column, err := c.reviews.CreateColumn(ownerID(ctx), ctx.Param("id"), req.Title, req.Query, req.DataType)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message": "Column created successfully",
		"column":  column,
	})
}

// GetReview handles GET /reviews/:id.
func (c *ReviewController) GetReview(ctx *gin.Context) {
	view, err := c.reviews.GetReview(ownerID(ctx), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

// RunExtraction handles POST /reviews/:id/extract. A partially failed run is
// still HTTP 200: failed > 0 with per-pair errors in results.
func (c *ReviewController) RunExtraction(ctx *gin.Context) {
	summary, err := c.extraction.RunExtraction(ctx.Request.Context(), ownerID(ctx), ctx.Param("id"), ctx.Query("column_id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, summary)
}

// Highlight handles POST /highlight: locate citations (and an optional live
// search string) inside document text the client already holds. An empty
// range list is a valid answer, rendered client-side as "citation not found
// — document may have changed".
func (c *ReviewController) Highlight(ctx *gin.Context) {
	var req struct {
		DocumentText string   `json:"document_text" binding:"required"`
		Citations    []string `json:"citations"`
		LiveQuery    string   `json:"live_query"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ranges := anchor.Locate(req.DocumentText, req.Citations, req.LiveQuery)
	ctx.JSON(http.StatusOK, gin.H{
		"ranges": ranges,
		"found":  len(ranges) > 0,
	})
}

// SearchDocuments handles GET /search.
func (c *ReviewController) SearchDocuments(ctx *gin.Context) {
	query := ctx.Query("q")
	if query == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'q' is required"})
		return
	}

	results, err := c.documents.SearchDocuments(query)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Search completed successfully",
		"results": results,
	})
}

// ServeProgress handles GET /ws/reviews/:id, the progress channel
// subscription. Ownership is checked before the upgrade.
func (c *ReviewController) ServeProgress(ctx *gin.Context) {
	reviewID := ctx.Param("id")
	if _, err := c.reviews.GetReview(ownerID(ctx), reviewID); err != nil {
		respondError(ctx, err)
		return
	}
	if err := channel.ServeWS(c.hub, reviewID, ctx.Writer, ctx.Request); err != nil {
		log.Printf("[ServeProgress] Websocket setup failed for review %s: %v", reviewID, err)
	}
}
