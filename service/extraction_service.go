package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/docsift/DocSift/channel"
	model "github.com/docsift/DocSift/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultWorkers      = 4
	defaultContextChars = 8000
	defaultTimeout      = 30 * time.Second
)

// ExtractionService is the coordinator: it resolves the (column, document)
// work set for a run, calls the oracle per cell through a bounded worker
// pool, upserts results idempotently, and streams progress to the hub.
type ExtractionService struct {
	db      *gorm.DB
	oracle  Oracle
	hub     *channel.Hub
	reviews *ReviewService

	// workers bounds concurrent oracle calls; contextChars bounds the
	// document prefix sent per call; timeout bounds each oracle call.
	workers      int
	contextChars int
	timeout      time.Duration

	// runLocks serializes runs per review. Triples inside a single run are
	// distinct, so run-level serialization is all that is needed to keep
	// same-triple writes from racing.
	runMu    sync.Mutex
	runLocks map[string]*sync.Mutex
}

func NewExtractionService(db *gorm.DB, oracle Oracle, hub *channel.Hub, reviews *ReviewService) *ExtractionService {
	return &ExtractionService{
		db:           db,
		oracle:       oracle,
		hub:          hub,
		reviews:      reviews,
		workers:      envInt("EXTRACTION_WORKERS", defaultWorkers),
		contextChars: envInt("ORACLE_CONTEXT_CHARS", defaultContextChars),
		timeout:      time.Duration(envInt("ORACLE_TIMEOUT_SECONDS", int(defaultTimeout/time.Second))) * time.Second,
		runLocks:     make(map[string]*sync.Mutex),
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Printf("Ignoring invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return n
}

// CellResult reports the outcome for one (column, document) pair.
type CellResult struct {
	ColumnID   string `json:"column_id"`
	DocumentID string `json:"document_id"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// RunSummary is the aggregate result of one extraction run. A run with
// failures is still a successful request: failed counts them and Results
// says which pairs failed and why.
type RunSummary struct {
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Results   []CellResult `json:"results"`
}

// workItem is one cell's worth of work.
type workItem struct {
	column   model.Column
	document model.Document
}

// RunExtraction executes a batch run over the review's document set. When
// columnID is non-empty the run covers that single column, otherwise every
// column of the review. Request-level failures (validation, not found,
// forbidden) abort before any oracle call; per-cell oracle failures are
// isolated and reported in the summary.
//
// Re-running with unchanged inputs yields an identical cell set: every write
// is an upsert keyed by the (review, column, document) triple.
func (s *ExtractionService) RunExtraction(ctx context.Context, ownerID, reviewID, columnID string) (*RunSummary, error) {
	review, err := s.reviews.getOwnedReview(reviewID, ownerID)
	if err != nil {
		return nil, err
	}

	columns, err := s.resolveColumns(reviewID, columnID)
	if err != nil {
		return nil, err
	}

	documents, err := s.reviews.reviewDocuments(reviewID)
	if err != nil {
		return nil, err
	}
	if len(documents) == 0 {
		return nil, &ValidationError{Message: "review has no documents to process"}
	}

	// One run at a time per review; runs for other reviews proceed freely.
	lock := s.reviewLock(reviewID)
	lock.Lock()
	defer lock.Unlock()

	log.Printf("[RunExtraction] Review %s: %d columns x %d documents (%d workers)",
		reviewID, len(columns), len(documents), s.workers)

	jobs := make(chan workItem)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  []CellResult
		progress = make(map[string]int, len(columns))
	)

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				result := s.processCell(ctx, review, item.column, item.document)

				mu.Lock()
				results = append(results, result)
				progress[item.column.ID]++
				done := progress[item.column.ID]
				mu.Unlock()

				s.hub.Publish(reviewID, channel.Event{
					Type:     channel.EventExtractionProgress,
					ColumnID: item.column.ID,
					Progress: done,
					Total:    len(documents),
				})
			}
		}()
	}

	// Feed the pool; the request context is honored at iteration
	// boundaries only, never mid-oracle-call.
feed:
	for _, column := range columns {
		for _, document := range documents {
			if ctx.Err() != nil {
				log.Printf("[RunExtraction] Context cancelled, stopping feed for review %s", reviewID)
				break feed
			}
			jobs <- workItem{column: column, document: document}
		}
	}
	close(jobs)
	wg.Wait()

	summary := &RunSummary{Results: results}
	for _, r := range results {
		if r.Success {
			summary.Processed++
		} else {
			summary.Failed++
		}
	}
	log.Printf("[RunExtraction] Review %s done: processed=%d failed=%d", reviewID, summary.Processed, summary.Failed)
	return summary, nil
}

// resolveColumns loads the run's column selection, rejecting before any
// oracle work when the selection is empty or foreign.
func (s *ExtractionService) resolveColumns(reviewID, columnID string) ([]model.Column, error) {
	if columnID != "" {
		var column model.Column
		if err := s.db.First(&column, "id = ?", columnID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &NotFoundError{Resource: "column", ID: columnID}
			}
			return nil, fmt.Errorf("failed to fetch column: %w", err)
		}
		if column.ReviewID != reviewID {
			return nil, &NotFoundError{Resource: "column", ID: columnID}
		}
		return []model.Column{column}, nil
	}

	var columns []model.Column
	if err := s.db.Where("review_id = ?", reviewID).Order("position asc").Find(&columns).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, &ValidationError{Message: "review has no columns to process"}
	}
	return columns, nil
}

// processCell runs the oracle for one cell and persists the outcome. A
// failure here is always local: the cell is stored with status error and
// the batch continues.
func (s *ExtractionService) processCell(ctx context.Context, review *model.Review, column model.Column, document model.Document) CellResult {
	content := document.Content
	if len(content) > s.contextChars {
		content = content[:s.contextChars]
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	extraction, err := s.oracle.Extract(callCtx, column.Query, content)
	if err != nil {
		log.Printf("[processCell] Oracle failed for column %s document %s: %v", column.ID, document.ID, err)
		s.storeErrorCell(review.ID, column.ID, document.ID, err)
		s.hub.Publish(review.ID, channel.Event{Type: channel.EventError, Message: err.Error(), ColumnID: column.ID, FileID: document.ID})
		return CellResult{ColumnID: column.ID, DocumentID: document.ID, Success: false, Error: err.Error()}
	}

	cell := model.Cell{
		ReviewID:   review.ID,
		ColumnID:   column.ID,
		DocumentID: document.ID,
		Value:      extraction.Value,
		Confidence: clampConfidence(extraction.Confidence),
		Status:     model.CellStatusCompleted,
		UpdatedAt:  time.Now(),
	}
	if extraction.CitationText != "" {
		citation := &model.Citation{
			DocumentID: document.ID,
			Filename:   document.Filename,
			Text:       extraction.CitationText,
		}
		if extraction.CitationPosition >= 0 {
			citation.Position = extraction.CitationPosition
		}
		cell.SetCitation(citation)
	}

	stored, err := s.upsertCell(&cell)
	if err != nil {
		log.Printf("[processCell] Error saving cell for column %s document %s: %v", column.ID, document.ID, err)
		return CellResult{ColumnID: column.ID, DocumentID: document.ID, Success: false, Error: err.Error()}
	}

	// Fire-and-forget: delivery problems never affect the persisted cell.
	s.hub.Publish(review.ID, channel.Event{
		Type:       channel.EventCellUpdated,
		CellID:     stored.ID,
		FileID:     stored.DocumentID,
		ColumnID:   stored.ColumnID,
		CellValue:  stored.Value,
		Citation:   []byte(stored.Citation),
		Confidence: stored.Confidence,
		Status:     stored.Status,
	})

	return CellResult{ColumnID: column.ID, DocumentID: document.ID, Success: true}
}

// storeErrorCell records an oracle failure against the triple without
// touching any previously extracted value of sibling cells.
func (s *ExtractionService) storeErrorCell(reviewID, columnID, documentID string, cause error) {
	cell := model.Cell{
		ReviewID:     reviewID,
		ColumnID:     columnID,
		DocumentID:   documentID,
		Status:       model.CellStatusError,
		ErrorMessage: cause.Error(),
		UpdatedAt:    time.Now(),
	}
	if _, err := s.upsertCell(&cell); err != nil {
		log.Printf("[storeErrorCell] Error saving error cell: %v", err)
	}
}

// upsertCell writes the cell keyed by its triple: at most one live row per
// (review, column, document), last successful write wins. The canonical row
// is re-read afterwards so callers see the surviving cell id.
func (s *ExtractionService) upsertCell(cell *model.Cell) (*model.Cell, error) {
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "review_id"}, {Name: "column_id"}, {Name: "document_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"value", "citation", "confidence", "status", "error_message", "updated_at",
		}),
	}).Create(cell).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cell: %w", err)
	}

	var stored model.Cell
	err = s.db.Where("review_id = ? AND column_id = ? AND document_id = ?",
		cell.ReviewID, cell.ColumnID, cell.DocumentID).First(&stored).Error
	if err != nil {
		return nil, fmt.Errorf("failed to reload cell: %w", err)
	}
	return &stored, nil
}

func (s *ExtractionService) reviewLock(reviewID string) *sync.Mutex {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	lock, ok := s.runLocks[reviewID]
	if !ok {
		lock = &sync.Mutex{}
		s.runLocks[reviewID] = lock
	}
	return lock
}
