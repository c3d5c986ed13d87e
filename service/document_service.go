package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	model "github.com/docsift/DocSift/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/elastic/go-elasticsearch/v8"
	"gorm.io/gorm"
)

// DocumentService owns document ingest and lookup. The engine does not parse
// source file formats; callers post the extracted text and filename, and the
// service persists it, archives the raw text to S3 and indexes it in
// Elasticsearch when those are configured.
type DocumentService struct {
	db       *gorm.DB
	s3Client *s3.S3
	bucket   string
	esClient *elasticsearch.Client
}

// NewDocumentService initializes the service. Both S3 and Elasticsearch are
// optional: when their env vars are missing the service degrades to
// database-only storage rather than failing startup.
func NewDocumentService(db *gorm.DB) (*DocumentService, error) {
	svc := &DocumentService{db: db}

	region := os.Getenv("S3_REGION")
	endpoint := os.Getenv("S3_ENDPOINT")
	accessKey := os.Getenv("S3_ACCESS_KEY")
	secretKey := os.Getenv("S3_SECRET_KEY")
	svc.bucket = os.Getenv("S3_BUCKET")

	if region != "" && endpoint != "" && accessKey != "" && secretKey != "" && svc.bucket != "" {
		sess, err := session.NewSession(&aws.Config{
			Region:           aws.String(region),
			Endpoint:         aws.String(endpoint),
			Credentials:      credentials.NewStaticCredentials(accessKey, secretKey, ""),
			S3ForcePathStyle: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		svc.s3Client = s3.New(sess)
	} else {
		log.Println("S3 configuration incomplete, document archival disabled")
	}

	esURL := os.Getenv("ELASTICSEARCH_URL")
	if esURL != "" {
		esClient, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: []string{esURL},
		})
		if err != nil {
			log.Printf("Warning: Failed to create Elasticsearch client: %v", err)
		} else {
			svc.esClient = esClient
		}
	}

	return svc, nil
}

// IngestDocument stores a document's text and makes it available to reviews.
func (s *DocumentService) IngestDocument(filename, content string) (*model.Document, error) {
	if filename == "" {
		return nil, &ValidationError{Message: "filename is required"}
	}
	if content == "" {
		return nil, &ValidationError{Message: "content is required"}
	}

	doc := model.Document{
		Filename: filename,
		Content:  content,
	}

	// Archive the raw text first so the stored URL lands in the row.
	if s.s3Client != nil {
		key := fmt.Sprintf("%d-%s", time.Now().Unix(), filename)
		_, err := s.s3Client.PutObject(&s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader([]byte(content)),
			ContentType: aws.String("text/plain; charset=utf-8"),
		})
		if err != nil {
			// Archival is best effort; the database copy is authoritative.
			log.Printf("[IngestDocument] S3 archive error for %s: %v", filename, err)
		} else {
			doc.SourceURL = fmt.Sprintf("s3://%s/%s", s.bucket, key)
		}
	}

	if err := s.db.Create(&doc).Error; err != nil {
		log.Printf("[IngestDocument] Error saving document: %v", err)
		return nil, fmt.Errorf("failed to save document: %w", err)
	}
	log.Printf("[IngestDocument] Document %s (%s, %d chars) saved", doc.ID, filename, len(content))

	if err := s.indexDocument(&doc); err != nil {
		log.Printf("[IngestDocument] Elasticsearch indexing error: %v", err)
	}
	return &doc, nil
}

// indexDocument indexes the document in Elasticsearch. Indexing failures are
// logged and swallowed so they never break ingest.
func (s *DocumentService) indexDocument(doc *model.Document) error {
	if s.esClient == nil {
		return nil
	}

	payload := map[string]interface{}{
		"document_id": doc.ID,
		"filename":    doc.Filename,
		"content":     doc.Content,
		"timestamp":   time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal document for indexing: %w", err)
	}

	res, err := s.esClient.Index(
		"documents",
		bytes.NewReader(body),
		s.esClient.Index.WithDocumentID(doc.ID),
		s.esClient.Index.WithContext(context.Background()),
	)
	if err != nil {
		log.Printf("Elasticsearch indexing error: %v", err)
		return nil
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Printf("Elasticsearch indexing failed: %s", res.String())
		return nil
	}
	return nil
}

// SearchDocuments runs a literal full-text search over indexed documents.
// This is plain multi_match keyword search, not semantic retrieval.
func (s *DocumentService) SearchDocuments(query string) ([]map[string]interface{}, error) {
	if s.esClient == nil {
		return nil, fmt.Errorf("elasticsearch client is not initialized")
	}

	searchQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"content", "filename"},
			},
		},
	}
	body, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(context.Background()),
		s.esClient.Search.WithIndex("documents"),
		s.esClient.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search failed: %s", res.String())
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hitsMap, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid hits structure in search response")
	}
	hitsArray, ok := hitsMap["hits"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid hits array in search response")
	}

	var documents []map[string]interface{}
	for _, hit := range hitsArray {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}
		documents = append(documents, source)
	}
	return documents, nil
}

// GetDocument fetches one document by id.
func (s *DocumentService) GetDocument(documentID string) (*model.Document, error) {
	var doc model.Document
	if err := s.db.First(&doc, "id = ?", documentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Resource: "document", ID: documentID}
		}
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	return &doc, nil
}
