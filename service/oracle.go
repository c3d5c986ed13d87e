package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// Extraction is the oracle's answer for one (query, document) pair.
type Extraction struct {
	Value            string
	CitationText     string
	CitationPosition int // character offset in the document text, -1 when unknown
	Confidence       float64
}

// Oracle performs one extraction given a natural-language query and the
// document text. Implementations are selected once at startup and injected;
// call sites never inspect the environment themselves.
type Oracle interface {
	Extract(ctx context.Context, query, documentText string) (*Extraction, error)
}

// NewOracleFromEnv picks the oracle implementation a single time: the
// model-backed variant when GROQ_API_KEY is set, the deterministic stub
// otherwise.
func NewOracleFromEnv() Oracle {
	apiKey := strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
	if apiKey == "" {
		log.Println("GROQ_API_KEY not set, using stub oracle")
		return &StubOracle{}
	}
	log.Println("Using Groq-backed oracle")
	return NewGroqOracle(apiKey)
}

// StubOracle is the deterministic offline variant: it synthesizes a value
// from the query and the document text and always succeeds. Used for tests
// and local development without an API key.
type StubOracle struct{}

func (o *StubOracle) Extract(ctx context.Context, query, documentText string) (*Extraction, error) {
	sum := sha256.Sum256([]byte(documentText))
	snippet := documentText
	if len(snippet) > 80 {
		snippet = snippet[:80]
	}
	return &Extraction{
		Value:            fmt.Sprintf("stub(%s)@%x", query, sum[:4]),
		CitationText:     strings.TrimSpace(snippet),
		CitationPosition: 0,
		Confidence:       0.95,
	}, nil
}

const (
	groqEndpoint = "https://api.groq.com/openai/v1/chat/completions"
	groqModel    = "llama-3.3-70b-versatile"

	// defaultConfidence is assumed when the model omits the confidence
	// field entirely.
	defaultConfidence = 0.5
)

// GroqOracle issues one structured-output chat completion per cell against
// the Groq OpenAI-compatible API.
type GroqOracle struct {
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
}

func NewGroqOracle(apiKey string) *GroqOracle {
	return &GroqOracle{
		apiKey:   apiKey,
		endpoint: groqEndpoint,
		model:    groqModel,
		client: &http.Client{
			Timeout: 45 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     45 * time.Second,
				TLSHandshakeTimeout: 15 * time.Second,
			},
		},
	}
}

// oraclePayload is the strict output schema the model must produce. Anything
// that fails to parse into this shape is an OracleError, never coerced.
type oraclePayload struct {
	Value    string `json:"value"`
	Citation struct {
		Text     string `json:"text"`
		Position *int   `json:"position"`
	} `json:"citation"`
	Confidence *float64 `json:"confidence"`
}

func (o *GroqOracle) Extract(ctx context.Context, query, documentText string) (*Extraction, error) {
	prompt := fmt.Sprintf(`Extract the answer to the following question from the document below.

Question: %s

Document:
%s

Instructions:
1. Answer with the extracted value only, as a short string.
2. Quote the exact passage of the document that supports the value.
3. Report the character offset of that passage in the document, or null if unsure.
4. Report a confidence between 0 and 1.
5. If the document does not contain the answer, use an empty value with confidence 0.

Response Format:
{
    "value": "...",
    "citation": {"text": "...", "position": 123},
    "confidence": 0.9
}`, query, documentText)

	reqBody, err := json.Marshal(map[string]interface{}{
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"model":       o.model,
		"temperature": 0.1,
		"max_tokens":  500,
		"response_format": map[string]string{
			"type": "json_object",
		},
	})
	if err != nil {
		return nil, &OracleError{Message: "failed to create request body", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &OracleError{Message: "failed to create request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &OracleError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &OracleError{Message: fmt.Sprintf("non-200 status code: %d, response: %s", resp.StatusCode, string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &OracleError{Message: "failed to read response", Err: err}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &OracleError{Message: "failed to parse response structure", Err: err}
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return nil, &OracleError{Message: "empty completion"}
	}

	var payload oraclePayload
	if err := json.Unmarshal([]byte(result.Choices[0].Message.Content), &payload); err != nil {
		log.Printf("[GroqOracle] Schema-invalid content: %s", result.Choices[0].Message.Content)
		return nil, &OracleError{Message: "schema-invalid output", Err: err}
	}

	extraction := &Extraction{
		Value:            payload.Value,
		CitationText:     payload.Citation.Text,
		CitationPosition: -1,
		Confidence:       defaultConfidence,
	}
	if payload.Citation.Position != nil {
		extraction.CitationPosition = *payload.Citation.Position
	}
	if payload.Confidence != nil {
		extraction.Confidence = clampConfidence(*payload.Confidence)
	}
	return extraction, nil
}

// clampConfidence forces a model-reported confidence into [0,1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
