// Package classify defines the narrow classification contract consumed by
// the import pipeline and an HTTP client implementation for the external
// classification service.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnavailable indicates the classification service is unreachable.
var ErrUnavailable = errors.New("classification service unavailable")

// Classification is the classifier's summary for one piece of content.
type Classification struct {
	Category     string  `json:"category"`
	ContentType  string  `json:"content_type"`
	Organization string  `json:"organization"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// Classifier assigns a classification to extracted content. Implementations
// may fail; callers substitute Fallback rather than aborting.
type Classifier interface {
	Classify(ctx context.Context, title, url, content string) (*Classification, error)
}

// Fallback is the low-confidence classification substituted when the
// classifier is unavailable, so a transient outage never blocks ingestion.
func Fallback(reason string) *Classification {
	return &Classification{
		Category:   "reference",
		Confidence: 0.1,
		Reasoning:  "classifier unavailable, default classification applied: " + reason,
	}
}

// Client is a JSON-over-HTTP Classifier.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a classification client against baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Classify sends a classification request to the service. Returns
// ErrUnavailable when the service cannot be reached.
func (c *Client) Classify(ctx context.Context, title, url, content string) (*Classification, error) {
	body, err := json.Marshal(classifyRequest{Title: title, URL: url, Content: content})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classification service returned %d", resp.StatusCode)
	}

	var result Classification
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result, nil
}
