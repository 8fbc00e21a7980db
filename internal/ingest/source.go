package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	agerr "github.com/byraadsarkiv/agendex/internal/errors"
)

// SourceDocument is one change-feed entry from the publication system.
type SourceDocument struct {
	ID          string    `json:"id"`
	Version     int64     `json:"version"`
	SourceType  string    `json:"source_type"`
	Committee   string    `json:"committee"`
	CaseNumber  string    `json:"case_number"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	Deleted     bool      `json:"deleted"`

	// Text is the document body when delivered inline; ContentURL points
	// to the raw payload (PDF attachment) otherwise.
	Text        string `json:"text,omitempty"`
	ContentURL  string `json:"content_url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Source abstracts the external change feed so the pipeline is testable
// without a live publication system.
type Source interface {
	// Changes returns feed entries after cursor, oldest first, plus the
	// cursor to resume from. An empty cursor starts from the beginning.
	Changes(ctx context.Context, cursor string, limit int) ([]*SourceDocument, string, error)

	// FetchContent downloads the raw payload of an attachment entry.
	FetchContent(ctx context.Context, doc *SourceDocument) ([]byte, error)
}

// HTTPSourceConfig configures the feed client.
type HTTPSourceConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// HTTPSource reads the publication API's change feed over HTTP, rate-limited
// to stay polite against the council's infrastructure. Network and 5xx
// failures come back transient so the pipeline retries them.
type HTTPSource struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	timeout time.Duration
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates a feed client.
func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("source base URL is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPSource{
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
	}, nil
}

type changesResponse struct {
	Documents  []*SourceDocument `json:"documents"`
	NextCursor string            `json:"next_cursor"`
}

// Changes fetches one page of the change feed.
func (s *HTTPSource) Changes(ctx context.Context, cursor string, limit int) ([]*SourceDocument, string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	u := s.baseURL + "/changes?cursor=" + url.QueryEscape(cursor) + "&limit=" + strconv.Itoa(limit)
	body, err := s.get(ctx, u)
	if err != nil {
		return nil, "", agerr.Transient("fetch changes", err)
	}

	var page changesResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", fmt.Errorf("decode change feed: %w", err)
	}
	return page.Documents, page.NextCursor, nil
}

// FetchContent downloads an attachment payload.
func (s *HTTPSource) FetchContent(ctx context.Context, doc *SourceDocument) ([]byte, error) {
	if doc.ContentURL == "" {
		return nil, fmt.Errorf("document %s has no content URL", doc.ID)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := s.get(ctx, doc.ContentURL)
	if err != nil {
		return nil, agerr.Transient("fetch content", err)
	}
	return body, nil
}

func (s *HTTPSource) get(ctx context.Context, u string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d from %s: %s", resp.StatusCode, u, string(msg))
	}
	return io.ReadAll(resp.Body)
}
