// Package sources provides the HTTP plumbing shared by external data sources.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dust-sweeper/internal/domain"
)

// DefaultTimeout bounds a single source request when the caller sets no deadline.
const DefaultTimeout = 10 * time.Second

// maxBodySize caps response bodies read from third-party APIs.
const maxBodySize = 4 << 20

// Fetcher performs templated GET requests against a JSON API.
type Fetcher struct {
	urlTemplate string
	apiKey      string
	client      *http.Client
}

// FetcherOption configures Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithAPIKey sets the key sent as X-API-Key.
func WithAPIKey(key string) FetcherOption {
	return func(f *Fetcher) {
		f.apiKey = key
	}
}

// NewFetcher creates a Fetcher. urlTemplate may contain {chain}, {chain_id}
// and {address} placeholders.
func NewFetcher(urlTemplate string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		urlTemplate: urlTemplate,
		client:      &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL expands the template for token.
func (f *Fetcher) URL(token domain.TokenRef) string {
	info := token.Chain.Info()
	r := strings.NewReplacer(
		"{chain}", info.Name,
		"{chain_id}", strconv.FormatInt(info.ChainID, 10),
		"{address}", token.Address,
	)
	return r.Replace(f.urlTemplate)
}

// Get fetches the expanded URL for token and returns the body.
// Non-2xx responses are errors.
func (f *Fetcher) Get(ctx context.Context, token domain.TokenRef) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(token), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("X-API-Key", f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
