package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultMaxFetchBytes matches the inline payload limit of the model
// providers with some headroom for container overhead.
const defaultMaxFetchBytes = 32 << 20

// Compile-time assertion that HTTPFetcher implements Fetcher.
var _ Fetcher = (*HTTPFetcher)(nil)

// FetchOption configures an HTTPFetcher.
type FetchOption func(*HTTPFetcher)

// WithHTTPClient overrides the HTTP client. Defaults to a client with a
// 60 s timeout.
func WithHTTPClient(c *http.Client) FetchOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithMaxBytes caps the number of bytes read from a response body.
func WithMaxBytes(n int64) FetchOption {
	return func(f *HTTPFetcher) { f.maxBytes = n }
}

// HTTPFetcher fetches resolved URLs with plain GET requests.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher returns an HTTPFetcher with the given options applied.
func NewHTTPFetcher(opts ...FetchOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:   &http.Client{Timeout: 60 * time.Second},
		maxBytes: defaultMaxFetchBytes,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch implements [Fetcher].
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("blob: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("blob: fetch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", fmt.Errorf("blob: fetch %s: %w", url, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("blob: fetch: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("blob: read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", errors.New("blob: fetch: body exceeds size limit")
	}
	return data, resp.Header.Get("Content-Type"), nil
}
