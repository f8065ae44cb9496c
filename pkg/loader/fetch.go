package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/zurustar/kagami/pkg/fileutil"
)

// MaxResponseSize bounds the body of a single fetch.
const MaxResponseSize = 64 << 20

// Fetcher retrieves the bytes behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// FileFetcher reads relative paths and file: URLs from a file system.
type FileFetcher struct {
	FS fileutil.FileSystem
}

func (f FileFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Scheme == "file" {
		name = u.Path
	}
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	data, err := f.FS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return data, nil
}

// HTTPFetcher performs GET requests.
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if len(data) > MaxResponseSize {
		return nil, fmt.Errorf("fetch %s: response exceeds %d bytes", rawURL, MaxResponseSize)
	}
	return data, nil
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP status %d", e.URL, e.Code)
}

// SchemeFetcher sends http and https URLs to HTTP and everything else to
// File.
type SchemeFetcher struct {
	File Fetcher
	HTTP Fetcher
}

func (f SchemeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	lower := strings.ToLower(rawURL)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if f.HTTP == nil {
			return nil, fmt.Errorf("fetch %s: network access is disabled", rawURL)
		}
		return f.HTTP.Fetch(ctx, rawURL)
	}
	if f.File == nil {
		return nil, fmt.Errorf("fetch %s: no file system", rawURL)
	}
	return f.File.Fetch(ctx, rawURL)
}
