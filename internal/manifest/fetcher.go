package manifest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	lerrors "github.com/ironpike/modloader/internal/errors"
)

const userAgent = "modloader/1.0"

// maxManifestSize caps the manifest body read to keep a misbehaving server
// from exhausting memory.
const maxManifestSize = 8 << 20

// Fetcher retrieves the remote manifest over HTTPS with conditional re-fetch.
// It caches the validator token (ETag) and the last parsed entries so an
// unchanged manifest is not re-downloaded.
type Fetcher struct {
	client *http.Client

	mu     sync.Mutex
	etag   string
	cached []Entry
}

// NewFetcher creates a Fetcher. A nil client falls back to http.DefaultClient;
// per-request deadlines come from the caller's context.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// Fetch retrieves and parses the manifest at url. A 304 response yields the
// previously parsed entries. Any network or parse failure aborts the fetch;
// no partial catalog is ever returned.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, lerrors.ManifestMalformed("invalid manifest url", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	f.mu.Lock()
	if f.etag != "" && f.cached != nil {
		req.Header.Set("If-None-Match", f.etag)
	}
	f.mu.Unlock()

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, lerrors.NetworkTimeout(url, err)
		}
		return nil, lerrors.ConnectionFailed(url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		f.mu.Lock()
		entries := f.cached
		f.mu.Unlock()
		if entries != nil {
			return entries, nil
		}
		// Server answered 304 without us holding a cached copy; treat as error.
		return nil, lerrors.HTTPStatus(url, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, lerrors.HTTPStatus(url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, lerrors.NetworkTimeout(url, err)
		}
		return nil, lerrors.ConnectionFailed(url, err)
	}

	entries, err := Parse(data)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.etag = resp.Header.Get("ETag")
	f.cached = entries
	f.mu.Unlock()

	return entries, nil
}
