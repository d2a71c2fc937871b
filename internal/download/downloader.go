// Package download retrieves package archives over the network, streaming to
// a staging file rather than buffering in memory.
package download

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	lerrors "github.com/ironpike/modloader/internal/errors"
	"github.com/ironpike/modloader/internal/logfields"
	"github.com/ironpike/modloader/internal/retry"
)

const userAgent = "modloader/1.0"

// chunkSize is the copy granularity; cancellation and progress are observed at
// chunk boundaries.
const chunkSize = 64 * 1024

// Progress is invoked after each chunk with the running byte count and the
// expected total (0 when unknown). Implementations must not block.
type Progress func(received, total int64)

// Downloader streams package archives to disk with retry on transient failures.
type Downloader struct {
	client *http.Client
	policy retry.Policy
}

// NewDownloader creates a Downloader. A nil client falls back to
// http.DefaultClient; deadlines come from the caller's context.
func NewDownloader(client *http.Client, policy retry.Policy) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{client: client, policy: policy}
}

// Download fetches url into dest. Transient failures (connection errors,
// timeouts, 5xx) are retried with backoff and jitter up to the policy budget;
// non-retryable failures surface immediately. The destination file is
// truncated between attempts so a retry never appends to a partial body.
func (d *Downloader) Download(ctx context.Context, url, dest string, expectedSize int64, progress Progress) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = d.attempt(ctx, url, dest, expectedSize, progress)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Cancellation is not a transfer failure; surface it as-is.
			return ctx.Err()
		}
		if !lerrors.IsRetryable(lastErr) || attempt >= d.policy.MaxRetries {
			return lastErr
		}

		delay := d.policy.Delay(attempt + 1)
		slog.Debug("Retrying download after transient failure",
			logfields.URL(url), logfields.Attempt(attempt+1), logfields.Error(lastErr),
			slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// attempt performs a single transfer into dest.
func (d *Downloader) attempt(ctx context.Context, url, dest string, expectedSize int64, progress Progress) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return lerrors.ConnectionFailed(url, err).WithRetryable(false)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return lerrors.NetworkTimeout(url, err)
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return lerrors.ConnectionFailed(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return lerrors.HTTPStatus(url, resp.StatusCode)
	}

	total := expectedSize
	if total <= 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	f, err := os.Create(dest)
	if err != nil {
		return lerrors.FilesystemIO(dest, err)
	}
	defer f.Close()

	received, err := copyChunks(ctx, f, resp.Body, total, progress)
	if err != nil {
		return classifyCopyError(url, dest, err)
	}
	if expectedSize > 0 && received != expectedSize {
		return lerrors.TruncatedTransfer(url, received, expectedSize)
	}
	if err := f.Sync(); err != nil {
		return lerrors.FilesystemIO(dest, err)
	}
	return nil
}

// copyChunks streams body to f in fixed-size chunks, checking ctx and emitting
// progress at each boundary.
func copyChunks(ctx context.Context, f *os.File, body io.Reader, total int64, progress Progress) (int64, error) {
	buf := make([]byte, chunkSize)
	var received int64
	for {
		if err := ctx.Err(); err != nil {
			return received, err
		}
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return received, werr
			}
			received += int64(n)
			if progress != nil {
				progress(received, total)
			}
		}
		if err == io.EOF {
			return received, nil
		}
		if err != nil {
			return received, err
		}
	}
}

// classifyCopyError maps a mid-stream failure onto the error taxonomy.
func classifyCopyError(url, dest string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return lerrors.NetworkTimeout(url, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, os.ErrPermission):
		return lerrors.PermissionDenied(dest, err)
	case isWriteError(err):
		return lerrors.FilesystemIO(dest, err)
	default:
		// Connection reset, unexpected EOF and friends are transient.
		return lerrors.ConnectionFailed(url, err)
	}
}

// isWriteError reports whether err came from the local file rather than the
// network read side.
func isWriteError(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}
