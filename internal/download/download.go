// Package download streams a single remote file to disk with the session's
// headers attached.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/phuslu/log"

	"course-harvest/internal/domain"
	"course-harvest/internal/httpx"
	"course-harvest/internal/logging"
	"course-harvest/internal/session"
)

// ChunkSize is the read/write unit of the transfer loop.
const ChunkSize = 8192

type Downloader struct {
	HTTP    *http.Client
	Session *session.Session
	logger  *log.Logger
}

func New(client *http.Client, sess *session.Session, logger *log.Logger) *Downloader {
	if client == nil {
		// sin timeout global: un video largo puede tardar bastante
		client = &http.Client{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Downloader{HTTP: client, Session: sess, logger: logger}
}

// Fetch writes the body of url to dest and returns the number of bytes
// written. Missing parent directories are created. A failed transfer may
// leave a partial file behind.
func (d *Downloader) Fetch(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("download: build request: %w", err)
	}
	if d.Session != nil {
		d.Session.Apply(req)
	}

	start := time.Now()
	resp, err := d.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sample, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := httpx.Classify(req, resp, sample)
		if httpx.IsChallenge(err) {
			return 0, fmt.Errorf("%w: %w", domain.ErrSessionChallenged, err)
		}
		return 0, err
	}

	body, err := httpx.DecodeBody(resp)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("download: create dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("download: create file: %w", err)
	}

	written, err := copyChunks(f, body)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("download: close file: %w", cerr)
	}
	if err != nil {
		return written, err
	}

	d.logger.Debug().
		Str("dest", dest).
		Str("size", humanize.Bytes(uint64(written))).
		Dur("took", time.Since(start)).
		Msg("downloaded")
	return written, nil
}

func copyChunks(w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("download: write: %w", werr)
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("download: read body: %w", rerr)
		}
	}
}
