package download

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-harvest/internal/domain"
	"course-harvest/internal/httpx"
	"course-harvest/internal/session"
)

func TestFetchWritesFile(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 3000) // spans several chunks
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	d := New(srv.Client(), session.BuildRaw("Bearer t", session.Options{UserAgent: "ua"}), nil)
	dest := filepath.Join(t.TempDir(), "a", "b", "video.mp4")

	n, err := d.Fetch(context.Background(), srv.URL+"/v.mp4", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFetchDecodesGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("compressed attachment"))
	zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	// an explicit Accept-Encoding disables the transport's transparent gzip
	d := New(srv.Client(), session.BuildRaw("Bearer t", session.Options{}), nil)
	dest := filepath.Join(t.TempDir(), "notes.txt")

	n, err := d.Fetch(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("compressed attachment")), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "compressed attachment", string(got))
}

func TestFetchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusForbidden)
	}))
	defer srv.Close()

	d := New(srv.Client(), nil, nil)
	dest := filepath.Join(t.TempDir(), "x.bin")

	n, err := d.Fetch(context.Background(), srv.URL, dest)
	require.Error(t, err)
	assert.Zero(t, n)

	var herr *httpx.HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusForbidden, herr.StatusCode)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchChallenged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cf-Mitigated", "challenge")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New(srv.Client(), nil, nil).Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "v.mp4"))
	require.ErrorIs(t, err, domain.ErrSessionChallenged)

	var herr *httpx.HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusForbidden, herr.StatusCode)
}

type chunkRecorder struct{ sizes []int }

func (c *chunkRecorder) Write(p []byte) (int, error) {
	c.sizes = append(c.sizes, len(p))
	return len(p), nil
}

func TestCopyChunksBoundedBuffer(t *testing.T) {
	rec := &chunkRecorder{}
	n, err := copyChunks(rec, bytes.NewReader(make([]byte, 3*ChunkSize+10)))
	require.NoError(t, err)
	assert.Equal(t, int64(3*ChunkSize+10), n)
	for _, s := range rec.sizes {
		assert.LessOrEqual(t, s, ChunkSize)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestCopyChunksReadError(t *testing.T) {
	_, err := copyChunks(io.Discard, failingReader{})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
