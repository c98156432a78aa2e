package httpx

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/andybalholm/brotli"
)

func brotliBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodedResponse(body []byte, encoding string) *http.Response {
	h := http.Header{}
	if encoding != "" {
		h.Set("Content-Encoding", encoding)
	}
	return &http.Response{StatusCode: 200, Header: h, Body: io.NopCloser(bytes.NewReader(body))}
}

func TestDecodeBody(t *testing.T) {
	const payload = `{"results":[],"next":null}`

	testCases := []struct {
		name     string
		body     []byte
		encoding string
	}{
		{"identity", []byte(payload), ""},
		{"brotli", brotliBytes(t, payload), "br"},
		{"gzip", gzipBytes(t, payload), "gzip"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rc, err := DecodeBody(encodedResponse(tc.body, tc.encoding))
			if err != nil {
				t.Fatalf(expectedNoError, err)
			}
			defer rc.Close()

			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf(expectedNoError, err)
			}
			if string(got) != payload {
				t.Errorf(expectedBody, payload, string(got))
			}
		})
	}
}

func TestDecodeBodyUnsupported(t *testing.T) {
	if _, err := DecodeBody(encodedResponse([]byte("x"), "zstd")); err == nil {
		t.Error("Expected error for unsupported encoding")
	}
}

func TestDoJSONDecodesBrotli(t *testing.T) {
	client := newMockClient(
		[]*http.Response{newMockResponse(200, string(brotliBytes(t, `{"name":"br"}`)), map[string]string{"Content-Encoding": "br"})},
		[]error{nil},
	)

	buildReq := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, "GET", exampleURL, nil)
	}

	var out struct {
		Name string `json:"name"`
	}
	if err := DoJSON(context.Background(), client, buildReq, &out, NoRetry()); err != nil {
		t.Fatalf(expectedNoError, err)
	}
	if out.Name != "br" {
		t.Errorf("Expected name 'br', got %q", out.Name)
	}
}
