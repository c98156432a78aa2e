package httpx

import (
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// BrowserAcceptEncoding mirrors what a desktop browser advertises. Setting it
// explicitly disables net/http's transparent gzip, so every body read through
// this package goes via DecodeBody.
const BrowserAcceptEncoding = "gzip, deflate, br"

// DecodeBody wraps resp.Body according to Content-Encoding.
// Closing the returned reader does not close resp.Body.
func DecodeBody(resp *http.Response) (io.ReadCloser, error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch enc {
	case "", "identity":
		return io.NopCloser(resp.Body), nil
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("httpx: gzip body: %w", err)
		}
		return zr, nil
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("httpx: deflate body: %w", err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("httpx: unsupported content-encoding %q", enc)
	}
}
