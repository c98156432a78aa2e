package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HTTPError carries status/body for non-2xx responses.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s %s: %s", e.StatusCode, e.Method, e.URL, snippet(e.Body, 900))
}

// RetryAfter is the server's requested wait, or 0.
func (e *HTTPError) RetryAfter() time.Duration {
	return retryAfter(e.Header, time.Now())
}

// ChallengeError means the response is a bot-protection page (Cloudflare
// interstitial or an HTML body where JSON was expected). Retrying with the
// same cookies does not help; the browser session has to be renewed.
type ChallengeError struct {
	URL        string
	StatusCode int
	Ray        string // cf-ray, when present
	Err        error  // the underlying *HTTPError, if any
}

func (e *ChallengeError) Error() string {
	msg := fmt.Sprintf("bot challenge: %s status=%d", e.URL, e.StatusCode)
	if e.Ray != "" {
		msg += " ray=" + e.Ray
	}
	return msg
}

func (e *ChallengeError) Unwrap() error { return e.Err }

// IsChallenge reports whether err is or wraps a *ChallengeError.
func IsChallenge(err error) bool {
	var ce *ChallengeError
	return errors.As(err, &ce)
}

// Classify turns a finished exchange into nil (2xx), *ChallengeError or
// *HTTPError. body may be a prefix of the full body.
func Classify(req *http.Request, resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	herr := &HTTPError{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}
	if isChallenge(resp, body) {
		return &ChallengeError{
			URL:        herr.URL,
			StatusCode: resp.StatusCode,
			Ray:        resp.Header.Get("Cf-Ray"),
			Err:        herr,
		}
	}
	return herr
}

func isChallenge(resp *http.Response, body []byte) bool {
	if strings.EqualFold(resp.Header.Get("Cf-Mitigated"), "challenge") {
		return true
	}
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusServiceUnavailable:
		server := strings.ToLower(resp.Header.Get("Server"))
		return strings.Contains(server, "cloudflare") && LooksLikeHTML(body)
	}
	return false
}

// RetryConfig controls retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// MaxRetryAfter caps how long a Retry-After is honoured. A longer
	// requested wait ends the retries and returns the 429.
	MaxRetryAfter time.Duration

	Retry5xx      bool
	RetryStatuses map[int]bool

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		BaseDelay:     700 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		MaxRetryAfter: 2 * time.Minute,
		Retry5xx:      true,
		RetryStatuses: map[int]bool{
			http.StatusTooManyRequests: true,
			http.StatusRequestTimeout:  true,
			http.StatusTooEarly:        true,
		},
	}
}

// NoRetry performs a single attempt.
func NoRetry() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 1
	return cfg
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		return def
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = def.MaxRetryAfter
	}
	if cfg.RetryStatuses == nil {
		cfg.RetryStatuses = def.RetryStatuses
	}
	return cfg
}

// nextWait decides whether err is worth another attempt and how long to
// wait first.
func (cfg RetryConfig) nextWait(err error, attempt int) (time.Duration, bool) {
	if IsChallenge(err) {
		return 0, false
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		code := herr.StatusCode
		if !cfg.RetryStatuses[code] && !(cfg.Retry5xx && code >= 500 && code <= 599) {
			return 0, false
		}
		if ra := herr.RetryAfter(); ra > 0 {
			if ra > cfg.MaxRetryAfter {
				return 0, false
			}
			return ra, true
		}
		return cfg.backoff(attempt), true
	}
	if isTransient(err) {
		return cfg.backoff(attempt), true
	}
	return 0, false
}

// backoff doubles from BaseDelay up to MaxDelay, plus up to 400ms jitter.
func (cfg RetryConfig) backoff(attempt int) time.Duration {
	d := cfg.MaxDelay
	if attempt < 31 {
		d = min(cfg.BaseDelay<<(attempt-1), cfg.MaxDelay)
	}
	return d + rand.N(400*time.Millisecond)
}

// DoWithRetry sends the request built by buildReq until it succeeds, fails
// permanently or cfg.MaxAttempts is reached. The body is always read in
// full and decoded per Content-Encoding.
func DoWithRetry(
	ctx context.Context,
	client *http.Client,
	buildReq func(context.Context) (*http.Request, error),
	cfg RetryConfig,
) (*http.Response, []byte, error) {
	cfg = cfg.withDefaults()

	for attempt := 1; ; attempt++ {
		req, err := buildReq(ctx)
		if err != nil {
			return nil, nil, err
		}

		resp, body, err := roundTrip(client, req)
		if err == nil {
			if err = Classify(req, resp, body); err == nil {
				return resp, body, nil
			}
		}

		wait, ok := cfg.nextWait(err, attempt)
		if !ok || attempt >= cfg.MaxAttempts {
			return resp, body, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, nil, err
		}
	}
}

func roundTrip(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	rc, err := DecodeBody(resp)
	if err != nil {
		return resp, nil, err
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	return resp, body, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isTransient reports connection-level failures that a new attempt may fix.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// ParseRetryAfter parses Retry-After (seconds or HTTP date); 0 when absent.
func ParseRetryAfter(resp *http.Response) time.Duration {
	return retryAfter(resp.Header, time.Now())
}

func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// DoJSON runs DoWithRetry and unmarshals the body into out. An HTML body
// on a 2xx is reported as a *ChallengeError.
func DoJSON(
	ctx context.Context,
	client *http.Client,
	buildReq func(context.Context) (*http.Request, error),
	out any,
	cfg RetryConfig,
) error {
	resp, body, err := DoWithRetry(ctx, client, buildReq, cfg)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if LooksLikeHTML(body) {
		ce := &ChallengeError{StatusCode: resp.StatusCode, Ray: resp.Header.Get("Cf-Ray")}
		if resp.Request != nil {
			ce.URL = resp.Request.URL.String()
		}
		return ce
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("json parse error: %w body=%s", err, snippet(body, 900))
	}
	return nil
}

// LooksLikeHTML reports whether a body is an HTML page rather than JSON.
func LooksLikeHTML(b []byte) bool {
	s := strings.ToLower(strings.TrimSpace(string(b[:min(len(b), 64)])))
	return strings.HasPrefix(s, "<!doctype") || strings.HasPrefix(s, "<html")
}

func snippet(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
