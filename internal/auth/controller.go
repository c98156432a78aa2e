package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"course-harvest/internal/domain"
	"course-harvest/internal/logging"
)

// Request is an outgoing browser request as seen by the listener.
// Header names are lower-cased.
type Request struct {
	URL     string
	Headers map[string]string
}

// Page is the slice of a browser tab the controller drives.
type Page interface {
	// OnRequest installs the request listener. fn must not block.
	OnRequest(fn func(Request))
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	// Storage dumps "localStorage" or "sessionStorage".
	Storage(ctx context.Context, area string) (map[string]string, error)
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}

// LoginProbe describes the visual signals of a logged-in page.
type LoginProbe struct {
	LoginURLFragment string   // page is still on the login flow while the URL contains this
	Selectors        []string // any present element means logged in
}

// AcquireRequest describes one acquisition attempt.
type AcquireRequest struct {
	LoginURL  string
	Endpoints []string // URL fragments whose requests carry credentials
	Timeout   time.Duration

	// Confirm, when non-nil, is the operator's "I have logged in" signal.
	Confirm <-chan struct{}
}

type State int32

const (
	StateStarted State = iota
	StateRacing
	StateCaptured
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateRacing:
		return "racing"
	case StateCaptured:
		return "captured"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Controller races passive request sniffing against active page polling to
// obtain an authentication artifact from an interactive browser login.
type Controller struct {
	Launcher     Launcher
	Probe        LoginProbe
	PollInterval time.Duration
	SettleDelay  time.Duration
	RetryDelay   time.Duration

	logger *log.Logger
	state  atomic.Int32
}

func NewController(launcher Launcher, probe LoginProbe, logger *log.Logger) *Controller {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Controller{
		Launcher:     launcher,
		Probe:        probe,
		PollInterval: time.Second,
		SettleDelay:  4 * time.Second,
		RetryDelay:   3 * time.Second,
		logger:       logger,
	}
}

func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Debug().Str("state", s.String()).Msg("auth state")
}

// Acquire opens a browser on the login page and waits until either path
// produces a usable artifact or the timeout elapses. Credentials are never
// entered by the controller; the operator logs in by hand.
func (c *Controller) Acquire(ctx context.Context, req AcquireRequest) (Artifact, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	c.setState(StateStarted)

	page, err := c.Launcher.Launch(ctx)
	if err != nil {
		return Artifact{}, c.fail(ctx, fmt.Errorf("auth: launch browser: %w", err))
	}
	defer func() {
		if err := page.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("close browser")
		}
	}()

	slot := newHandoff()
	page.OnRequest(func(r Request) { c.inspect(r, req.Endpoints, slot) })

	c.logger.Info().Str("url", req.LoginURL).Msg("opening login page; complete the login in the browser window")
	if err := page.Navigate(ctx, req.LoginURL); err != nil {
		return Artifact{}, c.fail(ctx, fmt.Errorf("auth: navigate: %w", err))
	}

	raceCtx, stopRace := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.poll(raceCtx, page, slot)
	}()
	stop := func() {
		stopRace()
		wg.Wait()
	}
	// runs before page.Close
	defer stop()

	c.setState(StateRacing)
	got, err := c.await(ctx, page, slot, req.Confirm)
	if err != nil {
		return Artifact{}, c.fail(ctx, err)
	}
	stop()

	if got.artifact.Kind == KindBearer {
		c.setState(StateCaptured)
		c.logger.Info().Str("source", got.source).Msg("captured bearer token")
		return got.artifact, nil
	}

	local := c.snapshot(ctx, page, "localStorage")
	session := c.snapshot(ctx, page, "sessionStorage")
	art, err := NewCookieBundle(got.cookie, local, session)
	if err != nil {
		return Artifact{}, c.fail(ctx, err)
	}
	c.setState(StateCaptured)
	c.logger.Info().
		Str("source", got.source).
		Strs("cookies", cookieNames(got.cookie)).
		Int("local_storage", len(local)).
		Int("session_storage", len(session)).
		Msg("captured cookie session")
	return art, nil
}

func (c *Controller) await(ctx context.Context, page Page, slot *handoff, confirm <-chan struct{}) (capture, error) {
	if confirm != nil {
		select {
		case <-confirm:
		case <-ctx.Done():
			return capture{}, ctx.Err()
		}
		if got, ok := slot.Take(); ok {
			return got, nil
		}
		if header, ok := c.readJar(ctx, page); ok {
			return capture{cookie: header, source: "confirmation"}, nil
		}
		c.logger.Warn().Msg("login confirmed but session cookies are incomplete; still waiting")
	}

	select {
	case got := <-slot.C():
		return got, nil
	case <-ctx.Done():
		return capture{}, ctx.Err()
	}
}

// fail maps deadline expiry to ErrAuthenticationTimeout.
func (c *Controller) fail(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.setState(StateTimedOut)
		return fmt.Errorf("auth: %w", domain.ErrAuthenticationTimeout)
	}
	return err
}

// inspect runs on the browser's event goroutine.
func (c *Controller) inspect(r Request, endpoints []string, slot *handoff) {
	if !matchesAny(r.URL, endpoints) {
		return
	}
	if token := r.Headers["authorization"]; token != "" {
		if slot.Offer(capture{artifact: Bearer(token), source: "request"}) {
			c.logger.Debug().Str("url", r.URL).Msg("authorization header captured")
		}
		return
	}
	cookie := r.Headers["cookie"]
	if cookie == "" {
		return
	}
	if missing := MissingCookies(cookie); len(missing) > 0 {
		c.logger.Debug().Str("url", r.URL).Strs("missing", missing).Msg("ignoring partial cookie header")
		return
	}
	if slot.Offer(capture{cookie: cookie, source: "request"}) {
		c.logger.Debug().Str("url", r.URL).Msg("cookie header captured")
	}
}

func (c *Controller) poll(ctx context.Context, page Page, slot *handoff) {
	for {
		if c.loggedIn(ctx, page) {
			c.logger.Info().Msg("login detected; waiting for cookies to settle")
			if !sleepCtx(ctx, c.SettleDelay) {
				return
			}
			if header, ok := c.readJar(ctx, page); ok {
				slot.Offer(capture{cookie: header, source: "poll"})
				return
			}
			if !sleepCtx(ctx, c.RetryDelay) {
				return
			}
			continue
		}
		if !sleepCtx(ctx, c.PollInterval) {
			return
		}
	}
}

func (c *Controller) loggedIn(ctx context.Context, page Page) bool {
	u, err := page.URL(ctx)
	if err != nil {
		return false
	}
	if c.Probe.LoginURLFragment != "" && strings.Contains(u, c.Probe.LoginURLFragment) {
		return false
	}
	for _, sel := range c.Probe.Selectors {
		if ok, err := page.Exists(ctx, sel); err == nil && ok {
			return true
		}
	}
	return false
}

// readJar joins the browser cookie jar into a header. ok is false when the
// jar cannot be read or lacks a required cookie.
func (c *Controller) readJar(ctx context.Context, page Page) (string, bool) {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("read cookie jar")
		return "", false
	}
	header := JoinCookies(cookies)
	if missing := MissingCookies(header); len(missing) > 0 {
		c.logger.Info().Strs("missing", missing).Msg("cookie jar incomplete")
		return "", false
	}
	return header, true
}

func (c *Controller) snapshot(ctx context.Context, page Page, area string) map[string]string {
	m, err := page.Storage(ctx, area)
	if err != nil {
		c.logger.Debug().Err(err).Str("area", area).Msg("storage snapshot failed")
		return map[string]string{}
	}
	return nonNil(m)
}

func matchesAny(url string, fragments []string) bool {
	for _, f := range fragments {
		if f != "" && strings.Contains(url, f) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
