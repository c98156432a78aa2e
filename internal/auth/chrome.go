package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// ChromeLauncher starts a local Chrome through chromedp. The window is
// visible unless Headless is set, since the operator has to log in by hand.
type ChromeLauncher struct {
	UserAgent string
	Headless  bool
	ExecPath  string
}

func (l ChromeLauncher) Launch(_ context.Context) (Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1280, 900),
	)
	if l.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.UserAgent))
	}
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	p := &chromePage{
		ctx:      browserCtx,
		requests: make(map[network.RequestID]*pendingRequest),
		release: func() {
			browserCancel()
			allocatorCancel()
		},
	}
	chromedp.ListenTarget(browserCtx, p.onEvent)

	// The first Run allocates the browser and ties it to the context it is
	// given, so it must be the tab context itself.
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		p.release()
		return nil, fmt.Errorf("enable network domain: %w", err)
	}
	return p, nil
}

type chromePage struct {
	ctx     context.Context
	release func()

	mu       sync.Mutex
	listener func(Request)
	requests map[network.RequestID]*pendingRequest
}

// pendingRequest joins the two halves of a request. Chrome may deliver
// ExtraInfo before or after RequestWillBeSent, or not at all.
type pendingRequest struct {
	url   string
	extra network.Headers // set when ExtraInfo arrived first
}

func (p *chromePage) OnRequest(fn func(Request)) {
	p.mu.Lock()
	p.listener = fn
	p.mu.Unlock()
}

// onEvent is called on chromedp's event goroutine; it must return quickly.
// Cookie headers are usually only visible in the ExtraInfo event, which is
// paired with its URL by request id in whichever order the two arrive.
func (p *chromePage) onEvent(ev any) {
	var out []Request

	p.mu.Lock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			break
		}
		out = append(out, Request{URL: e.Request.URL, Headers: lowerHeaders(e.Request.Headers)})
		if pr, ok := p.requests[e.RequestID]; ok && pr.extra != nil {
			out = append(out, Request{URL: e.Request.URL, Headers: lowerHeaders(pr.extra)})
			delete(p.requests, e.RequestID)
			break
		}
		// redirects reuse the id; the latest URL wins
		p.requests[e.RequestID] = &pendingRequest{url: e.Request.URL}
	case *network.EventRequestWillBeSentExtraInfo:
		pr, ok := p.requests[e.RequestID]
		if !ok {
			p.requests[e.RequestID] = &pendingRequest{extra: e.Headers}
			break
		}
		if pr.url == "" {
			pr.extra = e.Headers
			break
		}
		out = append(out, Request{URL: pr.url, Headers: lowerHeaders(e.Headers)})
		delete(p.requests, e.RequestID)
	case *network.EventLoadingFinished:
		delete(p.requests, e.RequestID)
	case *network.EventLoadingFailed:
		delete(p.requests, e.RequestID)
	}
	fn := p.listener
	p.mu.Unlock()

	if fn == nil {
		return
	}
	for _, r := range out {
		fn(r)
	}
}

// run executes actions on the tab, aborting when ctx ends. Cancelling the
// derived context does not close the tab.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	var ok bool
	expr := "document.querySelector(" + strconv.Quote(selector) + ") !== null"
	err := p.run(ctx, chromedp.Evaluate(expr, &ok))
	return ok, err
}

func (p *chromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	var jar []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		jar, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	out := make([]Cookie, 0, len(jar))
	for _, c := range jar {
		out = append(out, Cookie{Name: c.Name, Value: c.Value})
	}
	return out, nil
}

func (p *chromePage) Storage(ctx context.Context, area string) (map[string]string, error) {
	if area != "localStorage" && area != "sessionStorage" {
		return nil, fmt.Errorf("unknown storage area %q", area)
	}
	out := map[string]string{}
	expr := "Object.fromEntries(Object.entries(window." + area + "))"
	if err := p.run(ctx, chromedp.Evaluate(expr, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.release()
	return err
}

func lowerHeaders(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if s, ok := v.(string); ok {
			out[strings.ToLower(k)] = s
		}
	}
	return out
}
