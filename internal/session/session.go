// Package session turns an authentication artifact into the immutable set of
// headers every API and download request carries.
package session

import (
	"net/http"

	"course-harvest/internal/auth"
	"course-harvest/internal/httpx"
)

// Options are the browser-like base headers.
type Options struct {
	UserAgent      string
	AcceptLanguage string
	Referer        string
}

// cookie name -> header name, applied only when the cookie has a value.
var cacheHeaders = []struct{ cookie, header string }{
	{"ud_cache_release", "X-Udemy-Cache-Release"},
	{"ud_cache_user", "X-Udemy-Cache-User"},
	{"ud_cache_brand", "X-Udemy-Cache-Brand"},
	{"ud_cache_marketplace_country", "X-Udemy-Cache-Marketplace-Country"},
	{"ud_cache_price_country", "X-Udemy-Cache-Price-Country"},
	{"ud_cache_version", "X-Udemy-Cache-Version"},
	{"ud_cache_language", "X-Udemy-Cache-Language"},
	{"ud_cache_device", "X-Udemy-Cache-Device"},
	{"ud_cache_campaign_code", "X-Udemy-Cache-Campaign-Code"},
	{"client_id", "X-Udemy-Client-Id"},
}

// Session is read-only after Build and safe for concurrent use.
type Session struct {
	header http.Header
	kind   auth.Kind
}

// Build derives the session headers. It never fails: cookies that are
// missing or malformed simply leave their derived headers out.
func Build(a auth.Artifact, opts Options) *Session {
	h := http.Header{}
	h.Set("User-Agent", opts.UserAgent)
	h.Set("Accept-Language", opts.AcceptLanguage)
	h.Set("Referer", opts.Referer)
	h.Set("Sec-GPC", "1")
	h.Set("Accept-Encoding", httpx.BrowserAcceptEncoding)

	switch a.Kind {
	case auth.KindBearer:
		h.Set("Authorization", a.Token)
	case auth.KindCookie:
		if a.Cookie == "" {
			break
		}
		h.Set("Cookie", a.Cookie)
		h.Set("X-Requested-With", "XMLHttpRequest")
		h.Set("Accept", "application/json, text/plain, */*")
		h.Set("X-Udemy-Cache-Logged-In", "1")
		if v, ok := auth.CookieValue(a.Cookie, "csrftoken"); ok {
			h.Set("X-CSRFToken", v)
		}
		for _, m := range cacheHeaders {
			if v, ok := auth.CookieValue(a.Cookie, m.cookie); ok && v != "" {
				h.Set(m.header, v)
			}
		}
	}

	for k, v := range h {
		if len(v) == 1 && v[0] == "" {
			delete(h, k)
		}
	}
	return &Session{header: h, kind: a.Kind}
}

// BuildRaw parses an operator-supplied token string first.
func BuildRaw(raw string, opts Options) *Session {
	return Build(auth.ParseArtifact(raw), opts)
}

func (s *Session) Kind() auth.Kind { return s.kind }

func (s *Session) Get(name string) string { return s.header.Get(name) }

// Header returns a copy of the session headers.
func (s *Session) Header() http.Header { return s.header.Clone() }

// Apply copies the session headers onto req, keeping headers req already set.
func (s *Session) Apply(req *http.Request) {
	for k, v := range s.header {
		if _, ok := req.Header[k]; ok {
			continue
		}
		req.Header[k] = append([]string(nil), v...)
	}
}
