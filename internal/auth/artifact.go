package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteCookies is returned when a cookie bundle lacks a required cookie.
var ErrIncompleteCookies = errors.New("cookie header is missing required cookies")

type Kind int

const (
	KindNone Kind = iota
	KindBearer
	KindCookie
)

func (k Kind) String() string {
	switch k {
	case KindBearer:
		return "bearer"
	case KindCookie:
		return "cookie"
	default:
		return "none"
	}
}

// Artifact is the captured proof of authentication: either a bearer
// Authorization value or a cookie bundle with the page's web storage.
type Artifact struct {
	Kind           Kind
	Token          string // full Authorization header value, e.g. "Bearer abc"
	Cookie         string
	LocalStorage   map[string]string
	SessionStorage map[string]string
}

func Bearer(header string) Artifact {
	return Artifact{Kind: KindBearer, Token: header}
}

// NewCookieBundle builds a cookie artifact, refusing incomplete headers.
func NewCookieBundle(cookie string, local, session map[string]string) (Artifact, error) {
	if missing := MissingCookies(cookie); len(missing) > 0 {
		return Artifact{}, fmt.Errorf("%w: %s", ErrIncompleteCookies, strings.Join(missing, ", "))
	}
	return Artifact{
		Kind:           KindCookie,
		Cookie:         cookie,
		LocalStorage:   nonNil(local),
		SessionStorage: nonNil(session),
	}, nil
}

// rawCookie wraps an operator-supplied header without the completeness
// check; the platform decides whether it works.
func rawCookie(header string) Artifact {
	return Artifact{Kind: KindCookie, Cookie: header, LocalStorage: map[string]string{}, SessionStorage: map[string]string{}}
}

type cookiePayload struct {
	TokenType      string         `json:"token_type"`
	Cookie         string         `json:"cookie"`
	LocalStorage   map[string]any `json:"local_storage,omitempty"`
	SessionStorage map[string]any `json:"session_storage,omitempty"`
}

// Raw serializes the artifact into the string form accepted by ParseArtifact.
func (a Artifact) Raw() string {
	switch a.Kind {
	case KindBearer:
		return a.Token
	case KindCookie:
		b, err := json.Marshal(cookiePayload{
			TokenType:      "cookie",
			Cookie:         a.Cookie,
			LocalStorage:   toAny(a.LocalStorage),
			SessionStorage: toAny(a.SessionStorage),
		})
		if err != nil {
			return "Cookie: " + a.Cookie
		}
		return string(b)
	default:
		return ""
	}
}

// ParseArtifact recognizes, in order: a JSON cookie payload
// ({"token_type":"cookie","cookie":...}), a "Cookie:" prefixed header, a
// "Bearer ..." value. Anything else is taken as a raw cookie header.
func ParseArtifact(raw string) Artifact {
	s := strings.TrimSpace(raw)

	if a, ok := parseCookiePayload(s); ok {
		return a
	}
	if rest, ok := strings.CutPrefix(s, "Cookie:"); ok {
		return rawCookie(strings.TrimSpace(rest))
	}
	if len(s) > len("bearer ") && strings.EqualFold(s[:len("bearer ")], "bearer ") {
		return Bearer(s)
	}
	return rawCookie(s)
}

func parseCookiePayload(s string) (Artifact, bool) {
	if !strings.HasPrefix(s, "{") {
		return Artifact{}, false
	}
	var p cookiePayload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Artifact{}, false
	}
	if p.TokenType != "cookie" || p.Cookie == "" {
		return Artifact{}, false
	}
	return Artifact{
		Kind:           KindCookie,
		Cookie:         p.Cookie,
		LocalStorage:   toStrings(p.LocalStorage),
		SessionStorage: toStrings(p.SessionStorage),
	}, true
}

func toStrings(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[k] = string(b)
	}
	return out
}

func toAny(m map[string]string) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
