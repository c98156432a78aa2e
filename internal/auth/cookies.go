package auth

import "strings"

// RequiredCookies must all be present for a captured cookie header to count
// as a complete, API-capable session.
var RequiredCookies = []string{"cf_clearance", "csrftoken", "ud_cache_user", "dj_session_id"}

// Cookie is a single name/value pair from a cookie header or browser jar.
type Cookie struct {
	Name  string
	Value string
}

// ParseCookieHeader splits "a=1; b=2" into ordered pairs. Segments without
// '=' are dropped. Values keep any '=' they contain.
func ParseCookieHeader(header string) []Cookie {
	var out []Cookie
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		name, value, ok := strings.Cut(part, "=")
		if !ok || name == "" {
			continue
		}
		out = append(out, Cookie{Name: name, Value: value})
	}
	return out
}

// JoinCookies renders pairs as a Cookie request header.
func JoinCookies(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// CookieValue returns the first value for name. ok is false when the cookie
// is absent; a present cookie may still have an empty value.
func CookieValue(header, name string) (string, bool) {
	for _, c := range ParseCookieHeader(header) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// MissingCookies lists the required cookies absent from header, in
// RequiredCookies order.
func MissingCookies(header string) []string {
	present := make(map[string]bool)
	for _, c := range ParseCookieHeader(header) {
		present[c.Name] = true
	}
	var missing []string
	for _, name := range RequiredCookies {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// HasRequiredCookies reports whether header carries every required cookie.
func HasRequiredCookies(header string) bool {
	return len(MissingCookies(header)) == 0
}

func cookieNames(header string) []string {
	cookies := ParseCookieHeader(header)
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	return names
}
