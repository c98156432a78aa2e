package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullCookie = "cf_clearance=cf; csrftoken=tok; ud_cache_user=42; dj_session_id=sess"

func TestNewCookieBundleRequiresCookies(t *testing.T) {
	_, err := NewCookieBundle("csrftoken=tok", nil, nil)
	require.ErrorIs(t, err, ErrIncompleteCookies)
	assert.Contains(t, err.Error(), "cf_clearance")

	a, err := NewCookieBundle(fullCookie, nil, map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, KindCookie, a.Kind)
	assert.NotNil(t, a.LocalStorage)
	assert.Equal(t, "v", a.SessionStorage["k"])
}

func TestParseArtifact(t *testing.T) {
	testCases := []struct {
		name   string
		raw    string
		kind   Kind
		token  string
		cookie string
	}{
		{"json bundle", `{"token_type":"cookie","cookie":"a=1","local_storage":{"x":"y"}}`, KindCookie, "", "a=1"},
		{"cookie prefix", "Cookie: a=1; b=2", KindCookie, "", "a=1; b=2"},
		{"bearer", "Bearer abc123", KindBearer, "Bearer abc123", ""},
		{"bearer lowercase", "bearer abc123", KindBearer, "bearer abc123", ""},
		{"raw fallback", "a=1; b=2", KindCookie, "", "a=1; b=2"},
		{"json wrong type falls back", `{"token_type":"bearer","cookie":"a=1"}`, KindCookie, "", `{"token_type":"bearer","cookie":"a=1"}`},
		{"invalid json falls back", `{not json`, KindCookie, "", `{not json`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := ParseArtifact(tc.raw)
			assert.Equal(t, tc.kind, a.Kind)
			assert.Equal(t, tc.token, a.Token)
			assert.Equal(t, tc.cookie, a.Cookie)
		})
	}
}

func TestParseArtifactStorageValues(t *testing.T) {
	a := ParseArtifact(`{"token_type":"cookie","cookie":"a=1","local_storage":{"s":"v","n":3},"session_storage":{}}`)
	assert.Equal(t, "v", a.LocalStorage["s"])
	assert.Equal(t, "3", a.LocalStorage["n"])
	assert.Empty(t, a.SessionStorage)
}

func TestRawRoundTrip(t *testing.T) {
	a, err := NewCookieBundle(fullCookie, map[string]string{"l": "1"}, map[string]string{"s": "2"})
	require.NoError(t, err)

	back := ParseArtifact(a.Raw())
	assert.Equal(t, a, back)

	b := Bearer("Bearer xyz")
	assert.Equal(t, b, ParseArtifact(b.Raw()))
}
