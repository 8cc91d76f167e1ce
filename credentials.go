package humy

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// TokenSource yields the current access token, or "" when none is known.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// StaticToken always returns the same token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// StorageTokenKeys are the keys a token may have been persisted under, most
// specific first.
var StorageTokenKeys = []string{
	"authTokens", "access", "access_token", "accessToken",
	"jwt", "token", "jwt_access", "auth_token", "auth",
}

// CookieTokenNames are the cookie names that may carry the token.
var CookieTokenNames = []string{"access", "access_token", "jwt", "token"}

// DefaultTokens resolves a token from the in-memory header first, then from
// storage, then from cookies.
func DefaultTokens(header *HeaderToken, store Storage, jar http.CookieJar, site *url.URL) TokenSource {
	chain := ChainTokens{}
	if header != nil {
		chain = append(chain, header)
	}
	if store != nil {
		chain = append(chain, &StorageToken{Store: store})
	}
	if jar != nil && site != nil {
		chain = append(chain, &CookieToken{Jar: jar, URL: site})
	}
	return chain
}

// ============================================================================
// Sources
// ============================================================================

// ChainTokens returns the first non-empty token of its sources.
type ChainTokens []TokenSource

func (c ChainTokens) Token() string {
	for _, src := range c {
		if t := src.Token(); t != "" {
			return t
		}
	}
	return ""
}

// HeaderToken holds the Authorization header the HTTP layer is using.
type HeaderToken struct {
	mu     sync.RWMutex
	header string
}

// Set replaces the header value, e.g. "Bearer eyJ...".
func (h *HeaderToken) Set(authorization string) {
	h.mu.Lock()
	h.header = authorization
	h.mu.Unlock()
}

func (h *HeaderToken) Token() string {
	h.mu.RLock()
	v := h.header
	h.mu.RUnlock()
	return tokenFromAuthorization(v)
}

func tokenFromAuthorization(v string) string {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "bearer", "jwt":
		return strings.TrimSpace(rest)
	}
	return ""
}

// StorageToken reads the token from persisted storage. A JSON object value
// yields its "access" or "accessToken" field; a bare value is used as is,
// minus surrounding quotes.
type StorageToken struct {
	Store Storage
	Keys  []string
}

func (s *StorageToken) Token() string {
	keys := s.Keys
	if len(keys) == 0 {
		keys = StorageTokenKeys
	}
	for _, k := range keys {
		v, err := s.Store.Get(k)
		if err != nil || v == "" {
			continue
		}
		if t := tokenFromStoredValue(v); t != "" {
			return t
		}
	}
	return ""
}

func tokenFromStoredValue(v string) string {
	if gjson.Valid(v) {
		r := gjson.Parse(v)
		if r.IsObject() {
			for _, field := range []string{"access", "accessToken"} {
				if t := r.Get(field); t.Type == gjson.String && t.String() != "" {
					return t.String()
				}
			}
			return ""
		}
		if r.Type == gjson.String {
			return r.String()
		}
	}
	return strings.TrimSuffix(strings.TrimPrefix(v, `"`), `"`)
}

// CookieToken reads the token from the cookies stored for URL.
type CookieToken struct {
	Jar http.CookieJar
	URL *url.URL
}

func (c *CookieToken) Token() string {
	cookies := c.Jar.Cookies(c.URL)
	for _, name := range CookieTokenNames {
		for _, ck := range cookies {
			if ck.Name != name || ck.Value == "" {
				continue
			}
			if v, err := url.QueryUnescape(ck.Value); err == nil {
				return v
			}
			return ck.Value
		}
	}
	return ""
}
