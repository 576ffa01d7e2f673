package network

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Session is the per-invocation network context: cookies and user agent.
// Clients are shared across invocations, sessions never are.
type Session struct {
	Jar       http.CookieJar
	UserAgent string
}

// NewSession returns an empty session with its own cookie jar.
func NewSession() *Session {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &Session{Jar: jar}
}

// AddCookies installs cookies for both schemes of domain.
func (s *Session) AddCookies(domain string, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	for _, scheme := range []string{"http", "https"} {
		s.Jar.SetCookies(&url.URL{Scheme: scheme, Host: domain, Path: "/"}, cookies)
	}
}

type sessionKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session attached to ctx, or nil.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// ParseCookieHeader turns a Cookie request header into cookies scoped to
// domain and path "/". Pairs without "=" are skipped; a leading "." on domain
// is dropped.
func ParseCookieHeader(header, domain string) []*http.Cookie {
	domain = strings.TrimPrefix(domain, ".")
	var cookies []*http.Cookie
	for _, pair := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name:   name,
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
		})
	}
	return cookies
}
