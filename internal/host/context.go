package host

import (
	"context"
	"net/url"
	"strings"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/network"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/source"
)

// RequestContext carries the caller's headers that shape outbound traffic.
type RequestContext struct {
	Cookie    string
	UserAgent string
}

const fallbackDomain = "localhost"

// domainOf returns the host of baseURL, or localhost when it has none.
func domainOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return fallbackDomain
	}
	return strings.ToLower(u.Hostname())
}

// applyRequestContext returns ctx carrying a fresh session for src, seeded
// with the caller's cookies and user agent.
func applyRequestContext(ctx context.Context, src source.Source, rc RequestContext) context.Context {
	sess := network.NewSession()
	if rc.Cookie != "" {
		domain := domainOf(src.Info().BaseURL)
		sess.AddCookies(domain, network.ParseCookieHeader(rc.Cookie, domain))
	}
	sess.UserAgent = strings.TrimSpace(rc.UserAgent)
	return network.WithSession(ctx, sess)
}
