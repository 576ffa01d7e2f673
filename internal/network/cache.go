package network

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the response cache shared by every client.
const DefaultCacheSize = 5 << 20

type cachedResponse struct {
	resp    Response
	expires time.Time
	size    int64
}

// responseCache keeps fresh GET responses, least recently used first out,
// until their bodies and headers add up to limit bytes.
type responseCache struct {
	limit int64
	now   func() time.Time

	mu    sync.Mutex
	used  int64
	items *lru.Cache[string, *cachedResponse]
}

func newResponseCache(limit int64) *responseCache {
	c := &responseCache{limit: limit, now: time.Now}
	// put enforces the byte limit; the count cap is a backstop.
	items, err := lru.NewWithEvict[string, *cachedResponse](int(limit/16)+1, func(_ string, e *cachedResponse) {
		c.used -= e.size
	})
	if err != nil {
		return nil
	}
	c.items = items
	return c
}

func cacheKey(source, url string) string {
	return source + " " + url
}

// get returns a copy of the stored response if it is still fresh.
func (c *responseCache) get(key string) (*Response, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		c.items.Remove(key)
		return nil, false
	}
	resp := e.resp
	resp.Headers = make(map[string]string, len(e.resp.Headers))
	for k, v := range e.resp.Headers {
		resp.Headers[k] = v
	}
	return &resp, true
}

// put stores resp when the upstream marked it cacheable.
func (c *responseCache) put(key string, resp *Response, header http.Header) {
	if c == nil || resp.Code != http.StatusOK {
		return
	}
	ttl, ok := freshness(header)
	if !ok {
		return
	}
	size := int64(len(key) + len(resp.Body) + len(resp.URL))
	for k, v := range resp.Headers {
		size += int64(len(k) + len(v))
	}
	if size > c.limit {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Remove(key)
	for c.used+size > c.limit {
		if _, _, ok := c.items.RemoveOldest(); !ok {
			break
		}
	}
	c.items.Add(key, &cachedResponse{resp: *resp, expires: c.now().Add(ttl), size: size})
	c.used += size
}

// Len reports the number of stored responses.
func (c *responseCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// freshness reads the lifetime a response may be reused for. Responses that
// set cookies, vary on request headers or opt out are never stored.
func freshness(header http.Header) (time.Duration, bool) {
	if header.Get("Set-Cookie") != "" || header.Get("Vary") != "" {
		return 0, false
	}
	var ttl time.Duration
	for _, directive := range strings.Split(header.Get("Cache-Control"), ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
		switch strings.ToLower(name) {
		case "no-store", "no-cache", "private":
			return 0, false
		case "max-age":
			secs, err := strconv.Atoi(strings.Trim(value, `"`))
			if err != nil {
				return 0, false
			}
			ttl = time.Duration(secs) * time.Second
		}
	}
	if ttl <= 0 {
		if exp, err := http.ParseTime(header.Get("Expires")); err == nil {
			ttl = time.Until(exp)
		}
	}
	return ttl, ttl > 0
}

// cacheable reports whether a request may be served from, or stored in, the
// shared cache: plain GETs with no caller credentials.
func cacheable(method string, headers map[string]string, cookies int) bool {
	if method != http.MethodGet {
		return false
	}
	for k := range headers {
		switch strings.ToLower(k) {
		case "cookie", "authorization", "range", "cache-control":
			return false
		}
	}
	return cookies == 0
}
