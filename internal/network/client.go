package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/resilience"
)

// DefaultUserAgent is sent when neither the session nor the config sets one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Options is the outbound policy shared by every client.
type Options struct {
	UserAgent      string
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	RetryMax       int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
	// RequestsPerSecond caps each client; 0 is unlimited.
	RequestsPerSecond float64
	// CacheSize bounds the shared response cache in bytes; 0 disables it.
	CacheSize int64
}

// OptionsFrom maps the network config section.
func OptionsFrom(cfg config.NetworkConfig) Options {
	return Options{
		UserAgent:         cfg.UserAgent,
		ConnectTimeout:    cfg.ConnectTimeout,
		CallTimeout:       cfg.CallTimeout,
		RetryMax:          cfg.RetryMax,
		RetryWaitMin:      cfg.RetryWaitMin,
		RetryWaitMax:      cfg.RetryWaitMax,
		RequestsPerSecond: cfg.RequestsPerSecond,
		CacheSize:         cfg.CacheSize,
	}
}

// Request is one outbound call made on behalf of an extension.
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// Response is what the extension sees. Header names are lower-cased.
type Response struct {
	Code    int               `json:"code"`
	OK      bool              `json:"ok"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
	URL     string            `json:"url"`
}

// Client performs outbound calls for one source id. It holds no cookies and
// no per-caller state; those come from the Session in the call context.
type Client struct {
	id      string
	opts    Options
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	cache   *responseCache
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

var errServerStatus = errors.New("upstream server error")

type noRetryKey struct{}

func newClient(id string, transport http.RoundTripper, cache *responseCache, opts Options, logger *logging.Logger, metrics *monitoring.Metrics) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport}
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.Logger = nil
	rc.CheckRetry = checkRetry
	// Hand the last response back instead of a "giving up" error so the
	// upstream status reaches the extension.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	rs := resty.NewWithClient(rc.StandardClient()).
		SetTimeout(opts.CallTimeout).
		SetRetryCount(0)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	breaker := resilience.New("source-"+id, resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && counts.FailureRatio() > 0.7)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Upstream breaker changed state",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	return &Client{
		id:      id,
		opts:    opts,
		resty:   rs,
		limiter: limiter,
		breaker: breaker,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// checkRetry retries idempotent calls on transport errors and 5xx. 429 is
// returned to the extension as is.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if ctx.Value(noRetryKey{}) != nil {
		return false, nil
	}
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// ID returns the source id the client serves.
func (c *Client) ID() string {
	return c.id
}

// BreakerState reports the client's circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// UserAgent resolves the user agent for ctx: session first, then config.
func (c *Client) UserAgent(ctx context.Context) string {
	return resolveUserAgent(ctx, c.opts.UserAgent)
}

func resolveUserAgent(ctx context.Context, configured string) string {
	if s := SessionFrom(ctx); s != nil && s.UserAgent != "" {
		return s.UserAgent
	}
	if configured != "" {
		return configured
	}
	return DefaultUserAgent
}

// Execute performs req. Non-2xx statuses are not errors; only transport
// failures, rate limiting and an open breaker are.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("invalid url %q", req.URL)
	}
	if method != http.MethodGet && method != http.MethodHead {
		ctx = context.WithValue(ctx, noRetryKey{}, true)
	}

	session := SessionFrom(ctx)
	var cookies []*http.Cookie
	if session != nil {
		cookies = session.Jar.Cookies(target)
	}
	key := cacheKey(c.id, target.String())
	useCache := cacheable(method, req.Headers, len(cookies))
	if useCache {
		if hit, ok := c.cache.get(key); ok {
			c.record("cached")
			return hit, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	r := c.resty.R().SetContext(ctx)
	r.SetHeader("User-Agent", c.UserAgent(ctx))
	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}
	for _, ck := range cookies {
		r.SetCookie(ck)
	}
	if req.Body != "" {
		r.SetBody(req.Body)
	}

	start := time.Now()
	resp, err := resilience.Do(c.breaker, func() (*resty.Response, error) {
		resp, err := r.Execute(method, req.URL)
		if err == nil && resp.StatusCode() >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, err
	})
	if errors.Is(err, errServerStatus) {
		err = nil
	}
	if err != nil {
		c.record("error")
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("upstream for source %s unavailable: %w", c.id, err)
		}
		return nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	c.record(strconv.Itoa(resp.StatusCode()))

	final := target
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		final = raw.Request.URL
	}
	if session != nil {
		session.Jar.SetCookies(final, resp.Cookies())
	}

	body, err := decodeBody(resp.Body(), resp.Header())
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}

	headers := make(map[string]string, len(resp.Header()))
	for k, v := range resp.Header() {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}

	c.logger.Debug("Upstream call",
		zap.String("source", c.id),
		zap.String("method", method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)),
	)

	out := &Response{
		Code:    resp.StatusCode(),
		OK:      resp.StatusCode() >= 200 && resp.StatusCode() < 300,
		Body:    body,
		Headers: headers,
		URL:     final.String(),
	}
	if useCache {
		c.cache.put(key, out, resp.Header())
	}
	return out, nil
}

func (c *Client) record(status string) {
	if c.metrics != nil {
		c.metrics.RecordUpstream(c.id, status)
	}
}
