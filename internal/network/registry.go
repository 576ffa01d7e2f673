package network

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/monitoring"
)

// Registry owns one Client per source id for the life of the process. All
// clients share a single transport.
type Registry struct {
	opts      Options
	transport *http.Transport
	cache     *responseCache
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry. logger and metrics may be nil.
func NewRegistry(opts Options, logger *logging.Logger, metrics *monitoring.Metrics) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.ConnectTimeout > 0 {
		transport.DialContext = (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}
	var cache *responseCache
	if opts.CacheSize > 0 {
		cache = newResponseCache(opts.CacheSize)
	}
	return &Registry{
		opts:      opts,
		transport: transport,
		cache:     cache,
		logger:    logger.Named("network"),
		metrics:   metrics,
		clients:   make(map[string]*Client),
	}
}

// Client returns the client for id, creating it on first use.
func (r *Registry) Client(id string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		c = newClient(id, r.transport, r.cache, r.opts, r.logger, r.metrics)
		r.clients[id] = c
	}
	return c
}

// UserAgent resolves the user agent for ctx without picking a client.
func (r *Registry) UserAgent(ctx context.Context) string {
	return resolveUserAgent(ctx, r.opts.UserAgent)
}

// Len reports how many clients exist.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close drops idle upstream connections. Clients stay usable.
func (r *Registry) Close() {
	r.transport.CloseIdleConnections()
}
