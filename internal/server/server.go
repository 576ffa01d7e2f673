package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	rpc "github.com/GriffinCanCode/AgentOS/exthost/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/compat"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/host"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/loader"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/network"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/paths"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/workspace"
)

// State is a lifecycle state of the controller.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

var (
	// ErrAlreadyStarted is returned by Start on a controller that already ran.
	ErrAlreadyStarted = errors.New("server: controller already started")
	// ErrStopped is returned by Start once Stop has been called.
	ErrStopped = errors.New("server: controller stopped")
)

// Controller owns the RPC listener and every process-lifetime resource
// behind it. A controller runs once: Start, then Stop.
type Controller struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
	network *network.Registry
	ws      *workspace.Root
	router  *gin.Engine

	mu       sync.Mutex
	state    State
	started  bool
	stopping bool
	srv      *http.Server
	port     int

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// New wires a controller from cfg. The data root and its standard
// directories are created here.
func New(cfg *config.Config, logger *logging.Logger) (*Controller, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	layout := paths.New(cfg.Paths.RootDir)
	if err := layout.Ensure(); err != nil {
		return nil, fmt.Errorf("prepare data root: %w", err)
	}
	ws, err := workspace.New(layout.Workspace(), logger)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("exthost", logger.Logger)
	registry := network.NewRegistry(network.OptionsFrom(cfg.Network), logger, metrics)

	c := &Controller{
		cfg:     cfg,
		logger:  logger.Named("server"),
		metrics: metrics,
		tracer:  tracer,
		network: registry,
		ws:      ws,
		done:    make(chan struct{}),
	}

	h := host.New(host.Options{
		Workspace: ws,
		Network:   registry,
		Prefs:     compat.NewPrefStore(layout.Prefs()),
		Sandbox: loader.Config{
			Timeout:      cfg.Sandbox.Timeout,
			MaxCallStack: cfg.Sandbox.MaxCallStack,
		},
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	c.router = c.setupRouter(h)

	c.logger.Info("Controller initialized",
		zap.String("root", layout.Root),
		zap.Duration("sandbox_timeout", cfg.Sandbox.Timeout),
	)
	return c, nil
}

func (c *Controller) setupRouter(h *host.Host) *gin.Engine {
	if !c.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.Middleware(c.tracer))
	router.Use(monitoring.Middleware(c.metrics))
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = c.cfg.CORS.AllowOrigins
	router.Use(middleware.CORS(corsCfg))
	if c.cfg.RateLimit.Enabled {
		c.logger.Info("Rate limiting enabled",
			zap.Int("rps", c.cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", c.cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = c.cfg.RateLimit.RequestsPerSecond
		rl.Burst = c.cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	router.GET("/metrics", gin.WrapH(c.metrics.Handler()))
	rpc.NewHandlers(h, c.stopLater, c.logger).Register(router)
	return router
}

// Start binds host:port (0 picks a free port) and serves in the background.
func (c *Controller) Start(port int) error {
	c.mu.Lock()
	switch {
	case c.stopping:
		c.mu.Unlock()
		return ErrStopped
	case c.started:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.state = StateStarting
	c.mu.Unlock()

	addr := net.JoinHostPort(c.cfg.Server.Host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		c.setState(StateStopped)
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           c.router,
		ReadHeaderTimeout: c.cfg.Server.ReadTimeout,
		ReadTimeout:       c.cfg.Server.ReadTimeout,
		WriteTimeout:      c.cfg.Server.WriteTimeout,
	}

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		ln.Close()
		return ErrStopped
	}
	c.srv = srv
	c.port = ln.Addr().(*net.TCPAddr).Port
	c.state = StateRunning
	c.mu.Unlock()

	c.logger.Info("Server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Server failed", zap.Error(err))
			go c.Stop()
		}
	}()
	return nil
}

// Port returns the bound port, or 0 before Start.
func (c *Controller) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the controller has stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Handler exposes the router, for tests that drive it without a listener.
func (c *Controller) Handler() http.Handler {
	return c.router
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// stopLater stops the controller after the configured grace, leaving time
// for the /stop response to reach the caller.
func (c *Controller) stopLater() {
	time.AfterFunc(c.cfg.Server.StopGrace, func() {
		if err := c.Stop(); err != nil {
			c.logger.Warn("Stop failed", zap.Error(err))
		}
	})
}

// Stop shuts the listener down and releases every resource. It is
// idempotent; later calls return the first result.
func (c *Controller) Stop() error {
	c.stopOnce.Do(func() {
		c.stopErr = c.shutdown()
	})
	return c.stopErr
}

func (c *Controller) shutdown() error {
	c.setState(StateStopping)
	c.logger.Info("Shutting down server...")

	var errs []error
	c.mu.Lock()
	c.stopping = true
	srv := c.srv
	c.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
		cancel()
	}

	c.network.Close()
	if err := c.tracer.Close(); err != nil {
		errs = append(errs, err)
	}
	files, err := c.ws.Sweep()
	if err != nil {
		errs = append(errs, err)
	}
	c.logger.Info("Server stopped", zap.Int("swept_files", files))
	_ = c.logger.Sync()

	c.setState(StateStopped)
	close(c.done)
	return errors.Join(errs...)
}
