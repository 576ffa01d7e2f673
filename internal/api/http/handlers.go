// Package http implements the RPC front door: liveness, invocation and stop
// routes over gin.
package http

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/host"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/exterr"
)

// Wire texts.
const (
	RunningText  = "mextensionserver Server Running"
	StoppingText = "Server stopping"
	NotFoundText = "Not Found"

	// FormField carries the JSON request in form-encoded bodies.
	FormField = "postData"
)

// Invoker runs one invocation request.
type Invoker interface {
	Invoke(ctx context.Context, req *host.Request, rc host.RequestContext) ([]byte, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	invoker Invoker
	// stop schedules shutdown; it must not block on the request in flight.
	stop   func()
	logger *logging.Logger
}

// NewHandlers creates a new handler set. stop may be nil.
func NewHandlers(invoker Invoker, stop func(), logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{invoker: invoker, stop: stop, logger: logger.Named("rpc")}
}

// Register mounts the routes on router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/", h.Root)
	router.POST("/dalvik", h.Invoke)
	router.GET("/stop", h.Stop)
	router.NoRoute(h.NotFound)
}

// Root handles the liveness probe
func (h *Handlers) Root(c *gin.Context) {
	c.String(http.StatusOK, RunningText)
}

// Invoke runs the extension pipeline for one request
func (h *Handlers) Invoke(c *gin.Context) {
	body, err := requestBody(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	req, err := host.ParseRequest(body)
	if err != nil {
		h.writeError(c, err)
		return
	}

	rc := host.RequestContext{
		Cookie:    c.GetHeader("Cookie"),
		UserAgent: c.GetHeader("User-Agent"),
	}
	out, err := h.invoker.Invoke(c.Request.Context(), req, rc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

// Stop acknowledges and schedules shutdown
func (h *Handlers) Stop(c *gin.Context) {
	c.String(http.StatusOK, StoppingText)
	if h.stop != nil {
		h.stop()
	}
}

// NotFound answers every unknown route
func (h *Handlers) NotFound(c *gin.Context) {
	c.String(http.StatusNotFound, NotFoundText)
}

// requestBody returns the JSON request: the postData form field, or the raw
// body when it is sent as JSON.
func requestBody(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, exterr.Marshal(err, "read request body")
		}
		return body, nil
	}
	data, ok := c.GetPostForm(FormField)
	if !ok || strings.TrimSpace(data) == "" {
		return nil, exterr.Marshal(nil, "no %s field in request body", FormField)
	}
	return []byte(data), nil
}

// writeError sends the {error, code} body. code keeps the upstream status;
// the transport status only passes a few of them through.
func (h *Handlers) writeError(c *gin.Context, err error) {
	e := exterr.Classify(err)
	_ = c.Error(e)
	h.logger.Error("Error handling request",
		zap.String("kind", string(e.Kind)),
		zap.Int("code", e.Code()),
		zap.Error(e),
	)
	c.JSON(exterr.HTTPStatus(e.Code()), gin.H{
		"error": e.Error(),
		"code":  e.Code(),
	})
}
