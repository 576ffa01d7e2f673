package tracing

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/exterr"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/id"
)

// Headers carrying trace context in and out of the RPC surface.
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

// Span is one timed stage of an invocation.
type Span struct {
	TraceID  string
	SpanID   string
	ParentID string
	Name     string
	Start    time.Time
	Duration time.Duration
	Attrs    []zap.Field
	Err      error
	// Code is the wire code of Err, 0 on success.
	Code int
}

// Annotate attaches fields that are logged with the span.
func (s *Span) Annotate(fields ...zap.Field) {
	s.Attrs = append(s.Attrs, fields...)
}

// Fail marks the span failed with err.
func (s *Span) Fail(err error) {
	s.Err = err
	s.Code = exterr.Classify(err).Code()
}

type spanContext struct {
	traceID string
	spanID  string
}

type ctxKey struct{}

// FromContext returns the trace and span ids active in ctx.
func FromContext(ctx context.Context) (traceID, spanID string) {
	sc, _ := ctx.Value(ctxKey{}).(spanContext)
	return sc.traceID, sc.spanID
}

// WithRemote continues a trace started by the caller. Empty ids are ignored.
func WithRemote(ctx context.Context, traceID, spanID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, spanContext{traceID: traceID, spanID: spanID})
}

// Tracer logs finished spans from a single collector goroutine.
type Tracer struct {
	service string
	logger  *zap.Logger
	queue   chan *Span

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func New(service string, logger *zap.Logger) *Tracer {
	t := &Tracer{
		service: service,
		logger:  logger.Named("trace"),
		queue:   make(chan *Span, 1024),
		done:    make(chan struct{}),
	}
	go t.collect()
	return t
}

// Start opens a span under whatever span ctx carries, starting a new trace
// when there is none.
func (t *Tracer) Start(ctx context.Context, name string) (*Span, context.Context) {
	parent, _ := ctx.Value(ctxKey{}).(spanContext)
	traceID := parent.traceID
	if traceID == "" {
		traceID = id.NewTrace().String()
	}
	s := &Span{
		TraceID:  traceID,
		SpanID:   id.NewSpan().String(),
		ParentID: parent.spanID,
		Name:     name,
		Start:    time.Now(),
	}
	return s, context.WithValue(ctx, ctxKey{}, spanContext{traceID: traceID, spanID: s.SpanID})
}

// End stamps the duration and queues s for logging. Spans ended after Close
// or while the queue is full are dropped.
func (t *Tracer) End(s *Span) {
	s.Duration = time.Since(s.Start)

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- s:
	default:
		t.logger.Warn("Span queue full, dropping span",
			zap.String("trace_id", s.TraceID),
			zap.String("span", s.Name))
	}
}

// Trace runs fn in a child span. A nil Tracer just runs fn.
func (t *Tracer) Trace(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if t == nil {
		return fn(ctx)
	}
	s, ctx := t.Start(ctx, name)
	err := fn(ctx)
	if err != nil {
		s.Fail(err)
	}
	t.End(s)
	return err
}

// Close stops accepting spans and waits for queued ones to be logged.
func (t *Tracer) Close() error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("tracer: span queue did not drain")
	}
}

func (t *Tracer) collect() {
	defer close(t.done)
	for s := range t.queue {
		t.write(s)
	}
}

func (t *Tracer) write(s *Span) {
	fields := make([]zap.Field, 0, 6+len(s.Attrs))
	fields = append(fields,
		zap.String("service", t.service),
		zap.String("trace_id", s.TraceID),
		zap.String("span_id", s.SpanID),
		zap.String("span", s.Name),
		zap.Duration("duration", s.Duration),
	)
	if s.ParentID != "" {
		fields = append(fields, zap.String("parent_id", s.ParentID))
	}
	fields = append(fields, s.Attrs...)

	if s.Err != nil {
		t.logger.Warn("Span failed", append(fields, zap.Int("code", s.Code), zap.Error(s.Err))...)
		return
	}
	t.logger.Debug("Span finished", fields...)
}
