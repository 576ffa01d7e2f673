// Package host runs the invocation pipeline: inspect the bundle, convert and
// patch it, load it, bind the request context and dispatch the call.
//
// Nothing is cached between invocations. Every call reloads its bundle into
// a fresh runtime and releases the conversion workspace before returning.
package host

import (
	"context"
	"encoding/base64"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/compat"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/convert"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/loader"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/network"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/exterr"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/workspace"
)

// Options wires a Host. Workspace and Network are required.
type Options struct {
	Workspace *workspace.Root
	Network   *network.Registry
	// Prefs persists extension preferences; nil keeps them in memory.
	Prefs   *compat.PrefStore
	Sandbox loader.Config
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer
}

// Host executes invocations end to end.
type Host struct {
	converter  *convert.Converter
	loader     *loader.Loader
	dispatcher *dispatch.Dispatcher
	logger     *logging.Logger
	metrics    *monitoring.Metrics
	tracer     *tracing.Tracer
}

// New creates a host from opts.
func New(opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	compatHost := compat.NewHost(opts.Network, opts.Prefs, logger)
	return &Host{
		converter:  convert.New(opts.Workspace, compat.NewPatcher(logger), logger, opts.Metrics),
		loader:     loader.New(compatHost, opts.Sandbox, logger, opts.Metrics),
		dispatcher: dispatch.New(logger, opts.Metrics),
		logger:     logger.Named("host"),
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
	}
}

// Invoke runs req and returns the JSON result. Every failure is an
// *exterr.Error.
func (h *Host) Invoke(ctx context.Context, req *Request, rc RequestContext) ([]byte, error) {
	inv := id.NewInvocation()
	traceID, _ := tracing.FromContext(ctx)
	h.logger.Debug("Invocation started",
		zap.Stringer("invocation", inv),
		zap.String("trace_id", traceID),
		zap.String("method", req.Method),
		zap.Int("source_index", req.SourceIndex))

	out, err := h.invoke(ctx, req, rc)
	if err != nil {
		classified := exterr.Classify(err)
		h.logger.Warn("Invocation failed",
			zap.Stringer("invocation", inv),
			zap.String("trace_id", traceID),
			zap.String("method", req.Method),
			zap.String("package", req.PkgName),
			zap.String("kind", string(classified.Kind)),
			zap.Error(classified),
		)
		return nil, classified
	}
	return out, nil
}

func (h *Host) invoke(ctx context.Context, req *Request, rc RequestContext) ([]byte, error) {
	raw, err := decodePayload(req.Data)
	if err != nil {
		return nil, err
	}

	var b *bundle.Bundle
	err = h.tracer.Trace(ctx, "inspect", func(context.Context) error {
		stage := monitoring.StartStage(h.metrics, "inspect")
		b, err = bundle.Inspect(raw)
		stage.Done(err)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, ce := range b.Descriptor.CertErrors {
		h.logger.Warn("Skipped unreadable certificate",
			zap.String("bundle", b.Identity()),
			zap.String("entry", ce.Path),
			zap.String("error", ce.Error),
		)
	}
	if req.PkgName != "" && req.PkgName != b.Descriptor.Package {
		h.logger.Warn("Package name does not match bundle",
			zap.String("requested", req.PkgName),
			zap.String("bundle", b.Descriptor.Package),
		)
	}

	var archive *convert.Archive
	err = h.tracer.Trace(ctx, "convert", func(ctx context.Context) error {
		archive, err = h.converter.Convert(ctx, b)
		return err
	})
	if err != nil {
		return nil, err
	}

	var ext *loader.Extension
	err = h.tracer.Trace(ctx, "load", func(ctx context.Context) error {
		ext, err = h.loader.Load(ctx, archive, b)
		return err
	})
	if err != nil {
		archive.Close()
		return nil, err
	}
	defer ext.Close()

	src, ok := ext.Source(req.SourceIndex)
	if !ok {
		return nil, exterr.MethodResolution("source index %d out of range, %s has %d sources",
			req.SourceIndex, ext.Identity, len(ext.Sources()))
	}

	var out []byte
	err = h.tracer.Trace(applyRequestContext(ctx, src, rc), "dispatch", func(ctx context.Context) error {
		out, err = h.dispatcher.Invoke(ctx, src, req.Method, req.Args)
		return err
	})
	return out, err
}

// decodePayload accepts padded or unpadded standard base64.
func decodePayload(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
	}
	if err != nil {
		return nil, exterr.BundleFormatWrap(err, "bundle payload is not base64")
	}
	return raw, nil
}
