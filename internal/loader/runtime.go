package loader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
)

// Config holds per-runtime limits.
type Config struct {
	// Timeout interrupts a call that runs longer; 0 never interrupts.
	Timeout      time.Duration
	MaxCallStack int
}

var errRuntimeClosed = errors.New("runtime is closed")

// Runtime is one bundle's isolated script engine. Calls are serialised.
type Runtime struct {
	vm     *goja.Runtime
	root   *goja.Runtime
	config Config
	logger *logging.Logger
	mu     sync.Mutex
	closed atomic.Bool

	// ctx of the call in progress, read by host modules.
	ctx context.Context

	// nested engines created by the call in progress share its interrupts.
	nestedMu    sync.Mutex
	nested      map[*goja.Runtime]struct{}
	interrupted interface{}
}

func newRuntime(config Config, logger *logging.Logger) *Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if config.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStack)
	}

	r := &Runtime{vm: vm, root: vm, config: config, logger: logger, nested: make(map[*goja.Runtime]struct{})}
	r.setupGlobals()
	return r
}

// setupGlobals removes host escape hatches, routes console to the logger and
// disables timers.
func (r *Runtime) setupGlobals() {
	r.vm.Set("process", goja.Undefined())
	r.vm.Set("module", goja.Undefined())
	r.vm.Set("exports", goja.Undefined())

	console := r.vm.NewObject()
	console.Set("log", r.makeConsoleFunc(r.logger.Info))
	console.Set("info", r.makeConsoleFunc(r.logger.Info))
	console.Set("debug", r.makeConsoleFunc(r.logger.Debug))
	console.Set("warn", r.makeConsoleFunc(r.logger.Warn))
	console.Set("error", r.makeConsoleFunc(r.logger.Error))
	r.vm.Set("console", console)

	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	r.vm.Set("setTimeout", noop)
	r.vm.Set("setInterval", noop)
}

func (r *Runtime) makeConsoleFunc(level func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		level(strings.Join(parts, " "), zap.String("origin", "console"))
		return goja.Undefined()
	}
}

// Context returns the context of the call in progress. Only valid from
// inside Call.
func (r *Runtime) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Nest ties vm to this runtime's interrupts until release is called. An
// engine nested after the watchdog fired starts out interrupted.
func (r *Runtime) Nest(vm *goja.Runtime) (release func()) {
	r.nestedMu.Lock()
	r.nested[vm] = struct{}{}
	if r.interrupted != nil {
		vm.Interrupt(r.interrupted)
	}
	r.nestedMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.nestedMu.Lock()
			delete(r.nested, vm)
			r.nestedMu.Unlock()
			vm.ClearInterrupt()
		})
	}
}

// interrupt stops vm and every nested engine.
func (r *Runtime) interrupt(vm *goja.Runtime, reason interface{}) {
	r.nestedMu.Lock()
	r.interrupted = reason
	for inner := range r.nested {
		inner.Interrupt(reason)
	}
	r.nestedMu.Unlock()
	if vm != nil {
		vm.Interrupt(reason)
	}
}

func (r *Runtime) clearInterrupt(vm *goja.Runtime) {
	r.nestedMu.Lock()
	r.interrupted = nil
	for inner := range r.nested {
		inner.ClearInterrupt()
	}
	r.nestedMu.Unlock()
	vm.ClearInterrupt()
}

// Call runs fn with exclusive use of the engine. With a timeout configured,
// the engine is interrupted when it expires or ctx is cancelled.
func (r *Runtime) Call(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	vm := r.vm
	if vm == nil || r.closed.Load() {
		return errRuntimeClosed
	}
	r.ctx = ctx
	defer func() { r.ctx = nil }()

	if r.config.Timeout > 0 {
		timer := time.NewTimer(r.config.Timeout)
		stop := make(chan struct{})
		exited := make(chan struct{})
		go func() {
			defer close(exited)
			select {
			case <-timer.C:
				r.interrupt(vm, "execution timeout exceeded")
			case <-ctx.Done():
				r.interrupt(vm, "context cancelled")
			case <-stop:
			}
		}()
		defer func() {
			close(stop)
			<-exited
			timer.Stop()
			r.clearInterrupt(vm)
		}()
	}

	return fn(vm)
}

// Close releases the engine. A call in progress is interrupted instead of
// waited out. Later calls fail.
func (r *Runtime) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.interrupt(r.root, "runtime closed")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.vm = nil
	return nil
}
