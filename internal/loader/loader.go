// Package loader instantiates converted bundles in isolated runtimes.
//
// Every bundle gets its own engine, so two bundles defining the same class
// name never see each other. require resolves host compat modules first and
// the bundle's own classes second, evaluating each class once per runtime.
package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/compat"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/convert"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/exterr"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/source"
)

// FactoryMethod marks an entry class as a source factory.
const FactoryMethod = "createSources"

// Loader turns converted archives into live extensions.
type Loader struct {
	host    *compat.Host
	config  Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// New creates a loader. logger and metrics may be nil.
func New(host *compat.Host, config Config, logger *logging.Logger, metrics *monitoring.Metrics) *Loader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loader{
		host:    host,
		config:  config,
		logger:  logger.Named("loader"),
		metrics: metrics,
	}
}

// ClassNotFound is raised when require names neither a host module nor a
// class of the bundle.
type ClassNotFound struct {
	Class string
}

func (e *ClassNotFound) Error() string {
	return "class not found: " + e.Class
}

type moduleState int

const (
	stateLoading moduleState = iota + 1
	stateLoaded
)

type moduleRecord struct {
	state  moduleState
	module *goja.Object
	value  goja.Value
}

// Load instantiates the entry points of b from archive. On success the
// extension owns archive and releases it on Close; on failure the caller
// still owns it.
func (l *Loader) Load(ctx context.Context, archive *convert.Archive, b *bundle.Bundle) (*Extension, error) {
	stage := monitoring.StartStage(l.metrics, "load")
	ext, err := l.load(ctx, archive, b)
	stage.Done(err)
	return ext, err
}

func (l *Loader) load(ctx context.Context, archive *convert.Archive, b *bundle.Bundle) (*Extension, error) {
	contents, err := convert.ReadArchive(archive.Path)
	if err != nil {
		return nil, exterr.ClassLoad(err, "read archive for %s", archive.Identity)
	}

	programs := make(map[string]*goja.Program, len(contents.Units))
	for _, class := range contents.Index.Classes {
		prog, err := goja.Compile(class, contents.Units[class], false)
		if err != nil {
			return nil, exterr.ClassLoad(err, "compile %s", class)
		}
		programs[class] = prog
	}

	logger := l.logger.ForExtension(b.Descriptor.Package)
	ext := &Extension{
		Identity: archive.Identity,
		runtime:  newRuntime(l.config, logger),
		host:     l.host,
		bundle:   b,
		archive:  archive,
		programs: programs,
		modules:  make(map[string]*moduleRecord),
		logger:   logger,
	}
	ext.env = &compat.Env{
		VM:      ext.runtime.vm,
		Context: ext.runtime.Context,
		Bundle:  b,
		Logger:  logger,
		Nest:    ext.runtime.Nest,
	}
	ext.env.Require = ext.runtime.vm.ToValue(ext.jsRequire)
	ext.runtime.vm.Set("require", ext.env.Require)

	err = ext.runtime.Call(ctx, func(vm *goja.Runtime) error {
		for _, entry := range b.Descriptor.Entries {
			sources, err := ext.instantiate(vm, entry)
			if err != nil {
				return err
			}
			ext.sources = append(ext.sources, sources...)
		}
		return nil
	})
	if err != nil {
		ext.runtime.Close()
		return nil, err
	}

	l.logger.Debug("Loaded extension",
		zap.String("bundle", ext.Identity),
		zap.Int("sources", len(ext.sources)),
	)
	return ext, nil
}

// Extension is a loaded bundle: its runtime and ordered sources.
type Extension struct {
	Identity string

	runtime  *Runtime
	host     *compat.Host
	bundle   *bundle.Bundle
	archive  *convert.Archive
	env      *compat.Env
	programs map[string]*goja.Program
	modules  map[string]*moduleRecord
	sources  []source.Source
	logger   *logging.Logger
}

// Sources returns the loaded sources in declaration order.
func (e *Extension) Sources() []source.Source {
	return append([]source.Source(nil), e.sources...)
}

// Source returns the source at index.
func (e *Extension) Source(index int) (source.Source, bool) {
	if index < 0 || index >= len(e.sources) {
		return nil, false
	}
	return e.sources[index], true
}

// Close releases the runtime and the archive workspace.
func (e *Extension) Close() error {
	e.runtime.Close()
	return e.archive.Close()
}

// require resolves name parent-first. Only called with the runtime held.
func (e *Extension) require(name string) (goja.Value, error) {
	if rec, ok := e.modules[name]; ok {
		if rec.state == stateLoading {
			// Cyclic require sees the partial exports.
			return rec.module.Get("exports"), nil
		}
		return rec.value, nil
	}

	if e.host != nil && e.host.Has(name) {
		v, err := e.host.Load(e.env, name)
		if err != nil {
			return nil, err
		}
		e.modules[name] = &moduleRecord{state: stateLoaded, value: v}
		return v, nil
	}

	prog, ok := e.programs[name]
	if !ok {
		return nil, &ClassNotFound{Class: name}
	}
	rec := &moduleRecord{state: stateLoading, module: compat.NewModule(e.runtime.vm)}
	e.modules[name] = rec
	v, err := compat.RunModule(e.runtime.vm, prog, rec.module, e.env.Require)
	if err != nil {
		delete(e.modules, name)
		return nil, err
	}
	rec.state, rec.value = stateLoaded, v
	return v, nil
}

// jsRequire is require as seen from scripts: failures become exceptions.
func (e *Extension) jsRequire(call goja.FunctionCall) goja.Value {
	vm := e.runtime.vm
	v, err := e.require(call.Argument(0).String())
	if err == nil {
		return v
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		panic(exc.Value())
	}
	var nf *ClassNotFound
	if errors.As(err, &nf) {
		obj, cerr := vm.New(vm.Get("Error"), vm.ToValue(nf.Class))
		if cerr == nil {
			obj.Set("name", "ClassNotFoundException")
			panic(obj)
		}
	}
	panic(vm.NewGoError(err))
}

// instantiate constructs entry and returns the sources it provides: itself,
// or the result of createSources for a factory.
func (e *Extension) instantiate(vm *goja.Runtime, entry string) ([]source.Source, error) {
	if _, ok := e.programs[entry]; !ok {
		if diags := e.archive.DiagnosticsFor(entry); len(diags) > 0 {
			return nil, exterr.ClassLoad(nil, "entry class %s failed conversion: %s", entry, diags[0].Message)
		}
		return nil, exterr.ClassLoad(nil, "entry class %s not found in %s", entry, e.Identity)
	}

	exports, err := e.require(entry)
	if err != nil {
		return nil, exterr.ClassLoad(jsError(err), "load %s", entry)
	}
	ctor, ok := exports.(*goja.Object)
	if !ok {
		return nil, exterr.ClassLoad(nil, "%s does not export a class", entry)
	}
	if _, ok := goja.AssertConstructor(ctor); !ok {
		return nil, exterr.ClassLoad(nil, "%s does not export a class", entry)
	}
	instance, err := vm.New(ctor)
	if err != nil {
		return nil, exterr.ClassLoad(jsError(err), "instantiate %s", entry)
	}

	create, isFactory := goja.AssertFunction(instance.Get(FactoryMethod))
	if !isFactory {
		if e.bundle.Descriptor.Factory {
			return nil, exterr.ClassLoad(nil, "factory %s has no %s()", entry, FactoryMethod)
		}
		src, err := newJSSource(e, instance, entry)
		if err != nil {
			return nil, err
		}
		return []source.Source{src}, nil
	}

	list, err := create(instance)
	if err != nil {
		return nil, exterr.ClassLoad(jsError(err), "%s.%s", entry, FactoryMethod)
	}
	items, ok := list.Export().([]interface{})
	if !ok {
		return nil, exterr.ClassLoad(nil, "%s.%s did not return an array", entry, FactoryMethod)
	}
	arr := list.ToObject(vm)
	sources := make([]source.Source, 0, len(items))
	for i := range items {
		obj, ok := arr.Get(fmt.Sprint(i)).(*goja.Object)
		if !ok {
			return nil, exterr.ClassLoad(nil, "%s.%s()[%d] is not an object", entry, FactoryMethod, i)
		}
		src, err := newJSSource(e, obj, fmt.Sprintf("%s[%d]", entry, i))
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// jsError strips a script exception down to its message.
func jsError(err error) error {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return errors.New(exc.Value().String())
	}
	return err
}
