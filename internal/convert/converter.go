// Package convert turns a bundle's code section into a host-loadable archive.
//
// Conversion is best effort: a class that cannot be read or parsed becomes an
// error diagnostic and is left out, the rest is still emitted. Classes are
// written in dependency order, debugging metadata is stripped, and symbol
// names are kept as they are so lookups by name keep working.
package convert

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/exterr"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/workspace"
)

// PatchReport counts rewritten references per class.
type PatchReport struct {
	Rewrites map[string]int `json:"rewrites"`
}

// Total sums rewrites across classes.
func (r PatchReport) Total() int {
	n := 0
	for _, c := range r.Rewrites {
		n += c
	}
	return n
}

// Patcher post-processes a fully converted archive in place.
type Patcher interface {
	Patch(archivePath string) (PatchReport, error)
}

// Archive is a converted bundle living in its own workspace directory.
type Archive struct {
	Identity string
	Path     string
	Classes  []string
	// Diagnostics is also written to DiagnosticsPath when non-empty.
	Diagnostics     []Diagnostic
	DiagnosticsPath string
	Patched         bool
	Patch           PatchReport

	dir       *workspace.Dir
	onRelease func()
}

// OK reports whether every class converted.
func (a *Archive) OK() bool {
	return !hasErrors(a.Diagnostics)
}

// Has reports whether class made it into the archive.
func (a *Archive) Has(class string) bool {
	for _, c := range a.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// DiagnosticsFor returns the findings recorded against class.
func (a *Archive) DiagnosticsFor(class string) []Diagnostic {
	var out []Diagnostic
	for _, d := range a.Diagnostics {
		if d.Class == class {
			out = append(out, d)
		}
	}
	return out
}

// Close releases the workspace directory holding the archive.
func (a *Archive) Close() error {
	if a.dir == nil {
		return nil
	}
	err := a.dir.Release()
	if a.onRelease != nil {
		a.onRelease()
	}
	return err
}

// Converter converts bundles.
type Converter struct {
	workspace *workspace.Root
	patcher   Patcher
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// New creates a converter. patcher and metrics may be nil.
func New(ws *workspace.Root, patcher Patcher, logger *logging.Logger, metrics *monitoring.Metrics) *Converter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Converter{
		workspace: ws,
		patcher:   patcher,
		logger:    logger.Named("convert"),
		metrics:   metrics,
	}
}

// Convert writes the archive for b into a fresh workspace directory. The
// caller owns the result and must Close it.
func (c *Converter) Convert(ctx context.Context, b *bundle.Bundle) (*Archive, error) {
	classes := b.Classes()
	if len(classes) == 0 {
		return nil, exterr.BundleFormat("bundle %s has no code section", b.Identity())
	}

	stage := monitoring.StartStage(c.metrics, "convert")
	dir, err := c.workspace.Acquire("conv")
	if err != nil {
		return nil, exterr.Unknown(err)
	}
	c.trackWorkspaces()

	archive := &Archive{
		Identity:  b.Identity(),
		Path:      dir.Join(ArchiveName),
		dir:       dir,
		onRelease: c.trackWorkspaces,
	}
	if err := c.convert(ctx, b, classes, archive); err != nil {
		stage.Done(err)
		archive.Close()
		return nil, err
	}
	took := stage.Done(nil)

	for _, d := range archive.Diagnostics {
		if c.metrics != nil {
			c.metrics.RecordDiagnostic(string(d.Severity))
		}
	}
	c.logger.Debug("Converted bundle",
		zap.String("bundle", archive.Identity),
		zap.Int("classes", len(archive.Classes)),
		zap.Int("diagnostics", len(archive.Diagnostics)),
		zap.Bool("patched", archive.Patched),
		zap.Duration("duration", took),
	)
	return archive, nil
}

func (c *Converter) convert(ctx context.Context, b *bundle.Bundle, classes []string, a *Archive) error {
	present := make(map[string]bool, len(classes))
	for _, class := range classes {
		present[class] = true
	}

	units := make(map[string]string, len(classes))
	deps := make(map[string][]string, len(classes))
	for _, class := range classes {
		if err := ctx.Err(); err != nil {
			return exterr.Unknown(err)
		}

		raw, err := b.ReadClass(class)
		if err != nil {
			a.Diagnostics = append(a.Diagnostics, errorf(class, StageRead, "%v", err))
			continue
		}
		src := stripDebug(string(raw))
		wrapped := Wrap(src)
		if _, err := goja.Compile(class, wrapped, false); err != nil {
			a.Diagnostics = append(a.Diagnostics, errorf(class, StageCompile, "%v", err))
			continue
		}
		units[class] = wrapped
		for _, dep := range requires(src) {
			if present[dep] && dep != class {
				deps[class] = append(deps[class], dep)
			}
		}
	}

	// Dependents of failed classes are kept; they fail at load time only if
	// they actually require the missing class.
	converted := make([]string, 0, len(units))
	for _, class := range classes {
		if _, ok := units[class]; !ok {
			continue
		}
		converted = append(converted, class)
		kept := deps[class][:0]
		for _, dep := range deps[class] {
			if _, ok := units[dep]; ok {
				kept = append(kept, dep)
			} else {
				a.Diagnostics = append(a.Diagnostics, warnf(class, StageResolve, "missing dependency %s", dep))
			}
		}
		deps[class] = kept
	}

	sorted, cyclic := order(converted, deps)
	for _, class := range cyclic {
		a.Diagnostics = append(a.Diagnostics, warnf(class, StageOrder, "on or behind a dependency cycle, emitted unordered"))
	}
	a.Classes = append(sorted, cyclic...)

	if err := WriteArchive(a.Path, Index{Identity: a.Identity, Classes: a.Classes}, units); err != nil {
		return exterr.Unknown(err)
	}

	if c.patcher != nil && !hasErrors(a.Diagnostics) {
		report, err := c.patcher.Patch(a.Path)
		if err != nil {
			a.Diagnostics = append(a.Diagnostics, errorf("", StagePatch, "%v", err))
		} else {
			a.Patched = true
			a.Patch = report
		}
	}

	if len(a.Diagnostics) > 0 {
		a.DiagnosticsPath = a.dir.Join(fmt.Sprintf("%s-error.txt", a.Identity))
		if err := writeDiagnostics(a.DiagnosticsPath, a.Identity, a.Diagnostics); err != nil {
			c.logger.Warn("Failed to write diagnostics", zap.String("bundle", a.Identity), zap.Error(err))
		}
		c.logger.Warn("Bundle converted with diagnostics",
			zap.String("bundle", a.Identity),
			zap.Int("count", len(a.Diagnostics)),
			zap.String("file", a.DiagnosticsPath),
		)
	}
	return nil
}

func (c *Converter) trackWorkspaces() {
	if c.metrics != nil {
		c.metrics.SetWorkspacesActive(c.workspace.Active())
	}
}
