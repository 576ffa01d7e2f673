package compat

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/convert"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
)

// Namespace prefixes every patched platform reference.
const Namespace = "compat."

var platformRef = regexp.MustCompile(`(require\(\s*["'])(androidx?\.)`)

// Patcher rewrites platform references in a converted archive.
type Patcher struct {
	logger *logging.Logger
}

// NewPatcher creates a patcher. logger may be nil.
func NewPatcher(logger *logging.Logger) *Patcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Patcher{logger: logger.Named("patcher")}
}

// Patch rewrites require("android.…") and require("androidx.…") to the
// compat namespace in every class, then replaces the archive. Entries and
// their order are unchanged.
func (p *Patcher) Patch(path string) (convert.PatchReport, error) {
	contents, err := convert.ReadArchive(path)
	if err != nil {
		return convert.PatchReport{}, fmt.Errorf("patch: %w", err)
	}

	report := convert.PatchReport{Rewrites: make(map[string]int)}
	for _, class := range contents.Index.Classes {
		src := contents.Units[class]
		n := len(platformRef.FindAllStringIndex(src, -1))
		if n == 0 {
			continue
		}
		contents.Units[class] = platformRef.ReplaceAllString(src, "${1}"+Namespace+"${2}")
		report.Rewrites[class] = n
	}

	idx := contents.Index
	idx.Patched = true
	if err := convert.WriteArchive(path, idx, contents.Units); err != nil {
		return convert.PatchReport{}, fmt.Errorf("patch: %w", err)
	}

	p.logger.Debug("Patched archive",
		zap.String("bundle", idx.Identity),
		zap.Int("classes", len(report.Rewrites)),
		zap.Int("rewrites", report.Total()),
	)
	return report, nil
}
