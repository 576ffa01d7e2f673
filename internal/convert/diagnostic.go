package convert

import (
	"fmt"
	"os"
	"strings"
)

// Severity grades a diagnostic. Only errors block the patch pass.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Stage names where a diagnostic was raised.
type Stage string

const (
	StageRead    Stage = "read"
	StageCompile Stage = "compile"
	StageResolve Stage = "resolve"
	StageOrder   Stage = "order"
	StagePatch   Stage = "patch"
)

// Diagnostic is one per-class conversion finding.
type Diagnostic struct {
	Class    string   `json:"class"`
	Stage    Stage    `json:"stage"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s\t%s\t%s\t%s", d.Severity, d.Stage, d.Class, d.Message)
}

func errorf(class string, stage Stage, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Class: class, Stage: stage, Severity: SeverityError, Message: fmt.Sprintf(format, args...)}
}

func warnf(class string, stage Stage, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Class: class, Stage: stage, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)}
}

func hasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// writeDiagnostics writes one line per finding, headed by the bundle identity.
func writeDiagnostics(path, identity string, diags []Diagnostic) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# conversion diagnostics for %s\n", identity)
	for _, d := range diags {
		sb.WriteString(d.String())
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
