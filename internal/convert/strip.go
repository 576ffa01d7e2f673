package convert

import (
	"regexp"
	"strings"
)

var (
	// //# sourceMappingURL=..., //@ sourceURL=... and similar pragmas
	debugPragma  = regexp.MustCompile(`^\s*//[#@]\s*source(Mapping)?URL=`)
	debuggerStmt = regexp.MustCompile(`^\s*debugger\s*;?\s*$`)
)

// stripDebug removes debugging metadata line by line. Line count is kept so
// runtime stack traces still point at the original lines. Exception handling
// and identifiers are never touched.
func stripDebug(src string) string {
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		if debugPragma.MatchString(line) || debuggerStmt.MatchString(line) {
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

var requireCall = regexp.MustCompile(`require\(\s*["']([A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)*)["']\s*\)`)

// requires lists the distinct class names src passes to require, in order of
// first appearance.
func requires(src string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range requireCall.FindAllStringSubmatch(src, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Wrap turns a class unit into a CommonJS factory expression.
func Wrap(src string) string {
	return "(function (module, exports, require) {\n" + src + "\n})"
}
