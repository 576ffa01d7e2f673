// Package paths resolves the on-disk layout below the process data root.
//
// The root defaults to the per-user config directory and is overridden by the
// second positional argument of the server binary.
package paths
