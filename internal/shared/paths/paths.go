package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// AppName names the default data directory.
const AppName = "mextensionserver"

// Subdirectories of the data root.
const (
	WorkspaceDir = "work"
	PrefsDir     = "prefs"
	ConfigFile   = "server.toml"
)

// Layout resolves every on-disk location below one data root.
type Layout struct {
	Root string
}

// New returns the layout rooted at root, or at DefaultRoot when root is empty.
func New(root string) Layout {
	if root == "" {
		root = DefaultRoot()
	}
	return Layout{Root: filepath.Clean(root)}
}

// DefaultRoot is the per-user data directory, falling back to the temp dir.
func DefaultRoot() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(os.TempDir(), AppName)
}

// Workspace holds per-conversion scratch directories.
func (l Layout) Workspace() string {
	return filepath.Join(l.Root, WorkspaceDir)
}

// Prefs holds persisted extension preferences.
func (l Layout) Prefs() string {
	return filepath.Join(l.Root, PrefsDir)
}

// Config is the optional configuration overlay file.
func (l Layout) Config() string {
	return filepath.Join(l.Root, ConfigFile)
}

// StandardDirectories returns all directories that must exist before serving.
func (l Layout) StandardDirectories() []string {
	return []string{l.Root, l.Workspace(), l.Prefs()}
}

// Ensure creates the standard directories.
func (l Layout) Ensure() error {
	for _, dir := range l.StandardDirectories() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ValidateName checks that name is safe to use as a single path element.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("name cannot be an absolute path")
	}
	if filepath.Base(name) != name || name == "." || name == ".." {
		return fmt.Errorf("name must be a single path element: %q", name)
	}
	return nil
}
