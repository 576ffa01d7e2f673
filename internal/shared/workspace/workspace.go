// Package workspace hands out scoped scratch directories for conversions.
//
// Every conversion acquires its own directory and releases it when the
// result is no longer needed. Sweep removes whatever is still present, and
// runs at controller shutdown.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
)

// Root owns a directory of scoped scratch directories.
type Root struct {
	path   string
	logger *logging.Logger
	active atomic.Int64
}

// Dir is one scoped scratch directory. Release is idempotent.
type Dir struct {
	Path string

	root *Root
	once sync.Once
	err  error
}

// New prepares the workspace root at path.
func New(path string, logger *logging.Logger) (*Root, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Root{path: path, logger: logger.Named("workspace")}, nil
}

// Path returns the workspace root directory.
func (r *Root) Path() string {
	return r.path
}

// Acquire creates a fresh, uniquely named directory below the root.
func (r *Root) Acquire(prefix string) (*Dir, error) {
	name := fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	path := filepath.Join(r.path, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("acquire workspace: %w", err)
	}
	r.active.Add(1)
	return &Dir{Path: path, root: r}, nil
}

// Active reports how many acquired directories have not been released.
func (r *Root) Active() int {
	return int(r.active.Load())
}

// Release deletes the directory and everything in it.
func (d *Dir) Release() error {
	d.once.Do(func() {
		d.err = os.RemoveAll(d.Path)
		d.root.active.Add(-1)
		if d.err != nil {
			d.root.logger.Warn("Failed to release workspace", zap.String("path", d.Path), zap.Error(d.err))
		}
	})
	return d.err
}

// Join returns a path inside the directory.
func (d *Dir) Join(elem ...string) string {
	return filepath.Join(append([]string{d.Path}, elem...)...)
}

// Usage counts regular files left below the root.
func (r *Root) Usage() (files int, bytes int64, err error) {
	var mu sync.Mutex
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, r.path, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !de.Type().IsRegular() {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		mu.Lock()
		files++
		bytes += info.Size()
		mu.Unlock()
		return nil
	})
	return files, bytes, err
}

// Sweep removes every leftover directory and reports how many files it held.
func (r *Root) Sweep() (int, error) {
	files, size, err := r.Usage()
	if err != nil {
		return 0, fmt.Errorf("scan workspace: %w", err)
	}

	entries, err := os.ReadDir(r.path)
	if err != nil {
		return 0, fmt.Errorf("read workspace: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(r.path, e.Name())); err != nil {
			return files, fmt.Errorf("sweep %s: %w", e.Name(), err)
		}
	}

	if files > 0 {
		r.logger.Info("Swept workspace leftovers",
			zap.Int("files", files),
			zap.Int64("bytes", size),
			zap.Int("unreleased", r.Active()),
		)
	}
	return files, nil
}
