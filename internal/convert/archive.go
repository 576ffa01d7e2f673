package convert

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zip"
)

// Archive layout.
const (
	ArchiveName = "classes.zip"
	IndexEntry  = "index.json"
	unitPrefix  = "classes/"
	unitSuffix  = ".js"
)

// Index is the archive manifest: emission order and provenance.
type Index struct {
	Identity string   `json:"identity"`
	Classes  []string `json:"classes"`
	Patched  bool     `json:"patched"`
}

// Contents is a fully read archive.
type Contents struct {
	Index Index
	Units map[string]string
}

func unitEntry(class string) string {
	return unitPrefix + class + unitSuffix
}

// ReadArchive loads an archive written by WriteArchive.
func ReadArchive(path string) (*Contents, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	c := &Contents{Units: make(map[string]string)}
	var haveIndex bool
	for _, f := range zr.File {
		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		switch {
		case f.Name == IndexEntry:
			if err := sonic.Unmarshal(data, &c.Index); err != nil {
				return nil, fmt.Errorf("decode index: %w", err)
			}
			haveIndex = true
		case strings.HasPrefix(f.Name, unitPrefix) && strings.HasSuffix(f.Name, unitSuffix):
			class := strings.TrimSuffix(strings.TrimPrefix(f.Name, unitPrefix), unitSuffix)
			c.Units[class] = string(data)
		}
	}
	if !haveIndex {
		return nil, fmt.Errorf("archive %s has no %s", path, IndexEntry)
	}
	for _, class := range c.Index.Classes {
		if _, ok := c.Units[class]; !ok {
			return nil, fmt.Errorf("archive index lists %s but it has no unit", class)
		}
	}
	return c, nil
}

// WriteArchive writes units in index order, replacing path atomically.
func WriteArchive(path string, idx Index, units map[string]string) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	meta, err := sonic.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := writeEntry(zw, IndexEntry, meta); err != nil {
		return err
	}
	for _, class := range idx.Classes {
		src, ok := units[class]
		if !ok {
			return fmt.Errorf("no unit for %s", class)
		}
		if err := writeEntry(zw, unitEntry(class), []byte(src)); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".archive-*")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write archive: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
