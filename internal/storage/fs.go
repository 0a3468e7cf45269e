package storage

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// Disk implements FS backed by the local file system.
type Disk struct {
	root string // absolute path to the repository directory
}

var _ FS = (*Disk)(nil)

// NewDisk creates a Disk rooted at the given directory.
// The directory must already exist.
func NewDisk(root string) (*Disk, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &Disk{root: abs}, nil
}

// Root returns the absolute repository directory.
func (d *Disk) Root() string { return d.root }

// safePath resolves a relative path against the root and rejects
// any result that escapes it (directory traversal).
func (d *Disk) safePath(rel string) (string, error) {
	if rel == "" || rel == "." {
		return d.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(d.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	// Ensure the resolved path is still under root.
	if !strings.HasPrefix(abs, d.root+string(os.PathSeparator)) && abs != d.root {
		return "", fmt.Errorf("storage: path escapes repository root: %s", rel)
	}
	return abs, nil
}

// ReadFile returns the raw bytes of a file.
func (d *Disk) ReadFile(path string) ([]byte, error) {
	abs, err := d.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile writes data through a temp file and rename so readers never see
// a partial document.
func (d *Disk) WriteFile(path string, data []byte) error {
	abs, err := d.safePath(path)
	if err != nil {
		return err
	}
	if abs == d.root {
		return fmt.Errorf("storage: write to root directory")
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	if err := atomic.WriteFile(abs, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	return nil
}

// Remove deletes a file or empty directory.
func (d *Disk) Remove(path string) error {
	abs, err := d.rootlessPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: remove %s: %w", path, err)
	}
	return nil
}

// RemoveAll deletes a directory tree.
func (d *Disk) RemoveAll(path string) error {
	abs, err := d.rootlessPath(path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("storage: remove all %s: %w", path, err)
	}
	return nil
}

// Rename moves a file or directory within the repository.
func (d *Disk) Rename(oldPath, newPath string) error {
	absOld, err := d.rootlessPath(oldPath)
	if err != nil {
		return err
	}
	absNew, err := d.rootlessPath(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for rename: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// MkdirAll creates a directory with any missing parents.
func (d *Disk) MkdirAll(path string) error {
	abs, err := d.safePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", path, err)
	}
	return nil
}

// Stat describes a file.
func (d *Disk) Stat(path string) (fs.FileInfo, error) {
	abs, err := d.safePath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	return info, nil
}

// ReadDir lists a directory.
func (d *Disk) ReadDir(path string) ([]fs.DirEntry, error) {
	abs, err := d.safePath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read dir %s: %w", path, err)
	}
	return entries, nil
}

// Walk visits dir depth-first, passing slash paths relative to the root.
func (d *Disk) Walk(dir string, fn fs.WalkDirFunc) error {
	base, err := d.safePath(dir)
	if err != nil {
		return err
	}
	return filepath.WalkDir(base, func(p string, entry fs.DirEntry, walkErr error) error {
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), entry, walkErr)
	})
}

// rootlessPath is safePath that refuses the root itself, so a bad relative
// path can never delete or move the whole repository.
func (d *Disk) rootlessPath(path string) (string, error) {
	abs, err := d.safePath(path)
	if err != nil {
		return "", err
	}
	if abs == d.root {
		return "", fmt.Errorf("storage: refusing to modify repository root")
	}
	return abs, nil
}
