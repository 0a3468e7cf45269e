// Package storage defines the repository file-system abstraction.
package storage

import "io/fs"

// FS is the file-system capability the repository is built on. Every path is
// slash-separated and relative to Root.
type FS interface {
	// Root returns the absolute directory the FS is rooted at.
	Root() string
	// ReadFile returns the raw bytes of the file at path.
	ReadFile(path string) ([]byte, error)
	// WriteFile atomically replaces the file at path, creating parents.
	WriteFile(path string, data []byte) error
	// Remove deletes a file or an empty directory.
	Remove(path string) error
	// RemoveAll deletes path and everything below it.
	RemoveAll(path string) error
	// Rename moves oldPath to newPath, creating the parents of newPath.
	Rename(oldPath, newPath string) error
	// MkdirAll creates a directory and any missing parents.
	MkdirAll(path string) error
	// Stat describes the file at path.
	Stat(path string) (fs.FileInfo, error)
	// ReadDir lists a directory sorted by name.
	ReadDir(path string) ([]fs.DirEntry, error)
	// Walk visits dir depth-first in lexical order. fn receives paths
	// relative to Root and may return fs.SkipDir.
	Walk(dir string, fn fs.WalkDirFunc) error
}
