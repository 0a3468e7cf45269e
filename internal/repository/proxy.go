package repository

import "github.com/starford/mdbase/internal/storage"

// proxyFS forwards to the underlying FS and invalidates the cache after every
// mutating call, whether or not it succeeded.
type proxyFS struct {
	storage.FS
	invalidate func()
}

func (p *proxyFS) WriteFile(path string, data []byte) error {
	defer p.invalidate()
	return p.FS.WriteFile(path, data)
}

func (p *proxyFS) Remove(path string) error {
	defer p.invalidate()
	return p.FS.Remove(path)
}

func (p *proxyFS) RemoveAll(path string) error {
	defer p.invalidate()
	return p.FS.RemoveAll(path)
}

func (p *proxyFS) Rename(oldPath, newPath string) error {
	defer p.invalidate()
	return p.FS.Rename(oldPath, newPath)
}

func (p *proxyFS) MkdirAll(path string) error {
	defer p.invalidate()
	return p.FS.MkdirAll(path)
}
