package docservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/starford/mdbase/internal/apperr"
	"github.com/starford/mdbase/internal/lock"
	"github.com/starford/mdbase/internal/models"
)

// attachmentPath validates name as a plain, visible file name and returns
// its path inside the folder document rec.
func attachmentPath(rec models.Record, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required: %w", apperr.ErrInvalid)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid filename %q: %w", name, apperr.ErrInvalid)
	}
	if !rec.Document.IsFolder {
		return "", fmt.Errorf("%s is not a folder document: %w", rec.Path, apperr.ErrInvalid)
	}
	p := path.Join(rec.Path, name)
	if p == rec.ContentPath {
		return "", fmt.Errorf("%s is the document file: %w", name, apperr.ErrInvalid)
	}
	return p, nil
}

// AddAttachment stores data as name inside a folder document and returns the
// repository-relative path of the file. An existing attachment is replaced.
func (s *Service) AddAttachment(ctx context.Context, token, name string, data []byte) (string, error) {
	var p string
	err := lock.With(ctx, s.locker, func() error {
		rec, err := s.Resolve(ctx, token)
		if err != nil {
			return err
		}
		p, err = attachmentPath(rec, name)
		if err != nil {
			return err
		}
		return s.repo.FS().WriteFile(p, data)
	})
	if err != nil {
		return "", fmt.Errorf("docservice: add attachment: %w", err)
	}
	return p, nil
}

// ReadAttachment returns the content of an attachment of a folder document.
func (s *Service) ReadAttachment(ctx context.Context, token, name string) ([]byte, error) {
	rec, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	p, err := attachmentPath(rec, name)
	if err != nil {
		return nil, err
	}
	data, err := s.repo.FS().ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", p, apperr.ErrNotFound)
	}
	return data, err
}
