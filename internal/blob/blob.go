// Package blob stores uploaded files and hands out references the pipeline can reopen.
package blob

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidRef = errors.New("invalid blob reference")
)

// Ref identifies a stored file. Name is provider-relative.
type Ref struct {
	Provider string
	Name     string
}

func (r Ref) String() string {
	return r.Provider + "://" + r.Name
}

// Store persists and reopens uploaded files.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader) (Ref, int64, error)
	Open(ctx context.Context, ref Ref) (io.ReadCloser, error)
	// Delete removes a stored file. Deleting a missing file is not an error.
	Delete(ctx context.Context, ref Ref) error
	Close() error
}
