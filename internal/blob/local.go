package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const providerLocal = "local"

// LocalStore keeps files in a directory on disk.
type LocalStore struct {
	dir string
}

var _ Store = (*LocalStore)(nil)

// NewLocal creates dir if needed.
func NewLocal(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Save(_ context.Context, name string, r io.Reader) (Ref, int64, error) {
	path, err := s.path(name)
	if err != nil {
		return Ref{}, 0, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Ref{}, 0, fmt.Errorf("failed to create %s: %w", name, err)
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return Ref{}, 0, fmt.Errorf("failed to write %s: %w", name, err)
	}
	return Ref{Provider: providerLocal, Name: name}, n, nil
}

func (s *LocalStore) Open(_ context.Context, ref Ref) (io.ReadCloser, error) {
	if ref.Provider != providerLocal {
		return nil, fmt.Errorf("%w: provider %q", ErrInvalidRef, ref.Provider)
	}
	path, err := s.path(ref.Name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return f, err
}

func (s *LocalStore) Delete(_ context.Context, ref Ref) error {
	if ref.Provider != providerLocal {
		return fmt.Errorf("%w: provider %q", ErrInvalidRef, ref.Provider)
	}
	path, err := s.path(ref.Name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", ref.Name, err)
	}
	return nil
}

func (s *LocalStore) Close() error { return nil }

func (s *LocalStore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, name)
	}
	return filepath.Join(s.dir, name), nil
}
