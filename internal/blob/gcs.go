package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

const providerGCS = "gcs"

// GCSStore keeps files as objects in a single bucket. Writes are create-only.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	log    *slog.Logger
}

var _ Store = (*GCSStore)(nil)

// NewGCS uses application default credentials.
func NewGCS(ctx context.Context, bucket string, log *slog.Logger) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket must be provided")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucket), log: log}, nil
}

func (s *GCSStore) Save(ctx context.Context, name string, r io.Reader) (Ref, int64, error) {
	writer := s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	n, err := io.Copy(writer, r)
	if err != nil {
		_ = writer.Close()
		return Ref{}, 0, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			// Object names are generated per upload; an existing object is the same upload retried.
			s.log.Info("object already exists, keeping existing", "object", name)
			return Ref{Provider: providerGCS, Name: name}, n, nil
		}
		return Ref{}, 0, fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return Ref{Provider: providerGCS, Name: name}, n, nil
}

func (s *GCSStore) Open(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	if ref.Provider != providerGCS {
		return nil, fmt.Errorf("%w: provider %q", ErrInvalidRef, ref.Provider)
	}
	rc, err := s.bucket.Object(ref.Name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return rc, err
}

func (s *GCSStore) Delete(ctx context.Context, ref Ref) error {
	if ref.Provider != providerGCS {
		return fmt.Errorf("%w: provider %q", ErrInvalidRef, ref.Provider)
	}
	err := s.bucket.Object(ref.Name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
