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
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/pdftext/internal/common"
)

// GCSStore stores blobs in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	log    *slog.Logger
}

// NewGCSStore creates a client for bucket. A non-empty endpoint targets an emulator.
func NewGCSStore(ctx context.Context, bucket, endpoint string, log *slog.Logger) (*GCSStore, error) {
	if log == nil {
		log = slog.Default()
	}
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucket), log: log}, nil
}

// Put writes the object once. Keys embed the document id, so an existing object
// with the same key already holds these bytes.
func (g *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := g.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", key, common.Retryable(err))
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			g.log.Debug("gcs object already exists", "key", key)
			return nil
		}
		g.log.Error("gcs write failed", "key", key, "error", err)
		return fmt.Errorf("gcs finalize %s: %w", key, common.Retryable(err))
	}
	return nil
}

func (g *GCSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("blob %s: %w", key, common.ErrNotFound)
		}
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	return r, nil
}

// Close releases the underlying client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}
