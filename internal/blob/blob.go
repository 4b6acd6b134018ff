package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdftext/constants"
)

// Store holds uploaded PDF bytes addressed by storage key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns common.ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// StorageKey is the blob key of a document: "<ownerID>/<documentID>.pdf".
func StorageKey(ownerID string, id uuid.UUID) string {
	return fmt.Sprintf("%s/%s.%s", ownerID, id, constants.PDFExtension)
}

// ReadAll fetches key and reads it fully.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
