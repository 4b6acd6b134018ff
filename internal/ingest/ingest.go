package ingest

import (
	"context"

	"github.com/google/uuid"
)

// Publisher enqueues an extraction job for a stored document.
type Publisher interface {
	PublishExtract(ctx context.Context, id uuid.UUID) error
}

// UploadRequest is one PDF submitted by an owner.
type UploadRequest struct {
	OwnerID     string
	Filename    string
	ContentType string
	Data        []byte
}

// FileResult is the per-file outcome of a directory ingest.
type FileResult struct {
	Path       string
	DocumentID string
	Queued     bool
	Err        string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}
