package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdftext/constants"
	"github.com/joseph-ayodele/pdftext/internal/blob"
	"github.com/joseph-ayodele/pdftext/internal/common"
	"github.com/joseph-ayodele/pdftext/internal/entity"
	"github.com/joseph-ayodele/pdftext/internal/repository"
)

// Service accepts uploads and answers document queries for their owners.
type Service struct {
	docs      repository.DocumentRepository
	blobs     blob.Store
	publisher Publisher
	maxBytes  int64
	logger    *slog.Logger
	newID     func() uuid.UUID
}

func NewService(docs repository.DocumentRepository, blobs blob.Store, publisher Publisher, maxBytes int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = constants.DefaultMaxUploadBytes
	}
	return &Service{
		docs:      docs,
		blobs:     blobs,
		publisher: publisher,
		maxBytes:  maxBytes,
		logger:    logger,
		newID:     uuid.New,
	}
}

// MaxUploadBytes is the largest accepted upload.
func (s *Service) MaxUploadBytes() int64 {
	return s.maxBytes
}

// Upload stores the PDF, records a QUEUED document and publishes its job.
// The row is written before the job is published, so a worker never sees a
// job for a document that does not exist. When publishing fails the QUEUED
// document is returned together with an error wrapping ErrEnqueueFailed.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*entity.Document, error) {
	req.Filename = cleanFilename(req.Filename)
	v := common.NewValidator()
	v.Field("owner_id", req.OwnerID, common.Required)
	v.Field("file", req.Data, common.Required, common.MaxBytes(s.maxBytes))
	v.Field("filename", req.Filename, common.MaxLength(255))
	v.Check(constants.IsPDF(req.ContentType, req.Filename), "file", "must be a PDF")
	if err := v.Err(); err != nil {
		s.logger.Warn("upload rejected", "owner_id", req.OwnerID, "filename", req.Filename, "error", err)
		return nil, err
	}

	id := s.newID()
	doc := &entity.Document{
		ID:         id,
		OwnerID:    req.OwnerID,
		Filename:   req.Filename,
		StorageKey: blob.StorageKey(req.OwnerID, id),
		Status:     constants.DocumentStatusQueued,
	}

	if err := s.blobs.Put(ctx, doc.StorageKey, req.Data, constants.PDFContentType); err != nil {
		s.logger.Error("blob upload failed", "document_id", id, "key", doc.StorageKey, "error", err)
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		s.logger.Error("document insert failed, blob left orphaned", "document_id", id, "key", doc.StorageKey, "error", err)
		return nil, err
	}
	s.logger.Info("document uploaded", "document_id", id, "owner_id", doc.OwnerID, "bytes", len(req.Data))

	if err := s.publisher.PublishExtract(ctx, id); err != nil {
		s.logger.Error("enqueue failed, document left QUEUED", "document_id", id, "error", err)
		return doc, fmt.Errorf("%w: %w", common.ErrEnqueueFailed, err)
	}
	return doc, nil
}

// Get returns the owner's document including extracted text.
func (s *Service) Get(ctx context.Context, ownerID string, id uuid.UUID) (*entity.Document, error) {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		s.logger.Warn("document access denied", "document_id", id, "owner_id", ownerID)
		return nil, common.NewAppError("ACCESS_DENIED", "document belongs to another owner", common.ErrAccessDenied)
	}
	return doc, nil
}

// List returns the owner's documents newest first, without extracted text.
func (s *Service) List(ctx context.Context, ownerID string) ([]*entity.Document, error) {
	docs, err := s.docs.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Summary())
	}
	return out, nil
}

// ErrNotRepublishable is returned for documents that are processing or done.
var ErrNotRepublishable = errors.New("document is not queued or failed")

// Republish publishes another job for a QUEUED or FAILED document. It is the
// recovery path for uploads whose first publish failed.
func (s *Service) Republish(ctx context.Context, ownerID string, id uuid.UUID) (*entity.Document, error) {
	doc, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case constants.DocumentStatusQueued, constants.DocumentStatusFailed:
	default:
		return nil, common.NewAppError("INVALID_STATE", fmt.Sprintf("document is %s", doc.Status),
			errors.Join(common.ErrInvalidInput, ErrNotRepublishable))
	}
	if err := s.publisher.PublishExtract(ctx, id); err != nil {
		return doc, fmt.Errorf("%w: %w", common.ErrEnqueueFailed, err)
	}
	s.logger.Info("document republished", "document_id", id, "status", doc.Status)
	return doc, nil
}

// cleanFilename drops any client-supplied directory, in either slash style,
// and names anonymous uploads.
func cleanFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	switch name {
	case ".", "/", "..":
		return "document." + constants.PDFExtension
	}
	return name
}
