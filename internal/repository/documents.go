package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdftext/constants"
	"github.com/joseph-ayodele/pdftext/internal/entity"
)

// DocumentRepository persists document rows.
type DocumentRepository interface {
	// Create inserts a new row. The caller assigns ID, StorageKey and Status.
	Create(ctx context.Context, doc *entity.Document) error
	// FindByID returns common.ErrNotFound when no row exists.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	// Update applies patch unconditionally and returns the stored row.
	Update(ctx context.Context, id uuid.UUID, patch DocumentPatch) (*entity.Document, error)
	// ListByOwner returns the owner's documents, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*entity.Document, error)
}

// Nullable is a column update. The zero value leaves the column untouched;
// Set with a nil Value writes NULL.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// SetTo returns an update writing v.
func SetTo[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

// Clear returns an update writing NULL.
func Clear[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// DocumentPatch lists the mutable columns of a document.
type DocumentPatch struct {
	Status        *constants.DocumentStatus
	ExtractedText Nullable[string]
	FailureReason Nullable[string]
	ExtractedAt   Nullable[time.Time]
}

// Apply mutates doc in place; used by stores that read-modify-write.
func (p DocumentPatch) Apply(doc *entity.Document, now time.Time) {
	if p.Status != nil {
		doc.Status = *p.Status
	}
	if p.ExtractedText.Set {
		doc.ExtractedText = p.ExtractedText.Value
	}
	if p.FailureReason.Set {
		doc.FailureReason = p.FailureReason.Value
	}
	if p.ExtractedAt.Set {
		doc.ExtractedAt = p.ExtractedAt.Value
	}
	doc.UpdatedAt = now
}
