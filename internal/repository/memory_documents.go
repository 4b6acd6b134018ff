package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdftext/internal/common"
	"github.com/joseph-ayodele/pdftext/internal/entity"
)

// MemoryDocumentRepository keeps documents in a map. Rows are copied on the
// way in and out so callers never share state with the store.
type MemoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]entity.Document
	now  func() time.Time
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{docs: make(map[uuid.UUID]entity.Document), now: time.Now}
}

func (r *MemoryDocumentRepository) Create(_ context.Context, doc *entity.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; ok {
		return common.WrapError(fmt.Errorf("%w: duplicate id", common.ErrDatabase), fmt.Sprintf("create document %s", doc.ID))
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now().UTC()
	}
	doc.UpdatedAt = doc.CreatedAt
	r.docs[doc.ID] = cloneDocument(*doc)
	return nil
}

func (r *MemoryDocumentRepository) FindByID(_ context.Context, id uuid.UUID) (*entity.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, common.WrapError(common.ErrNotFound, fmt.Sprintf("document %s", id))
	}
	out := cloneDocument(doc)
	return &out, nil
}

func (r *MemoryDocumentRepository) Update(_ context.Context, id uuid.UUID, patch DocumentPatch) (*entity.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, common.WrapError(common.ErrNotFound, fmt.Sprintf("document %s", id))
	}
	patch.Apply(&doc, r.now().UTC())
	doc = cloneDocument(doc)
	r.docs[id] = doc
	out := cloneDocument(doc)
	return &out, nil
}

func (r *MemoryDocumentRepository) ListByOwner(_ context.Context, ownerID string) ([]*entity.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Document
	for _, doc := range r.docs {
		if doc.OwnerID != ownerID {
			continue
		}
		c := cloneDocument(doc)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out, nil
}

// Len reports the number of stored documents.
func (r *MemoryDocumentRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

func cloneDocument(d entity.Document) entity.Document {
	if d.ExtractedText != nil {
		v := *d.ExtractedText
		d.ExtractedText = &v
	}
	if d.FailureReason != nil {
		v := *d.FailureReason
		d.FailureReason = &v
	}
	if d.ExtractedAt != nil {
		v := *d.ExtractedAt
		d.ExtractedAt = &v
	}
	return d
}
