package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/pdftext/constants"
	"github.com/joseph-ayodele/pdftext/internal/common"
	"github.com/joseph-ayodele/pdftext/internal/entity"
)

// firestoreDocument is the stored shape of a document; the Firestore doc ID is the document id.
type firestoreDocument struct {
	OwnerID       string     `firestore:"ownerId"`
	Filename      string     `firestore:"filename"`
	StorageKey    string     `firestore:"storageKey"`
	Status        string     `firestore:"status"`
	ExtractedText *string    `firestore:"extractedText"`
	FailureReason *string    `firestore:"failureReason"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
	ExtractedAt   *time.Time `firestore:"extractedAt"`
}

type firestoreDocumentRepo struct {
	client     *firestore.Client
	collection string
	log        *slog.Logger
	now        func() time.Time
}

// NewFirestoreClient creates a Firestore client for projectID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// NewFirestoreDocumentRepository stores documents in a Firestore collection.
func NewFirestoreDocumentRepository(client *firestore.Client, collection string, log *slog.Logger) DocumentRepository {
	if log == nil {
		log = slog.Default()
	}
	if collection == "" {
		collection = "documents"
	}
	return &firestoreDocumentRepo{client: client, collection: collection, log: log, now: time.Now}
}

func (r *firestoreDocumentRepo) ref(id uuid.UUID) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(id.String())
}

func (r *firestoreDocumentRepo) Create(ctx context.Context, doc *entity.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now().UTC()
	}
	doc.UpdatedAt = doc.CreatedAt
	if _, err := r.ref(doc.ID).Create(ctx, toFirestore(doc)); err != nil {
		r.log.Error("document create failed", "document_id", doc.ID, "err", err)
		return common.WrapError(mapFirestoreErr(err), "create document")
	}
	return nil
}

func (r *firestoreDocumentRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	snap, err := r.ref(id).Get(ctx)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			r.log.Error("document lookup failed", "document_id", id, "err", err)
		}
		return nil, common.WrapError(mapFirestoreErr(err), fmt.Sprintf("document %s", id))
	}
	return fromSnapshot(snap)
}

func (r *firestoreDocumentRepo) Update(ctx context.Context, id uuid.UUID, patch DocumentPatch) (*entity.Document, error) {
	updates := []firestore.Update{{Path: "updatedAt", Value: r.now().UTC()}}
	if patch.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*patch.Status)})
	}
	if patch.ExtractedText.Set {
		updates = append(updates, firestore.Update{Path: "extractedText", Value: patch.ExtractedText.Value})
	}
	if patch.FailureReason.Set {
		updates = append(updates, firestore.Update{Path: "failureReason", Value: patch.FailureReason.Value})
	}
	if patch.ExtractedAt.Set {
		updates = append(updates, firestore.Update{Path: "extractedAt", Value: patch.ExtractedAt.Value})
	}
	if _, err := r.ref(id).Update(ctx, updates); err != nil {
		r.log.Error("document update failed", "document_id", id, "err", err)
		return nil, common.WrapError(mapFirestoreErr(err), "update document")
	}
	return r.FindByID(ctx, id)
}

func (r *firestoreDocumentRepo) ListByOwner(ctx context.Context, ownerID string) ([]*entity.Document, error) {
	snaps, err := r.client.Collection(r.collection).
		Where("ownerId", "==", ownerID).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx).
		GetAll()
	if err != nil {
		r.log.Error("document list failed", "owner_id", ownerID, "err", err)
		return nil, common.WrapError(mapFirestoreErr(err), "list documents")
	}
	out := make([]*entity.Document, 0, len(snaps))
	for _, snap := range snaps {
		doc, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func toFirestore(doc *entity.Document) firestoreDocument {
	return firestoreDocument{
		OwnerID:       doc.OwnerID,
		Filename:      doc.Filename,
		StorageKey:    doc.StorageKey,
		Status:        string(doc.Status),
		ExtractedText: doc.ExtractedText,
		FailureReason: doc.FailureReason,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		ExtractedAt:   doc.ExtractedAt,
	}
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (*entity.Document, error) {
	var fd firestoreDocument
	if err := snap.DataTo(&fd); err != nil {
		return nil, fmt.Errorf("%w: decode document %s: %w", common.ErrDatabase, snap.Ref.ID, err)
	}
	id, err := uuid.Parse(snap.Ref.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad document id %q: %w", common.ErrDatabase, snap.Ref.ID, err)
	}
	return &entity.Document{
		ID:            id,
		OwnerID:       fd.OwnerID,
		Filename:      fd.Filename,
		StorageKey:    fd.StorageKey,
		Status:        constants.DocumentStatus(fd.Status),
		ExtractedText: fd.ExtractedText,
		FailureReason: fd.FailureReason,
		CreatedAt:     fd.CreatedAt.UTC(),
		UpdatedAt:     fd.UpdatedAt.UTC(),
		ExtractedAt:   fd.ExtractedAt,
	}, nil
}

func mapFirestoreErr(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %w", common.ErrNotFound, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %w", common.ErrDatabase, common.Retryable(err))
	default:
		return fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
}
