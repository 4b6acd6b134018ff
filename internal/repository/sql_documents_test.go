package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdftext/constants"
	"github.com/joseph-ayodele/pdftext/internal/common"
	"github.com/joseph-ayodele/pdftext/internal/entity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Driver: "sqlite", DSN: ":memory:"}, testLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newDoc(owner string) *entity.Document {
	id := uuid.New()
	return &entity.Document{
		ID:         id,
		OwnerID:    owner,
		Filename:   "hello.pdf",
		StorageKey: owner + "/" + id.String() + ".pdf",
		Status:     constants.DocumentStatusQueued,
	}
}

func TestSQLDocumentRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLDocumentRepository(openTestDB(t), testLogger())

	doc := newDoc("owner-1")
	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.FindByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != constants.DocumentStatusQueued {
		t.Fatalf("expected QUEUED, got %s", got.Status)
	}
	if got.StorageKey != doc.StorageKey || got.OwnerID != "owner-1" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.ExtractedText != nil || got.FailureReason != nil || got.ExtractedAt != nil {
		t.Fatalf("expected nullable fields unset: %+v", got)
	}
}

func TestSQLDocumentRepository_CreateDuplicateFails(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLDocumentRepository(openTestDB(t), testLogger())

	doc := newDoc("owner-1")
	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, doc); !errors.Is(err, common.ErrDatabase) {
		t.Fatalf("expected database error on duplicate id, got %v", err)
	}
}

func TestSQLDocumentRepository_FindMissing(t *testing.T) {
	repo := NewSQLDocumentRepository(openTestDB(t), testLogger())
	_, err := repo.FindByID(context.Background(), uuid.New())
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLDocumentRepository_UpdateSetsAndClears(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLDocumentRepository(openTestDB(t), testLogger())
	doc := newDoc("owner-1")
	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := constants.DocumentStatusDone
	at := time.Now().UTC().Truncate(time.Millisecond)
	got, err := repo.Update(ctx, doc.ID, DocumentPatch{
		Status:        &done,
		ExtractedText: SetTo("Hello World"),
		FailureReason: Clear[string](),
		ExtractedAt:   SetTo(at),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Status != done || got.ExtractedText == nil || *got.ExtractedText != "Hello World" {
		t.Fatalf("unexpected row after DONE: %+v", got)
	}
	if got.ExtractedAt == nil || !got.ExtractedAt.Equal(at) {
		t.Fatalf("expected extracted_at %s, got %v", at, got.ExtractedAt)
	}

	processing := constants.DocumentStatusProcessing
	got, err = repo.Update(ctx, doc.ID, DocumentPatch{
		Status:        &processing,
		ExtractedText: Clear[string](),
		ExtractedAt:   Clear[time.Time](),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.ExtractedText != nil || got.ExtractedAt != nil {
		t.Fatalf("expected cleared text, got %+v", got)
	}
	if got.Filename != "hello.pdf" {
		t.Fatalf("untouched column changed: %q", got.Filename)
	}
}

func TestSQLDocumentRepository_UpdateMissing(t *testing.T) {
	repo := NewSQLDocumentRepository(openTestDB(t), testLogger())
	failed := constants.DocumentStatusFailed
	_, err := repo.Update(context.Background(), uuid.New(), DocumentPatch{Status: &failed})
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLDocumentRepository_ListByOwnerNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLDocumentRepository(openTestDB(t), testLogger())

	base := time.Now().Add(-time.Hour)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		doc := newDoc("owner-1")
		doc.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, doc); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := repo.Create(ctx, newDoc("owner-2")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	docs, err := repo.ListByOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
	if docs[0].ID != ids[2] || docs[2].ID != ids[0] {
		t.Fatalf("expected newest first, got %v %v %v", docs[0].ID, docs[1].ID, docs[2].ID)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := db.HealthCheck(context.Background(), time.Second); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
