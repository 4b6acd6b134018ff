package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdftext/constants"
	"github.com/joseph-ayodele/pdftext/internal/entity"
	"github.com/joseph-ayodele/pdftext/internal/repository"
)

func setup(t *testing.T) (*Machine, repository.DocumentRepository, *entity.Document) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.Open(context.Background(), repository.Config{Driver: "sqlite", DSN: ":memory:"}, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := repository.NewSQLDocumentRepository(db, logger)

	id := uuid.New()
	doc := &entity.Document{
		ID:         id,
		OwnerID:    "owner",
		Filename:   "hello.pdf",
		StorageKey: "owner/" + id.String() + ".pdf",
		Status:     constants.DocumentStatusQueued,
	}
	if err := repo.Create(context.Background(), doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	return New(repo, logger), repo, doc
}

func mustHold(t *testing.T, doc *entity.Document) {
	t.Helper()
	if err := CheckInvariants(doc); err != nil {
		t.Fatalf("invariant violated: %v (%+v)", err, doc)
	}
}

func TestCanTransition(t *testing.T) {
	const (
		Q = constants.DocumentStatusQueued
		P = constants.DocumentStatusProcessing
		D = constants.DocumentStatusDone
		F = constants.DocumentStatusFailed
	)
	tests := []struct {
		from, to constants.DocumentStatus
		want     bool
	}{
		{Q, P, true}, {Q, F, true}, {Q, D, false}, {Q, Q, false},
		{P, P, true}, {P, D, true}, {P, F, true}, {P, Q, false},
		{D, P, true}, {D, F, true}, {D, D, false}, {D, Q, false},
		{F, P, true}, {F, F, true}, {F, D, false}, {F, Q, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %t, want %t", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestHappyPath(t *testing.T) {
	ctx := context.Background()
	m, _, doc := setup(t)
	mustHold(t, doc)

	doc, err := m.StartProcessing(ctx, doc)
	if err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}
	if doc.Status != constants.DocumentStatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", doc.Status)
	}
	mustHold(t, doc)

	doc, err = m.Complete(ctx, doc, "  Hello World\n\n")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	mustHold(t, doc)
	if *doc.ExtractedText != "Hello World" {
		t.Fatalf("expected trimmed text, got %q", *doc.ExtractedText)
	}
}

func TestFailTruncatesReason(t *testing.T) {
	ctx := context.Background()
	m, _, doc := setup(t)

	doc, _ = m.StartProcessing(ctx, doc)
	doc, err := m.Fail(ctx, doc, strings.Repeat("é", 2000))
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	mustHold(t, doc)
	if n := utf8.RuneCountInString(*doc.FailureReason); n != constants.MaxFailureReasonLen {
		t.Fatalf("expected %d characters, got %d", constants.MaxFailureReasonLen, n)
	}
	if !strings.HasSuffix(*doc.FailureReason, "…") {
		t.Fatal("expected ellipsis marker on truncated reason")
	}
}

func TestFailFromQueued(t *testing.T) {
	m, _, doc := setup(t)
	doc, err := m.Fail(context.Background(), doc, "blob missing")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	mustHold(t, doc)
}

func TestReentryClearsPreviousOutcome(t *testing.T) {
	ctx := context.Background()
	m, _, doc := setup(t)

	doc, _ = m.StartProcessing(ctx, doc)
	doc, _ = m.Fail(ctx, doc, "boom")
	doc, err := m.StartProcessing(ctx, doc)
	if err != nil {
		t.Fatalf("FAILED -> PROCESSING: %v", err)
	}
	mustHold(t, doc)

	doc, _ = m.Complete(ctx, doc, "text")
	doc, err = m.StartProcessing(ctx, doc)
	if err != nil {
		t.Fatalf("DONE -> PROCESSING: %v", err)
	}
	mustHold(t, doc)
	if doc.ExtractedText != nil {
		t.Fatal("expected text cleared on re-entry")
	}
}

func TestIllegalTransitionDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	m, repo, doc := setup(t)

	_, err := m.Complete(ctx, doc, "skip processing")
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	stored, err := repo.FindByID(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != constants.DocumentStatusQueued {
		t.Fatalf("row changed to %s", stored.Status)
	}
}

func TestFailedPatchEmptyReason(t *testing.T) {
	p := FailedPatch("   ")
	if p.FailureReason.Value == nil || *p.FailureReason.Value != "unknown error" {
		t.Fatalf("expected placeholder reason, got %+v", p.FailureReason)
	}
}
