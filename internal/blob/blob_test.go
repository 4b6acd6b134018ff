package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdftext/internal/common"
)

func TestStorageKey(t *testing.T) {
	id := uuid.MustParse("0b5d0f4e-7c4a-4c1e-9a7e-3f1b8d0c2a11")
	if got := StorageKey("user-42", id); got != "user-42/0b5d0f4e-7c4a-4c1e-9a7e-3f1b8d0c2a11.pdf" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	data := []byte("%PDF-1.4")
	if err := s.Put(ctx, "a/b.pdf", data, "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data[0] = 'X'

	got, err := ReadAll(ctx, s, "a/b.pdf")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "%PDF-1.4" {
		t.Fatalf("stored bytes aliased caller buffer: %q", got)
	}

	if _, err := s.Get(ctx, "missing.pdf"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
