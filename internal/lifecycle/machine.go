// Package lifecycle owns every status change of a document and the field
// invariants tied to it: extracted text is present exactly when the status is
// DONE, and a failure reason exactly when it is FAILED.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/pdftext/constants"
	"github.com/joseph-ayodele/pdftext/internal/entity"
	"github.com/joseph-ayodele/pdftext/internal/repository"
	"github.com/joseph-ayodele/pdftext/internal/utils"
)

type status = constants.DocumentStatus

// transitions lists the legal edges. QUEUED is only ever an initial state.
// Self-loops and the edges out of DONE and FAILED cover redelivered jobs.
var transitions = map[status]map[status]bool{
	constants.DocumentStatusQueued: {
		constants.DocumentStatusProcessing: true,
		constants.DocumentStatusFailed:     true,
	},
	constants.DocumentStatusProcessing: {
		constants.DocumentStatusProcessing: true,
		constants.DocumentStatusDone:       true,
		constants.DocumentStatusFailed:     true,
	},
	constants.DocumentStatusDone: {
		constants.DocumentStatusProcessing: true,
		constants.DocumentStatusFailed:     true,
	},
	constants.DocumentStatusFailed: {
		constants.DocumentStatusProcessing: true,
		constants.DocumentStatusFailed:     true,
	},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to status) bool {
	return transitions[from][to]
}

// InvalidTransitionError is returned for an edge not in the table.
type InvalidTransitionError struct {
	From, To status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// Machine applies transitions through a DocumentRepository.
type Machine struct {
	repo repository.DocumentRepository
	log  *slog.Logger
	now  func() time.Time
}

func New(repo repository.DocumentRepository, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{repo: repo, log: log, now: time.Now}
}

// StartProcessing moves doc to PROCESSING and clears the outcome of any earlier attempt.
func (m *Machine) StartProcessing(ctx context.Context, doc *entity.Document) (*entity.Document, error) {
	return m.apply(ctx, doc, constants.DocumentStatusProcessing, ProcessingPatch())
}

// Complete moves doc to DONE with the trimmed text.
func (m *Machine) Complete(ctx context.Context, doc *entity.Document, text string) (*entity.Document, error) {
	return m.apply(ctx, doc, constants.DocumentStatusDone, DonePatch(text, m.now()))
}

// Fail moves doc to FAILED with reason truncated to MaxFailureReasonLen characters.
func (m *Machine) Fail(ctx context.Context, doc *entity.Document, reason string) (*entity.Document, error) {
	return m.apply(ctx, doc, constants.DocumentStatusFailed, FailedPatch(reason))
}

func (m *Machine) apply(ctx context.Context, doc *entity.Document, to status, patch repository.DocumentPatch) (*entity.Document, error) {
	if !CanTransition(doc.Status, to) {
		return nil, &InvalidTransitionError{From: doc.Status, To: to}
	}
	updated, err := m.repo.Update(ctx, doc.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("transition %s -> %s: %w", doc.Status, to, err)
	}
	m.log.Info("document transitioned", "document_id", doc.ID, "from", doc.Status, "to", to)
	return updated, nil
}

// ProcessingPatch is the write for entering PROCESSING.
func ProcessingPatch() repository.DocumentPatch {
	s := constants.DocumentStatusProcessing
	return repository.DocumentPatch{
		Status:        &s,
		ExtractedText: repository.Clear[string](),
		FailureReason: repository.Clear[string](),
		ExtractedAt:   repository.Clear[time.Time](),
	}
}

// DonePatch is the write for entering DONE.
func DonePatch(text string, at time.Time) repository.DocumentPatch {
	s := constants.DocumentStatusDone
	return repository.DocumentPatch{
		Status:        &s,
		ExtractedText: repository.SetTo(strings.TrimSpace(text)),
		FailureReason: repository.Clear[string](),
		ExtractedAt:   repository.SetTo(at.UTC()),
	}
}

// FailedPatch is the write for entering FAILED.
func FailedPatch(reason string) repository.DocumentPatch {
	s := constants.DocumentStatusFailed
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	return repository.DocumentPatch{
		Status:        &s,
		ExtractedText: repository.Clear[string](),
		FailureReason: repository.SetTo(utils.Truncate(reason, constants.MaxFailureReasonLen)),
		ExtractedAt:   repository.Clear[time.Time](),
	}
}

// CheckInvariants reports the first field invariant doc violates.
func CheckInvariants(doc *entity.Document) error {
	if !doc.Status.Valid() {
		return fmt.Errorf("unknown status %q", doc.Status)
	}
	isDone := doc.Status == constants.DocumentStatusDone
	isFailed := doc.Status == constants.DocumentStatusFailed
	if (doc.ExtractedText != nil) != isDone {
		return fmt.Errorf("status %s with extracted text set=%t", doc.Status, doc.ExtractedText != nil)
	}
	if (doc.ExtractedAt != nil) != isDone {
		return fmt.Errorf("status %s with extracted_at set=%t", doc.Status, doc.ExtractedAt != nil)
	}
	if (doc.FailureReason != nil) != isFailed {
		return fmt.Errorf("status %s with failure reason set=%t", doc.Status, doc.FailureReason != nil)
	}
	if doc.FailureReason != nil && len([]rune(*doc.FailureReason)) > constants.MaxFailureReasonLen {
		return fmt.Errorf("failure reason exceeds %d characters", constants.MaxFailureReasonLen)
	}
	return nil
}
