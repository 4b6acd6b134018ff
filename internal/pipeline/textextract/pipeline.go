package textextract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdftext/internal/blob"
	"github.com/joseph-ayodele/pdftext/internal/common"
	"github.com/joseph-ayodele/pdftext/internal/entity"
	"github.com/joseph-ayodele/pdftext/internal/extract"
	"github.com/joseph-ayodele/pdftext/internal/lifecycle"
	"github.com/joseph-ayodele/pdftext/internal/repository"
)

// ErrDocumentNotFound means the job names a document with no row. Retrying cannot help.
var ErrDocumentNotFound = errors.New("document not found")

type Pipeline struct {
	Docs    repository.DocumentRepository
	Blobs   blob.Store
	Engine  extract.Engine
	Machine *lifecycle.Machine
	Log     *slog.Logger
}

func NewPipeline(docs repository.DocumentRepository, blobs blob.Store, engine extract.Engine, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{Docs: docs, Blobs: blobs, Engine: engine, Machine: lifecycle.New(docs, log), Log: log}
}

// Run extracts the text of one document: PROCESSING, fetch blob, extract, DONE.
// Any failure after the row is loaded is recorded as FAILED before returning it.
// A missing row is returned as ErrDocumentNotFound without writing anything.
func (p *Pipeline) Run(ctx context.Context, id uuid.UUID) (extract.Result, error) {
	doc, err := p.Docs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return extract.Result{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		return extract.Result{}, fmt.Errorf("load document: %w", err)
	}
	if doc.Status.Terminal() {
		p.Log.Info("reprocessing document", "document_id", id, "status", doc.Status)
	}

	latest, res, err := p.process(ctx, doc)
	if err != nil {
		p.recordFailure(ctx, latest, err.Error())
		return res, err
	}
	return res, nil
}

// process returns the latest stored version of doc alongside any error, so a
// failure is recorded against the state the row is actually in.
func (p *Pipeline) process(ctx context.Context, doc *entity.Document) (*entity.Document, extract.Result, error) {
	started, err := p.Machine.StartProcessing(ctx, doc)
	if err != nil {
		return doc, extract.Result{}, err
	}

	data, err := blob.ReadAll(ctx, p.Blobs, started.StorageKey)
	if err != nil {
		return started, extract.Result{}, fmt.Errorf("fetch blob %s: %w", started.StorageKey, err)
	}

	res, err := p.Engine.Extract(ctx, data)
	if err != nil {
		return started, res, err
	}

	done, err := p.Machine.Complete(ctx, started, res.Text)
	if err != nil {
		return started, res, err
	}
	p.Log.Info("document extracted",
		"document_id", done.ID,
		"method", res.Method,
		"pages", res.Pages,
		"chars", len(*done.ExtractedText),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return done, res, nil
}

// recordFailure writes FAILED. Errors are logged and swallowed: the job is
// already lost and the caller still has to settle the message.
func (p *Pipeline) recordFailure(ctx context.Context, doc *entity.Document, reason string) {
	if _, err := p.Machine.Fail(ctx, doc, reason); err != nil {
		p.Log.Error("failed to record document failure", "document_id", doc.ID, "reason", reason, "error", err)
		return
	}
	p.Log.Warn("document failed", "document_id", doc.ID, "reason", reason)
}

// RecordFailure loads the document and marks it FAILED. Used when a job
// aborts outside Run's own error handling (panics).
func (p *Pipeline) RecordFailure(ctx context.Context, id uuid.UUID, reason string) {
	doc, err := p.Docs.FindByID(ctx, id)
	if err != nil {
		p.Log.Error("failed to load document for failure record", "document_id", id, "error", err)
		return
	}
	p.recordFailure(ctx, doc, reason)
}
