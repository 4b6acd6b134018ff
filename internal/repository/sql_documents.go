package repository

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdftext/constants"
	"github.com/joseph-ayodele/pdftext/internal/common"
	"github.com/joseph-ayodele/pdftext/internal/entity"
)

const documentsTable = "documents"

var documentColumns = []string{
	"id", "owner_id", "filename", "storage_key", "status",
	"extracted_text", "failure_reason", "created_at", "updated_at", "extracted_at",
}

type sqlDocumentRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

// NewSQLDocumentRepository stores documents in the documents table of db.
func NewSQLDocumentRepository(db *DB, log *slog.Logger) DocumentRepository {
	if log == nil {
		log = slog.Default()
	}
	return &sqlDocumentRepo{db: db, log: log, now: time.Now}
}

func (r *sqlDocumentRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.Dialect)
}

func (r *sqlDocumentRepo) Create(ctx context.Context, doc *entity.Document) error {
	now := r.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = doc.CreatedAt

	query, args := r.builder().
		Insert(documentsTable).
		Columns(documentColumns...).
		Values(
			doc.ID.String(), doc.OwnerID, doc.Filename, doc.StorageKey, string(doc.Status),
			nullString(doc.ExtractedText), nullString(doc.FailureReason),
			doc.CreatedAt.UnixMilli(), doc.UpdatedAt.UnixMilli(), nullMillis(doc.ExtractedAt),
		).
		Query()

	var res stdsql.Result
	if err := r.db.Driver.Exec(ctx, query, args, &res); err != nil {
		r.log.Error("document create failed", "document_id", doc.ID, "err", err)
		return common.WrapError(fmt.Errorf("%w: %w", common.ErrDatabase, err), "create document")
	}
	r.log.Debug("document created", "document_id", doc.ID, "owner_id", doc.OwnerID, "status", doc.Status)
	return nil
}

func (r *sqlDocumentRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	b := r.builder()
	query, args := b.Select(documentColumns...).
		From(b.Table(documentsTable)).
		Where(entsql.EQ("id", id.String())).
		Limit(1).
		Query()

	docs, err := r.query(ctx, query, args)
	if err != nil {
		r.log.Error("document lookup failed", "document_id", id, "err", err)
		return nil, err
	}
	if len(docs) == 0 {
		return nil, common.WrapError(common.ErrNotFound, fmt.Sprintf("document %s", id))
	}
	return docs[0], nil
}

func (r *sqlDocumentRepo) Update(ctx context.Context, id uuid.UUID, patch DocumentPatch) (*entity.Document, error) {
	upd := r.builder().Update(documentsTable).
		Set("updated_at", r.now().UTC().UnixMilli())
	if patch.Status != nil {
		upd.Set("status", string(*patch.Status))
	}
	if patch.ExtractedText.Set {
		setNullable(upd, "extracted_text", nullString(patch.ExtractedText.Value), patch.ExtractedText.Value == nil)
	}
	if patch.FailureReason.Set {
		setNullable(upd, "failure_reason", nullString(patch.FailureReason.Value), patch.FailureReason.Value == nil)
	}
	if patch.ExtractedAt.Set {
		setNullable(upd, "extracted_at", nullMillis(patch.ExtractedAt.Value), patch.ExtractedAt.Value == nil)
	}
	query, args := upd.Where(entsql.EQ("id", id.String())).Query()

	var res stdsql.Result
	if err := r.db.Driver.Exec(ctx, query, args, &res); err != nil {
		r.log.Error("document update failed", "document_id", id, "err", err)
		return nil, common.WrapError(fmt.Errorf("%w: %w", common.ErrDatabase, err), "update document")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, common.WrapError(common.ErrNotFound, fmt.Sprintf("document %s", id))
	}
	return r.FindByID(ctx, id)
}

func (r *sqlDocumentRepo) ListByOwner(ctx context.Context, ownerID string) ([]*entity.Document, error) {
	b := r.builder()
	query, args := b.Select(documentColumns...).
		From(b.Table(documentsTable)).
		Where(entsql.EQ("owner_id", ownerID)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id")).
		Query()

	docs, err := r.query(ctx, query, args)
	if err != nil {
		r.log.Error("document list failed", "owner_id", ownerID, "err", err)
		return nil, err
	}
	return docs, nil
}

func (r *sqlDocumentRepo) query(ctx context.Context, query string, args []any) ([]*entity.Document, error) {
	var rows entsql.Rows
	if err := r.db.Driver.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(&rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	return out, nil
}

func scanDocument(rows *entsql.Rows) (*entity.Document, error) {
	var (
		id, status           string
		doc                  entity.Document
		text, reason         stdsql.NullString
		createdAt, updatedAt int64
		extractedAt          stdsql.NullInt64
	)
	if err := rows.Scan(&id, &doc.OwnerID, &doc.Filename, &doc.StorageKey, &status,
		&text, &reason, &createdAt, &updatedAt, &extractedAt); err != nil {
		return nil, fmt.Errorf("%w: scan document: %w", common.ErrDatabase, err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: bad document id %q: %w", common.ErrDatabase, id, err)
	}
	doc.ID = parsed
	doc.Status = constants.DocumentStatus(status)
	if text.Valid {
		doc.ExtractedText = &text.String
	}
	if reason.Valid {
		doc.FailureReason = &reason.String
	}
	doc.CreatedAt = time.UnixMilli(createdAt).UTC()
	doc.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if extractedAt.Valid {
		t := time.UnixMilli(extractedAt.Int64).UTC()
		doc.ExtractedAt = &t
	}
	return &doc, nil
}

func setNullable(upd *entsql.UpdateBuilder, column string, v any, null bool) {
	if null {
		upd.SetNull(column)
		return
	}
	upd.Set(column, v)
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}
