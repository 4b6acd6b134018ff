package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/pdftext/internal/common"
	"github.com/joseph-ayodele/pdftext/internal/entity"
	"github.com/joseph-ayodele/pdftext/internal/export"
	"github.com/joseph-ayodele/pdftext/internal/ingest"
)

// multipartOverhead is allowed on top of the file size for form boundaries and headers.
const multipartOverhead = 1 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// DocumentHandler serves the owner-scoped document API.
type DocumentHandler struct {
	docs    *ingest.Service
	exports *export.Service
	logger  *slog.Logger
}

func NewDocumentHandler(docs *ingest.Service, exports *export.Service, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{docs: docs, exports: exports, logger: logger}
}

type listResponse struct {
	Documents []*entity.Document `json:"documents"`
}

type enqueueFailedResponse struct {
	Error    string           `json:"error"`
	Document *entity.Document `json:"document"`
}

// List handles GET /documents.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := common.OwnerIDFromContext(r.Context())
	docs, err := h.docs.List(r.Context(), owner)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Documents: docs})
}

// Get handles GET /documents/{id}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseUUID("id", mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	doc, err := h.docs.Get(r.Context(), common.OwnerIDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Upload handles POST /documents with a multipart "file" field.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.docs.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, h.logger, common.NewAppError("VALIDATION_ERROR", "file too large", common.ErrInvalidInput))
			return
		}
		writeError(w, r, h.logger, common.NewAppError("VALIDATION_ERROR", "expected multipart form with a file field", common.ErrInvalidInput))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, h.logger, common.NewAppError("VALIDATION_ERROR", "missing file", common.ErrInvalidInput))
		return
	}
	defer file.Close()

	// Read one byte past the limit so oversize files are rejected, not truncated.
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, r, h.logger, fmt.Errorf("read upload: %w", err))
		return
	}

	doc, err := h.docs.Upload(r.Context(), ingest.UploadRequest{
		OwnerID:     common.OwnerIDFromContext(r.Context()),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		if doc != nil && errors.Is(err, common.ErrEnqueueFailed) {
			h.logger.Error("upload stored but not queued", "document_id", doc.ID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, enqueueFailedResponse{
				Error:    "document stored but could not be queued; retry with republish",
				Document: doc,
			})
			return
		}
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// Republish handles POST /documents/{id}/republish.
func (h *DocumentHandler) Republish(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseUUID("id", mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	doc, err := h.docs.Republish(r.Context(), common.OwnerIDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc.Summary())
}

// Export handles GET /documents/export.xlsx?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (h *DocumentHandler) Export(w http.ResponseWriter, r *http.Request) {
	var window export.Window
	var err error
	if window.From, err = parseDate(r.URL.Query().Get("from"), "from"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if window.To, err = parseDate(r.URL.Query().Get("to"), "to"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	owner := common.OwnerIDFromContext(r.Context())
	xlsx, err := h.exports.ExportXLSX(r.Context(), []string{owner}, window)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="documents.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(xlsx)
}

func parseDate(s, field string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, common.NewAppError("VALIDATION_ERROR", field+" must be YYYY-MM-DD", common.ErrInvalidInput)
	}
	return &t, nil
}
