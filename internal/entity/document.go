package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdftext/constants"
)

// Document is an uploaded PDF and the outcome of extracting its text.
type Document struct {
	ID            uuid.UUID                `json:"id"`
	OwnerID       string                   `json:"owner_id"`
	Filename      string                   `json:"filename"`
	StorageKey    string                   `json:"storage_key"`
	Status        constants.DocumentStatus `json:"status"`
	ExtractedText *string                  `json:"extracted_text,omitempty"`
	FailureReason *string                  `json:"failure_reason,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
	ExtractedAt   *time.Time               `json:"extracted_at,omitempty"`
}

// Summary returns a copy without the extracted text, for list views.
func (d *Document) Summary() *Document {
	cp := *d
	cp.ExtractedText = nil
	return &cp
}
