package extract

import (
	"fmt"
	"log/slog"
	"time"
)

type Options struct {
	Engine       string // "pdftotext" | "fitz"
	PdftotextBin string
	Validate     bool
	Timeout      time.Duration
	OCR          *OCRConfig // nil disables the OCR fallback
}

// New assembles the configured engine: base engine, optional structural
// validation and OCR fallback, then the per-job deadline.
func New(opts Options, runner Runner, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var base Engine
	switch opts.Engine {
	case "", methodPdftotext:
		base = NewPdftotextEngine(opts.PdftotextBin, runner, logger)
	case methodFitz:
		base = NewFitzEngine(logger)
	default:
		return nil, fmt.Errorf("unknown extraction engine %q", opts.Engine)
	}
	if opts.Validate {
		base = NewValidating(base, logger)
	}
	if opts.OCR != nil {
		base = NewOCRFallback(base, *opts.OCR, runner, logger)
	}
	return WithTimeout(base, opts.Timeout), nil
}
