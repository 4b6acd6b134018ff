package extract

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
)

const methodFitz = "fitz"

// FitzEngine extracts text in process with MuPDF.
type FitzEngine struct {
	log *slog.Logger
}

func NewFitzEngine(logger *slog.Logger) *FitzEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &FitzEngine{log: logger}
}

func (e *FitzEngine) Extract(ctx context.Context, pdf []byte) (Result, error) {
	start := time.Now()
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return Result{}, &ExtractionError{Method: methodFitz, Reason: "failed to open PDF: " + err.Error(), Err: err}
	}
	defer doc.Close()

	pages := doc.NumPage()
	var b strings.Builder
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, &ExtractionError{Method: methodFitz, Reason: "timeout: " + err.Error(), Err: ErrTimeout}
		}
		txt, err := doc.Text(i)
		if err != nil {
			e.log.Warn("failed to extract page text", "page", i+1, "error", err)
			return Result{}, &ExtractionError{Method: methodFitz, Reason: "page " + strconv.Itoa(i+1) + ": " + err.Error(), Err: err}
		}
		if i > 0 {
			b.WriteString("\f")
		}
		b.WriteString(txt)
	}
	return Result{Text: b.String(), Pages: pages, Method: methodFitz, Duration: time.Since(start)}, nil
}
