package extract

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

const methodPdftotext = "pdftotext"

var pdfMagic = []byte("%PDF-")

// PdftotextEngine shells out to poppler's pdftotext, streaming the PDF on stdin.
type PdftotextEngine struct {
	bin    string
	runner Runner
	log    *slog.Logger
}

func NewPdftotextEngine(bin string, runner Runner, logger *slog.Logger) *PdftotextEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if bin == "" {
		bin = "pdftotext"
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &PdftotextEngine{bin: bin, runner: runner, log: logger}
}

func (e *PdftotextEngine) Extract(ctx context.Context, pdf []byte) (Result, error) {
	start := time.Now()
	if !bytes.HasPrefix(bytes.TrimLeft(pdf, "\x00\t\r\n "), pdfMagic) {
		return Result{}, &ExtractionError{Method: methodPdftotext, Reason: "input is not a PDF"}
	}

	// pdftotext -layout -enc UTF-8 -eol unix - -
	out, errb, err := e.runner.Run(ctx, pdf, e.bin, "-layout", "-enc", "UTF-8", "-eol", "unix", "-", "-")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, &ExtractionError{Method: methodPdftotext, Reason: "timeout: " + ctxErr.Error(), Err: errors.Join(ErrTimeout, ctxErr)}
		}
		reason := strings.TrimSpace(string(errb))
		if reason == "" {
			reason = err.Error()
		}
		return Result{}, &ExtractionError{Method: methodPdftotext, Reason: reason, Err: err}
	}

	text := string(out)
	// A form-feed \f is used as page separator by default
	pages := strings.Count(text, "\f")
	if !strings.HasSuffix(text, "\f") {
		pages++
	}
	e.log.Debug("pdftotext extracted", "pages", pages, "chars", len(text))
	return Result{Text: text, Pages: pages, Method: methodPdftotext, Duration: time.Since(start)}, nil
}
