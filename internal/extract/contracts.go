package extract

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Engine turns PDF bytes into plain text.
type Engine interface {
	Extract(ctx context.Context, pdf []byte) (Result, error)
}

type Result struct {
	Text     string
	Pages    int
	Method   string // "pdftotext" | "fitz"
	Duration time.Duration
}

// ErrTimeout marks an extraction cut short by its deadline.
var ErrTimeout = errors.New("timeout")

// ExtractionError is returned for PDFs an engine cannot read. It is terminal for the job.
type ExtractionError struct {
	Method string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil && e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsExtractionError reports whether err came from an engine rejecting the input.
func IsExtractionError(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}
