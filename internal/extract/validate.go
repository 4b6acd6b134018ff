package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const methodValidate = "pdfcpu"

func init() {
	// pdfcpu otherwise creates a config dir under the user's home on first use.
	api.DisableConfigDir()
}

// Validating rejects structurally broken PDFs (truncated or dangling xref,
// unparsable objects, no pages) before the wrapped engine runs, so they fail
// with a precise reason.
type Validating struct {
	next Engine
	conf *model.Configuration
	log  *slog.Logger
}

func NewValidating(next Engine, logger *slog.Logger) *Validating {
	if logger == nil {
		logger = slog.Default()
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Validating{next: next, conf: conf, log: logger}
}

func (v *Validating) Extract(ctx context.Context, pdf []byte) (Result, error) {
	if err := checkXRef(pdf); err != nil {
		v.log.Debug("pdf xref check failed", "error", err)
		return Result{}, &ExtractionError{Method: methodValidate, Reason: "invalid PDF: " + err.Error(), Err: err}
	}
	if err := api.Validate(bytes.NewReader(pdf), v.conf); err != nil {
		v.log.Debug("pdf validation failed", "error", err)
		return Result{}, &ExtractionError{Method: methodValidate, Reason: "invalid PDF: " + err.Error(), Err: err}
	}
	pages, err := api.PageCount(bytes.NewReader(pdf), v.conf)
	if err != nil {
		return Result{}, &ExtractionError{Method: methodValidate, Reason: "invalid PDF: " + err.Error(), Err: err}
	}
	if pages == 0 {
		return Result{}, &ExtractionError{Method: methodValidate, Reason: "invalid PDF: document has no pages"}
	}
	return v.next.Extract(ctx, pdf)
}

// xrefTail bounds the search for the final startxref.
const xrefTail = 2048

var reXRefStream = regexp.MustCompile(`^\d+\s+\d+\s+obj\b`)

// checkXRef verifies that the last startxref points at a complete xref section.
// pdfcpu silently rebuilds a damaged table by scanning objects, which lets a
// truncated upload through.
func checkXRef(pdf []byte) error {
	tail := pdf
	if len(tail) > xrefTail {
		tail = tail[len(tail)-xrefTail:]
	}
	i := bytes.LastIndex(tail, []byte("startxref"))
	if i < 0 {
		return errors.New("missing startxref")
	}
	rest := tail[i+len("startxref"):]
	eof := bytes.Index(rest, []byte("%%EOF"))
	if eof < 0 {
		return errors.New("missing %%EOF after startxref")
	}
	off, err := strconv.ParseInt(string(bytes.TrimSpace(rest[:eof])), 10, 64)
	if err != nil || off <= 0 || off >= int64(len(pdf)) {
		return fmt.Errorf("startxref offset %q out of range", bytes.TrimSpace(rest[:eof]))
	}

	section := bytes.TrimLeft(pdf[off:], " \t\r\n")
	switch {
	case bytes.HasPrefix(section, []byte("xref")):
		return checkXRefTable(section[len("xref"):])
	case reXRefStream.Match(section):
		// Cross-reference streams are decoded and checked by pdfcpu.
		return nil
	default:
		return fmt.Errorf("startxref %d does not point at an xref section", off)
	}
}

// checkXRefTable walks the subsections of a classic xref table up to its trailer.
func checkXRefTable(b []byte) error {
	lines := bytes.FieldsFunc(b, func(r rune) bool { return r == '\r' || r == '\n' })
	total := 0
	for n := 0; n < len(lines); {
		line := bytes.TrimSpace(lines[n])
		n++
		if bytes.HasPrefix(line, []byte("trailer")) {
			return nil
		}
		hdr := bytes.Fields(line)
		if len(hdr) != 2 {
			return fmt.Errorf("malformed xref subsection header %q", line)
		}
		count, err := strconv.Atoi(string(hdr[1]))
		if _, err2 := strconv.Atoi(string(hdr[0])); err != nil || err2 != nil || count < 0 {
			return fmt.Errorf("malformed xref subsection header %q", line)
		}
		for k := 0; k < count; k++ {
			if n >= len(lines) || !isXRefEntry(lines[n]) {
				return fmt.Errorf("xref table truncated after %d entries", total+k)
			}
			n++
		}
		total += count
	}
	return fmt.Errorf("xref table truncated after %d entries: no trailer", total)
}

func isXRefEntry(line []byte) bool {
	f := bytes.Fields(line)
	if len(f) != 3 || (string(f[2]) != "n" && string(f[2]) != "f") {
		return false
	}
	_, err1 := strconv.ParseInt(string(f[0]), 10, 64)
	_, err2 := strconv.Atoi(string(f[1]))
	return err1 == nil && err2 == nil
}
