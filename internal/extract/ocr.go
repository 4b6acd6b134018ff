package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const methodOCR = "ocr"

var reBoxNoise = regexp.MustCompile(`[│┃┆┇┊┋]+`)

type OCRConfig struct {
	PdftoppmBin  string // default "pdftoppm"
	TesseractBin string // default "tesseract"
	Lang         string // default "eng"
	DPI          int    // default 300
	MaxPages     int    // 0 = no limit
	TessdataDir  string
}

// OCRFallback runs next and, when it finds no text layer, rasterizes the pages
// with pdftoppm and reads them with tesseract.
type OCRFallback struct {
	next   Engine
	cfg    OCRConfig
	runner Runner
	log    *slog.Logger
}

func NewOCRFallback(next Engine, cfg OCRConfig, runner Runner, logger *slog.Logger) *OCRFallback {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	if cfg.PdftoppmBin == "" {
		cfg.PdftoppmBin = "pdftoppm"
	}
	if cfg.TesseractBin == "" {
		cfg.TesseractBin = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &OCRFallback{next: next, cfg: cfg, runner: runner, log: logger}
}

func (o *OCRFallback) Extract(ctx context.Context, pdf []byte) (Result, error) {
	res, err := o.next.Extract(ctx, pdf)
	if err != nil || strings.TrimSpace(strings.ReplaceAll(res.Text, "\f", "")) != "" {
		return res, err
	}
	o.log.Info("no text layer, falling back to OCR", "pages", res.Pages)

	start := time.Now()
	text, pages, err := o.ocr(ctx, pdf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, &ExtractionError{Method: methodOCR, Reason: "timeout: " + ctxErr.Error(), Err: ErrTimeout}
		}
		return Result{}, &ExtractionError{Method: methodOCR, Err: err}
	}
	return Result{Text: text, Pages: pages, Method: methodOCR, Duration: res.Duration + time.Since(start)}, nil
}

func (o *OCRFallback) ocr(ctx context.Context, pdf []byte) (string, int, error) {
	tmpDir, err := os.MkdirTemp("", "pdftext-ocr-*")
	if err != nil {
		return "", 0, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			o.log.Warn("failed to remove temp dir", "dir", tmpDir, "error", err)
		}
	}()

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return "", 0, err
	}
	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", strconv.Itoa(o.cfg.DPI), "-png"}
	if o.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(o.cfg.MaxPages))
	}
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	if _, errb, err := o.runner.Run(ctx, nil, o.cfg.PdftoppmBin, append(args, in, prefix)...); err != nil {
		return "", 0, fmt.Errorf("pdftoppm: %s", firstNonEmpty(strings.TrimSpace(string(errb)), err.Error()))
	}

	// prefix-1.png, prefix-2.png, ... zero padded by page count
	images, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(images)
	if len(images) == 0 {
		return "", 0, fmt.Errorf("pdftoppm produced no images")
	}

	var b strings.Builder
	failed := 0
	for _, img := range images {
		txt, err := o.tesseract(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, ctx.Err()
			}
			o.log.Warn("page OCR failed", "image", filepath.Base(img), "error", err)
			failed++
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\f")
		}
		b.WriteString(txt)
	}
	if failed == len(images) {
		return "", 0, fmt.Errorf("tesseract failed on all %d pages", failed)
	}
	return b.String(), len(images), nil
}

func (o *OCRFallback) tesseract(ctx context.Context, img string) (string, error) {
	args := []string{img, "stdout", "-l", o.cfg.Lang}
	if o.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", o.cfg.TessdataDir)
	}
	// tesseract <file> stdout -l <lang>
	out, errb, err := o.runner.Run(ctx, nil, o.cfg.TesseractBin, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %s", firstNonEmpty(strings.TrimSpace(string(errb)), err.Error()))
	}
	return reBoxNoise.ReplaceAllString(string(out), ""), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
