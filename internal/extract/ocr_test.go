package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ocrRunner renders `pages` blank PNGs for pdftoppm and answers tesseract
// with the image's base name.
type ocrRunner struct {
	pages     int
	failPages map[string]bool
	calls     []string
}

func (r *ocrRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	r.calls = append(r.calls, name)
	switch name {
	case "pdftoppm":
		prefix := args[len(args)-1]
		for i := 1; i <= r.pages; i++ {
			if err := os.WriteFile(prefix+"-"+string(rune('0'+i))+".png", nil, 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	case "tesseract":
		base := filepath.Base(args[0])
		if r.failPages[base] {
			return nil, []byte("Error in pixRead"), errors.New("exit status 1")
		}
		return []byte("text of " + base + "│"), nil, nil
	}
	return nil, nil, errors.New("unexpected command " + name)
}

func TestOCRFallback_SkipsWhenTextLayerPresent(t *testing.T) {
	base := engineFunc(func(ctx context.Context, pdf []byte) (Result, error) {
		return Result{Text: "Hello", Pages: 1, Method: methodPdftotext}, nil
	})
	r := &ocrRunner{pages: 1}
	res, err := NewOCRFallback(base, OCRConfig{}, r, testLogger()).Extract(context.Background(), []byte(helloPDF))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Method != methodPdftotext || len(r.calls) != 0 {
		t.Fatalf("OCR should not run: method=%s calls=%v", res.Method, r.calls)
	}
}

func TestOCRFallback_ReadsScannedPages(t *testing.T) {
	base := engineFunc(func(ctx context.Context, pdf []byte) (Result, error) {
		return Result{Text: "\f\f", Pages: 2, Method: methodPdftotext}, nil
	})
	r := &ocrRunner{pages: 2}
	res, err := NewOCRFallback(base, OCRConfig{}, r, testLogger()).Extract(context.Background(), []byte(helloPDF))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Method != methodOCR || res.Pages != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	want := "text of page-1.png\ftext of page-2.png"
	if res.Text != want {
		t.Fatalf("text = %q, want %q", res.Text, want)
	}
}

func TestOCRFallback_PartialPageFailure(t *testing.T) {
	base := engineFunc(func(ctx context.Context, pdf []byte) (Result, error) {
		return Result{}, nil
	})
	r := &ocrRunner{pages: 2, failPages: map[string]bool{"page-1.png": true}}
	res, err := NewOCRFallback(base, OCRConfig{}, r, testLogger()).Extract(context.Background(), []byte(helloPDF))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "text of page-2.png" {
		t.Fatalf("text = %q", res.Text)
	}

	r = &ocrRunner{pages: 1, failPages: map[string]bool{"page-1.png": true}}
	_, err = NewOCRFallback(base, OCRConfig{}, r, testLogger()).Extract(context.Background(), []byte(helloPDF))
	if !IsExtractionError(err) || !strings.Contains(err.Error(), "all 1 pages") {
		t.Fatalf("expected extraction error, got %v", err)
	}
}

func TestOCRFallback_PassesBaseErrorThrough(t *testing.T) {
	boom := &ExtractionError{Method: methodPdftotext, Reason: "broken xref"}
	base := engineFunc(func(ctx context.Context, pdf []byte) (Result, error) {
		return Result{}, boom
	})
	r := &ocrRunner{pages: 1}
	_, err := NewOCRFallback(base, OCRConfig{}, r, testLogger()).Extract(context.Background(), []byte(helloPDF))
	if !errors.Is(err, boom) || len(r.calls) != 0 {
		t.Fatalf("expected base error untouched, got %v (calls %v)", err, r.calls)
	}
}
