package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/joseph-ayodele/pdftext/internal/extract/extracttest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	stdout, stderr string
	err            error
	gotStdin       []byte
	gotName        string
	gotArgs        []string
	block          bool
}

func (f *fakeRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	f.gotStdin, f.gotName, f.gotArgs = stdin, name, args
	if f.block {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	return []byte(f.stdout), []byte(f.stderr), f.err
}

type engineFunc func(ctx context.Context, pdf []byte) (Result, error)

func (f engineFunc) Extract(ctx context.Context, pdf []byte) (Result, error) { return f(ctx, pdf) }

const helloPDF = "%PDF-1.4\n..."

func TestPdftotextEngine_Success(t *testing.T) {
	r := &fakeRunner{stdout: "Hello World\n\fSecond page\n\f"}
	e := NewPdftotextEngine("pdftotext", r, testLogger())

	res, err := e.Extract(context.Background(), []byte(helloPDF))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(res.Text, "Hello World") {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Pages != 2 {
		t.Fatalf("expected 2 pages, got %d", res.Pages)
	}
	if string(r.gotStdin) != helloPDF {
		t.Fatal("expected pdf bytes on stdin")
	}
	if got := strings.Join(r.gotArgs, " "); got != "-layout -enc UTF-8 -eol unix - -" {
		t.Fatalf("unexpected args %q", got)
	}
}

func TestPdftotextEngine_CommandFailure(t *testing.T) {
	r := &fakeRunner{stderr: "Syntax Error: Couldn't read xref table\n", err: errors.New("exit status 1")}
	e := NewPdftotextEngine("pdftotext", r, testLogger())

	_, err := e.Extract(context.Background(), []byte(helloPDF))
	if !IsExtractionError(err) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "xref") {
		t.Fatalf("expected stderr in reason, got %q", err.Error())
	}
}

func TestPdftotextEngine_RejectsNonPDF(t *testing.T) {
	r := &fakeRunner{}
	e := NewPdftotextEngine("", r, testLogger())
	_, err := e.Extract(context.Background(), []byte("just text"))
	if !IsExtractionError(err) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if r.gotName != "" {
		t.Fatal("runner must not be invoked for non-PDF input")
	}
}

func TestWithTimeout_EngineIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := engineFunc(func(ctx context.Context, pdf []byte) (Result, error) {
		<-release
		return Result{Text: "late"}, nil
	})

	_, err := WithTimeout(slow, 20*time.Millisecond).Extract(context.Background(), nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "deadline: timeout") {
		t.Fatalf("unexpected reason %q", err.Error())
	}
}

func TestWithTimeout_RunnerKilledByDeadline(t *testing.T) {
	r := &fakeRunner{block: true}
	e := WithTimeout(NewPdftotextEngine("pdftotext", r, testLogger()), 20*time.Millisecond)

	_, err := e.Extract(context.Background(), []byte(helloPDF))
	if !errors.Is(err, ErrTimeout) || !IsExtractionError(err) {
		t.Fatalf("expected timeout extraction error, got %v", err)
	}
}

func TestWithTimeout_Disabled(t *testing.T) {
	inner := engineFunc(func(ctx context.Context, pdf []byte) (Result, error) { return Result{Text: "x"}, nil })
	if got := WithTimeout(inner, 0); got == nil {
		t.Fatal("expected engine")
	}
	res, err := WithTimeout(inner, 0).Extract(context.Background(), nil)
	if err != nil || res.Text != "x" {
		t.Fatalf("unexpected result %+v %v", res, err)
	}
}

func TestValidating_RejectsGarbage(t *testing.T) {
	called := false
	inner := engineFunc(func(ctx context.Context, pdf []byte) (Result, error) {
		called = true
		return Result{}, nil
	})
	_, err := NewValidating(inner, testLogger()).Extract(context.Background(), []byte("%PDF-1.4\nnot really"))
	if !IsExtractionError(err) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if called {
		t.Fatal("inner engine must not run on invalid input")
	}
}

func TestValidating_AcceptsWellFormedPDF(t *testing.T) {
	called := false
	inner := engineFunc(func(ctx context.Context, pdf []byte) (Result, error) {
		called = true
		return Result{Text: "ok"}, nil
	})
	if _, err := NewValidating(inner, testLogger()).Extract(context.Background(), extracttest.HelloPDF()); err != nil {
		t.Fatalf("valid PDF rejected: %v", err)
	}
	if !called {
		t.Fatal("inner engine did not run")
	}
}

func TestValidating_RejectsBrokenXRef(t *testing.T) {
	cases := []struct {
		name, reason string
		pdf          []byte
	}{
		{"truncated inside table", "missing startxref", extracttest.TruncatedXRefPDF()},
		{"entries missing before trailer", "xref table truncated after 4 entries", extracttest.ShortXRefPDF()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inner := engineFunc(func(ctx context.Context, pdf []byte) (Result, error) {
				t.Fatal("inner engine must not run on a broken xref")
				return Result{}, nil
			})
			_, err := NewValidating(inner, testLogger()).Extract(context.Background(), tc.pdf)
			if !IsExtractionError(err) {
				t.Fatalf("expected ExtractionError, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.reason) {
				t.Fatalf("reason %q does not mention %q", err.Error(), tc.reason)
			}
		})
	}
}

func TestNew_TruncatedXRefFailsBeforeEngine(t *testing.T) {
	r := &fakeRunner{stdout: "should not be read"}
	e, err := New(Options{Engine: "pdftotext", Validate: true, Timeout: time.Minute}, r, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = e.Extract(context.Background(), extracttest.TruncatedXRefPDF())
	if !IsExtractionError(err) || !strings.HasPrefix(err.Error(), "pdfcpu: invalid PDF") {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if r.gotName != "" {
		t.Fatalf("pdftotext ran: %s", r.gotName)
	}
}

func TestDeadline_RecoversEnginePanic(t *testing.T) {
	boom := engineFunc(func(ctx context.Context, pdf []byte) (Result, error) {
		panic("malformed xref")
	})
	_, err := WithTimeout(boom, time.Minute).Extract(context.Background(), nil)
	if !IsExtractionError(err) || !strings.Contains(err.Error(), "internal error: malformed xref") {
		t.Fatalf("expected recovered panic, got %v", err)
	}
}

func TestFitzEngine_ExtractsHelloWorld(t *testing.T) {
	res, err := NewFitzEngine(testLogger()).Extract(context.Background(), extracttest.HelloPDF())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(res.Text, "Hello World") || res.Pages != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFitzEngine_RejectsGarbage(t *testing.T) {
	_, err := NewFitzEngine(testLogger()).Extract(context.Background(), []byte("definitely not a pdf"))
	if !IsExtractionError(err) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Options{Engine: "markdown"}, nil, testLogger()); err == nil {
		t.Fatal("expected error for unknown engine")
	}
	e, err := New(Options{Engine: "pdftotext", Validate: true, Timeout: time.Second}, &fakeRunner{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := e.(*Deadline); !ok {
		t.Fatalf("expected deadline wrapper outermost, got %T", e)
	}
}
