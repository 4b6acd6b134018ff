package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joseph-ayodele/pdftext/constants"
	"github.com/joseph-ayodele/pdftext/internal/common"
	"github.com/joseph-ayodele/pdftext/internal/extract"
	"github.com/joseph-ayodele/pdftext/internal/ingest"
	"github.com/joseph-ayodele/pdftext/internal/pipeline/textextract"
)

type engineFunc func(ctx context.Context, pdf []byte) (extract.Result, error)

func (f engineFunc) Extract(ctx context.Context, pdf []byte) (extract.Result, error) { return f(ctx, pdf) }

func memoryConfig() *common.Config {
	cfg := common.DefaultConfig()
	cfg.Database.Store = "memory"
	cfg.Blob.Backend = "memory"
	cfg.Broker.URL = "memory://"
	cfg.Server.JWTSecret = "secret"
	return cfg
}

func TestContainer_InProcessRoundTrip(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewContainer(ctx, memoryConfig(), logger)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer c.Close()

	proc, err := c.NewProcessor()
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	proc.Extract = textextract.NewPipeline(c.Documents, c.Blobs, engineFunc(func(context.Context, []byte) (extract.Result, error) {
		return extract.Result{Text: "Hello World", Pages: 1}, nil
	}), logger)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- proc.Run(runCtx) }()

	doc, err := c.Ingest.Upload(ctx, ingest.UploadRequest{
		OwnerID:     "alice",
		Filename:    "hello.pdf",
		ContentType: constants.PDFContentType,
		Data:        []byte("%PDF-1.4\n%%EOF\n"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := c.Ingest.Get(ctx, "alice", doc.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == constants.DocumentStatusDone {
			if *got.ExtractedText != "Hello World" {
				t.Fatalf("text = %q", *got.ExtractedText)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("document still %s", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestContainer_Handler(t *testing.T) {
	c, err := NewContainer(context.Background(), memoryConfig(), nil)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer c.Close()

	h, err := c.NewHandler()
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health = %d", rr.Code)
	}
}

func TestContainer_RejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Worker.Concurrency = 0
	if _, err := NewContainer(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected config error")
	}
}

func TestContainer_HandlerNeedsSecret(t *testing.T) {
	cfg := memoryConfig()
	cfg.Server.JWTSecret = ""
	c, err := NewContainer(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer c.Close()
	if _, err := c.NewHandler(); err == nil {
		t.Fatal("expected missing JWT secret to fail")
	}
}
