package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/pdftext/internal/app"
	"github.com/joseph-ayodele/pdftext/internal/common"
	"github.com/joseph-ayodele/pdftext/internal/pipeline"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup runs before exit.
func run() int {
	cfg, err := common.LoadConfig("")
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}
	logger := common.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer c.Close()

	handler, err := c.NewHandler()
	if err != nil {
		logger.Error("building HTTP handler failed", "error", err)
		return 1
	}
	// The in-process broker is only reachable from this process.
	var proc *pipeline.Processor
	if cfg.Worker.Embedded || cfg.UsesMemoryBroker() {
		if proc, err = c.NewProcessor(); err != nil {
			logger.Error("building worker pool failed", "error", err)
			return 1
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP serving", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if proc != nil {
		g.Go(func() error { return proc.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("pdftextd stopped with error", "error", err)
		return 1
	}
	logger.Info("pdftextd stopped")
	return 0
}
