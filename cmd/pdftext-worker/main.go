package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/pdftext/internal/app"
	"github.com/joseph-ayodele/pdftext/internal/common"
	"github.com/joseph-ayodele/pdftext/internal/server"
)

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
	if cfg.UsesMemoryBroker() {
		logger.Error("a standalone worker needs RABBITMQ_URL; the in-process broker only serves pdftextd")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer c.Close()

	proc, err := c.NewProcessor()
	if err != nil {
		logger.Error("building worker pool failed", "error", err)
		return 1
	}
	hs := server.NewHealthServer(logger)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Worker.HealthAddr != "" {
		g.Go(func() error { return hs.Serve(gctx, cfg.Worker.HealthAddr) })
	}
	g.Go(func() error {
		hs.SetServing(true)
		defer hs.SetServing(false)
		err := proc.Run(gctx)
		if err == nil && ctx.Err() == nil {
			// Consumer ended without a shutdown request; let the supervisor restart us.
			err = errors.New("consumer stopped unexpectedly")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", "error", err)
		return 1
	}
	logger.Info("worker stopped")
	return 0
}
