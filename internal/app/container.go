package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/pdftext/internal/async"
	"github.com/joseph-ayodele/pdftext/internal/blob"
	"github.com/joseph-ayodele/pdftext/internal/common"
	"github.com/joseph-ayodele/pdftext/internal/export"
	"github.com/joseph-ayodele/pdftext/internal/extract"
	"github.com/joseph-ayodele/pdftext/internal/ingest"
	"github.com/joseph-ayodele/pdftext/internal/pipeline"
	"github.com/joseph-ayodele/pdftext/internal/pipeline/textextract"
	"github.com/joseph-ayodele/pdftext/internal/repository"
	"github.com/joseph-ayodele/pdftext/internal/server"
)

// Container holds all application dependencies built from Config.
type Container struct {
	Config    *common.Config
	Logger    *slog.Logger
	DB        *repository.DB // nil unless the sql store is configured
	Documents repository.DocumentRepository
	Blobs     blob.Store
	Broker    async.Broker
	Publisher *async.JobPublisher
	Ingest    *ingest.Service
	Export    *export.Service

	redis   *redis.Client
	closers []func() error
}

// NewContainer opens the document store, blob store and broker. On error
// everything opened so far is closed.
func NewContainer(ctx context.Context, cfg *common.Config, logger *slog.Logger) (_ *Container, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Container{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if err := c.openDocuments(ctx); err != nil {
		return nil, err
	}
	if err := c.openBlobs(ctx); err != nil {
		return nil, err
	}
	if err := c.openBroker(ctx); err != nil {
		return nil, err
	}

	c.Publisher = async.NewJobPublisher(c.Broker, cfg.Broker.RoutingKey, logger,
		async.WithMaxAttempts(cfg.Broker.PublishMaxAttempts))
	c.Ingest = ingest.NewService(c.Documents, c.Blobs, c.Publisher, cfg.Server.MaxUploadBytes, logger)
	c.Export = export.NewService(c.Documents, logger)
	return c, nil
}

func (c *Container) openDocuments(ctx context.Context) error {
	cfg := c.Config
	switch cfg.Database.Store {
	case "sql":
		db, err := repository.Open(ctx, repository.Config{
			Driver:           cfg.Database.Driver,
			DSN:              cfg.Database.DSN,
			MaxConns:         cfg.Database.MaxConns,
			MinConns:         cfg.Database.MinConns,
			MaxConnLifetime:  cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
			DialTimeout:      cfg.Database.DialTimeout,
			StatementTimeout: cfg.Database.StatementTimeout,
		}, c.Logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func() error { db.Close(); return nil })
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		c.DB = db
		c.Documents = repository.NewSQLDocumentRepository(db, c.Logger)
	case "firestore":
		client, err := repository.NewFirestoreClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, client.Close)
		c.Documents = repository.NewFirestoreDocumentRepository(client, cfg.Firestore.Collection, c.Logger)
	case "memory":
		c.Logger.Warn("using in-memory document store; documents are lost on exit")
		c.Documents = repository.NewMemoryDocumentRepository()
	}
	return nil
}

func (c *Container) openBlobs(ctx context.Context) error {
	cfg := c.Config.Blob
	switch cfg.Backend {
	case "s3":
		s, err := blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
			Region:          cfg.S3Region,
			UseSSL:          cfg.S3UseSSL,
		}, c.Logger)
		if err != nil {
			return err
		}
		c.Blobs = s
	case "gcs":
		s, err := blob.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSEndpoint, c.Logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, s.Close)
		c.Blobs = s
	case "memory":
		c.Logger.Warn("using in-memory blob store; uploads are lost on exit")
		c.Blobs = blob.NewMemoryStore()
	}
	return nil
}

func (c *Container) openBroker(ctx context.Context) error {
	cfg := c.Config.Broker
	topo := async.Topology{
		Exchange:           cfg.Exchange,
		Queue:              cfg.Queue,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetterExchange,
	}
	if c.Config.UsesMemoryBroker() {
		c.Logger.Warn("using in-process broker; jobs are lost on exit")
		c.Broker = async.NewMemoryBroker(topo, c.Logger)
	} else {
		b, err := async.DialAMQP(cfg.URL, topo, c.Logger)
		if err != nil {
			return err
		}
		c.Broker = b
	}
	c.closers = append(c.closers, c.Broker.Close)
	return c.Broker.DeclareTopology(ctx)
}

// NewProcessor builds the worker pool over the configured extraction engine.
func (c *Container) NewProcessor() (*pipeline.Processor, error) {
	w := c.Config.Worker
	opts := extract.Options{
		Engine:       w.Engine,
		PdftotextBin: w.PdftotextBin,
		Validate:     w.Validate,
		Timeout:      w.ExtractTimeout,
	}
	if w.OCR.Enabled {
		opts.OCR = &extract.OCRConfig{
			PdftoppmBin:  w.OCR.PdftoppmBin,
			TesseractBin: w.OCR.TesseractBin,
			Lang:         w.OCR.Lang,
			DPI:          w.OCR.DPI,
			MaxPages:     w.OCR.MaxPages,
			TessdataDir:  w.OCR.TessdataDir,
		}
	}
	engine, err := extract.New(opts, extract.NewExecRunner(c.Logger), c.Logger)
	if err != nil {
		return nil, err
	}
	pl := textextract.NewPipeline(c.Documents, c.Blobs, engine, c.Logger)
	return pipeline.NewProcessor(c.Logger, c.Broker, c.Config.Broker.RoutingKey, w.Concurrency, pl), nil
}

// NewHandler builds the HTTP API.
func (c *Container) NewHandler() (http.Handler, error) {
	s := c.Config.Server
	auth, err := server.NewAuthenticator(s.JWTSecret, s.TokenTTL, s.AuthUsers)
	if err != nil {
		return nil, err
	}

	var limiter *server.RateLimiter
	if r := c.Config.Redis; r.Addr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: r.Addr, DB: r.DB})
		c.closers = append(c.closers, c.redis.Close)
		limiter = server.NewRateLimiter(c.redis, r.UploadRateLimit, r.UploadWindow, c.Logger)
	}

	return server.NewRouter(server.RouterDeps{
		Documents:   server.NewDocumentHandler(c.Ingest, c.Export, c.Logger),
		Auth:        server.NewAuthHandler(auth, c.Logger),
		Authn:       auth,
		RateLimiter: limiter,
		Ready:       c.Ready,
		CORSOrigins: s.CORSOrigins,
		Logger:      c.Logger,
	}), nil
}

// Ready checks the database and, when configured, redis.
func (c *Container) Ready(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.HealthCheck(ctx, 2*time.Second); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases resources in reverse order of opening.
func (c *Container) Close() {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if err := errors.Join(errs...); err != nil {
		c.Logger.Warn("errors while closing resources", "error", err)
	}
}
