package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/pdftext/internal/app"
	"github.com/joseph-ayodele/pdftext/internal/common"
	"github.com/joseph-ayodele/pdftext/internal/export"
	"github.com/joseph-ayodele/pdftext/internal/ingest"
	"github.com/joseph-ayodele/pdftext/internal/repository"
)

var (
	version    = "dev"
	configPath string
	jsonOutput bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "pdftextctl",
		Short:         "Administer the pdftext document store and job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $PDFTEXT_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(
		versionCmd(),
		migrateCmd(),
		dbhealthCmd(),
		statusCmd(),
		republishCmd(),
		exportCmd(),
		ingestDirCmd(),
		watchCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*common.Config, *slog.Logger, error) {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, common.NewLogger(cfg.Log.Level, cfg.Log.Format), nil
}

// withContainer opens every configured dependency for the duration of fn.
func withContainer(ctx context.Context, fn func(*app.Container) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// openDB opens only the SQL database, for schema commands.
func openDB(ctx context.Context) (*repository.DB, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Database.Store != "sql" {
		return nil, fmt.Errorf("DOCUMENT_STORE is %q; schema commands need the sql store", cfg.Database.Store)
	}
	return repository.Open(ctx, repository.Config{
		Driver:      cfg.Database.Driver,
		DSN:         cfg.Database.DSN,
		MaxConns:    2,
		MinConns:    1,
		DialTimeout: cfg.Database.DialTimeout,
	}, logger)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{"version": version})
				return
			}
			fmt.Printf("pdftextctl %s\n", version)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the documents schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func dbhealthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "dbhealth",
		Short: "Ping the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.HealthCheck(cmd.Context(), timeout); err != nil {
				return fmt.Errorf("DB health: FAIL (%w)", err)
			}
			fmt.Println("DB health: OK")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Second, "ping timeout")
	return cmd
}

func statusCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "status <document-id>",
		Short: "Show a document and its extraction status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := common.ParseUUID("document-id", args[0])
			if err != nil {
				return err
			}
			return withContainer(cmd.Context(), func(c *app.Container) error {
				doc, err := c.Ingest.Get(cmd.Context(), owner, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(doc)
					return nil
				}
				fmt.Printf("%s  %-10s  %s\n", doc.ID, doc.Status, doc.Filename)
				if doc.FailureReason != nil {
					fmt.Printf("reason: %s\n", *doc.FailureReason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func republishCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "republish <document-id>",
		Short: "Publish another extraction job for a QUEUED or FAILED document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := common.ParseUUID("document-id", args[0])
			if err != nil {
				return err
			}
			return withContainer(cmd.Context(), func(c *app.Container) error {
				doc, err := c.Ingest.Republish(cmd.Context(), owner, id)
				if err != nil {
					return err
				}
				fmt.Printf("republished %s (%s)\n", doc.ID, doc.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		owners   []string
		from, to string
		out      string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an XLSX report of owners' documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			var window export.Window
			for _, d := range []struct {
				raw string
				dst **time.Time
			}{{from, &window.From}, {to, &window.To}} {
				if d.raw == "" {
					continue
				}
				t, err := time.Parse(time.DateOnly, d.raw)
				if err != nil {
					return fmt.Errorf("dates must be YYYY-MM-DD: %w", err)
				}
				*d.dst = &t
			}
			return withContainer(cmd.Context(), func(c *app.Container) error {
				xlsx, err := c.Export.ExportXLSX(cmd.Context(), owners, window)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, xlsx, 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s (%d bytes)\n", out, len(xlsx))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&owners, "owner", nil, "owner id (repeatable)")
	cmd.Flags().StringVar(&from, "from", "", "first upload date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last upload date, YYYY-MM-DD")
	cmd.Flags().StringVarP(&out, "out", "o", "documents.xlsx", "output file")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func ingestDirCmd() *cobra.Command {
	var (
		owner      string
		skipHidden bool
	)
	cmd := &cobra.Command{
		Use:   "ingest-dir <root>",
		Short: "Upload every PDF under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *app.Container) error {
				results, stats, err := c.Ingest.IngestDirectory(cmd.Context(), owner, args[0], skipHidden)
				if jsonOutput {
					printJSON(map[string]any{"stats": stats, "results": results})
				} else {
					for _, r := range results {
						if r.Err != "" {
							fmt.Printf("FAIL  %s: %s\n", r.Path, r.Err)
							continue
						}
						fmt.Printf("OK    %s -> %s\n", r.Path, r.DocumentID)
					}
					fmt.Printf("scanned=%d matched=%d succeeded=%d failed=%d\n",
						stats.Scanned, stats.Matched, stats.Succeeded, stats.Failed)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().BoolVar(&skipHidden, "skip-hidden", true, "skip dot files and directories")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		owner       string
		initialScan bool
		debounce    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Upload PDFs as they appear under the given directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *app.Container) error {
				paths, errs, err := ingest.StartWatcher(cmd.Context(), ingest.WatchConfig{
					Roots:       args,
					InitialScan: initialScan,
					Debounce:    debounce,
					SkipHidden:  true,
					Logger:      c.Logger,
				})
				if err != nil {
					return err
				}
				for {
					select {
					case p, ok := <-paths:
						if !ok {
							return nil
						}
						r, err := c.Ingest.UploadFile(cmd.Context(), owner, p)
						if err != nil {
							c.Logger.Error("upload failed", "path", p, "error", err)
							continue
						}
						fmt.Printf("queued %s -> %s\n", p, r.DocumentID)
					case err, ok := <-errs:
						if !ok {
							errs = nil
							continue
						}
						c.Logger.Warn("watch error", "error", err)
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().BoolVar(&initialScan, "initial-scan", false, "upload PDFs already present")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "wait for writes to settle")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
