package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/urfave/cli/v2"

	"github.com/cognicore/mpingest/internal/medline"
	"github.com/cognicore/mpingest/pkg/mpingest/config"
	"github.com/cognicore/mpingest/pkg/mpingest/ingest"
	"github.com/cognicore/mpingest/pkg/mpingest/metrics"
	"github.com/cognicore/mpingest/pkg/mpingest/store/sqlite"
	"github.com/cognicore/mpingest/pkg/mpingest/taxonomy"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("ingestion failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mp-ingester",
		Usage: "Ingest the MedlinePlus health-topic XML files into SQLite",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "mode",
				Aliases:  []string{"m"},
				Usage:    "Which file to ingest (groups, topics)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "filename",
				Aliases: []string{"f"},
				Usage:   "Local XML file (.xml or .xml.gz); downloaded from MedlinePlus when omitted",
			},
			&cli.StringFlag{
				Name:    "config-file",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{config.EnvConfigFile},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error); overrides log.level",
				Value:   config.DefaultLogLevel,
			},
			&cli.StringFlag{
				Name:  "taxonomy",
				Usage: "Taxonomy snapshot to use instead of scraping MedlinePlus",
			},
			&cli.StringFlag{
				Name:  "dump-taxonomy",
				Usage: "Write the taxonomy used by the run to this file",
			},
		},
		Before: setup,
		Action: run,
	}
}

// setup loads the configuration and installs the run's logger.
func setup(c *cli.Context) error {
	cfg, err := config.Resolve(c.String("config-file"))
	if err != nil {
		return err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}

	w := c.App.ErrWriter
	if w == nil {
		w = os.Stderr
	}
	logger, err := newLogger(w, cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

// newLogger returns a text logger at level whose lines carry a fresh run id.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", level)
	}

	runID := ulid.MustNew(ulid.Now(), ulid.Monotonic(rand.Reader, 0))
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})
	return slog.New(handler).With("run_id", runID.String()), nil
}

func run(c *cli.Context) error {
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return errors.New("configuration not loaded")
	}
	mode, err := ingest.ParseMode(c.String("mode"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	client := medline.NewClient(
		medline.WithTimeout(cfg.HTTP.Timeout),
		medline.WithUserAgent(cfg.HTTP.UserAgent),
		medline.WithRetries(cfg.HTTP.MaxRetries, 0),
		medline.WithLogger(logger),
	)

	snap, err := loadTaxonomy(ctx, c, cfg, client, mode)
	if err != nil {
		return fmt.Errorf("taxonomy: %w", err)
	}
	if dump := c.String("dump-taxonomy"); dump != "" {
		if err := config.SaveTaxonomy(dump, snap); err != nil {
			return fmt.Errorf("dump taxonomy: %w", err)
		}
		logger.Info("taxonomy written", "path", dump)
	}

	filename := c.String("filename")
	if filename == "" {
		filename, err = download(ctx, cfg, client, mode)
		if err != nil {
			return err
		}
	}

	st, err := sqlite.OpenSQLite(ctx, cfg.SQL.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.SQL.Path, err)
	}
	defer st.Close()

	m := metrics.New()
	engine, err := ingest.NewEngine(st, taxonomy.FromSnapshot(snap),
		ingest.WithLogger(logger),
		ingest.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	logger.Info("starting ingestion", "mode", mode, "file", filename, "db", cfg.SQL.Path)
	_, runErr := engine.Run(ctx, mode, filename)

	if cfg.Metrics.Textfile != "" {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Error("failed to write metrics", "path", cfg.Metrics.Textfile, "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("ingestion complete", "mode", mode)
	return nil
}

// loadTaxonomy reads the snapshot named by --taxonomy or taxonomy.path, or
// scrapes MedlinePlus. Group ingestion only needs the group classes.
func loadTaxonomy(ctx context.Context, c *cli.Context, cfg *config.Config, client *medline.Client, mode ingest.Mode) (*taxonomy.Snapshot, error) {
	snapshot := c.String("taxonomy")
	if snapshot == "" {
		snapshot = cfg.Taxonomy.Path
	}
	if snapshot != "" {
		return config.LoadTaxonomy(snapshot)
	}

	if mode == ingest.ModeGroups {
		classes, err := client.ScrapeGroupClasses(ctx, cfg.Medline.HealthTopicsURL)
		if err != nil {
			return nil, err
		}
		return &taxonomy.Snapshot{GroupClasses: classes}, nil
	}
	return client.ScrapeTaxonomy(ctx, cfg.Medline.HealthTopicsURL, cfg.HTTP.Concurrency)
}

// download fetches the latest XML file for mode into the temp directory.
func download(ctx context.Context, cfg *config.Config, client *medline.Client, mode ingest.Mode) (string, error) {
	files, err := client.ScrapeXMLFiles(ctx, cfg.Medline.XMLFilesURL)
	if err != nil {
		return "", err
	}

	url := files.Topics
	if mode == ingest.ModeGroups {
		url = files.Groups
	}
	if url == "" {
		return "", fmt.Errorf("no %s XML file listed on %s", mode, cfg.Medline.XMLFilesURL)
	}

	dest := filepath.Join(os.TempDir(), path.Base(url))
	if err := client.Download(ctx, url, dest); err != nil {
		return "", err
	}
	return dest, nil
}
