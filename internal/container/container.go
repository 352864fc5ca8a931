package container

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"pdfbudget/internal/compression"
	"pdfbudget/internal/config"
	"pdfbudget/internal/database"
	domain "pdfbudget/internal/domain/compression"
	"pdfbudget/internal/logger"
	"pdfbudget/internal/metrics"
	"pdfbudget/internal/orchestrator"
	"pdfbudget/internal/pages"
	"pdfbudget/internal/progress"
)

// Container holds all dependencies for the application
type Container struct {
	config  *config.Config
	db      *database.Database
	logger  zerolog.Logger
	metrics *metrics.Metrics

	source    domain.PageSource
	newEngine func(config.Compression) domain.Recompressor
}

// New creates a new dependency injection container
func New(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DatabasePath, err)
	}

	c := &Container{
		config:  cfg,
		db:      db,
		logger:  log,
		metrics: metrics.New(),
		source:  pages.NewSource(),
	}
	c.newEngine = c.invoker

	log.Debug().
		Str("working_directory", cfg.WorkingDir).
		Str("database_path", cfg.DatabasePath).
		Str("ghostscript", cfg.GhostscriptPath).
		Msg("container initialized")
	return c, nil
}

// Close releases the database.
func (c *Container) Close() error {
	return c.db.Close()
}

// GetConfig returns the application configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetDatabase returns the preferences and history store
func (c *Container) GetDatabase() *database.Database {
	return c.db
}

// GetMetrics returns the metrics registry
func (c *Container) GetMetrics() *metrics.Metrics {
	return c.metrics
}

// Settings returns the effective run defaults: the configuration, overlaid
// by every stored preference the user changed from its default.
func (c *Container) Settings() (config.Compression, error) {
	s := c.config.Compression
	prefs, err := c.db.GetPreferences()
	if err != nil {
		return s, err
	}
	return overlay(s, *prefs), nil
}

func overlay(s config.Compression, p database.UserPreferencesData) config.Compression {
	def := database.DefaultPreferences()
	if p.Quality != def.Quality {
		s.Quality = p.Quality
	}
	if p.Limit != def.Limit {
		s.Limit = p.Limit
	}
	if p.Margin != def.Margin {
		s.Margin = p.Margin
	}
	if p.Turbo != def.Turbo {
		s.Turbo = p.Turbo
	}
	if p.RemoveBlank != def.RemoveBlank {
		s.RemoveBlank = p.RemoveBlank
	}
	if p.Workers != def.Workers {
		s.Workers = p.Workers
	}
	if p.ImageDPI != def.ImageDPI {
		s.ImageDPI = p.ImageDPI
	}
	if p.PDFVersion != def.PDFVersion {
		s.PDFVersion = p.PDFVersion
	}
	if p.Grayscale != def.Grayscale {
		s.Grayscale = p.Grayscale
	}
	return s
}

func (c *Container) invoker(s config.Compression) domain.Recompressor {
	return compression.NewInvoker(compression.Options{
		GhostscriptPath: c.config.GhostscriptPath,
		WorkDir:         c.config.WorkingDir,
		ImageDPI:        s.ImageDPI,
		PDFVersion:      s.PDFVersion,
		Grayscale:       s.Grayscale,
		BaseTimeout:     c.config.Timeouts.Base.Duration,
		PerFileTimeout:  c.config.Timeouts.PerFile.Duration,
		MaxTimeout:      c.config.Timeouts.Cap.Duration,
		Metrics:         c.metrics,
	})
}

// Orchestrator builds a run driver with the engine settings of s.
func (c *Container) Orchestrator(s config.Compression, reporter progress.Reporter) *orchestrator.Orchestrator {
	return orchestrator.New(c.newEngine(s), c.source, orchestrator.Options{
		WorkDir:  c.config.WorkingDir,
		Workers:  s.Workers,
		Metrics:  c.metrics,
		Reporter: reporter,
	})
}

// Execute runs req, stores it in the history and refreshes the metrics
// textfile when one is configured. Bookkeeping failures are logged only.
func (c *Container) Execute(ctx context.Context, req orchestrator.Request, s config.Compression, reporter progress.Reporter) (*orchestrator.Report, error) {
	ctx = logger.WithLogger(ctx, c.logger)
	ctx = logger.Component(ctx, "orchestrator")

	report, err := c.Orchestrator(s, reporter).Run(ctx, req)

	rec := database.NewRunRecord(len(req.Inputs), report)
	if dbErr := c.db.RecordRun(&rec); dbErr != nil {
		c.logger.Warn().Err(dbErr).Msg("failed to record run history")
	}
	if c.config.MetricsFile != "" {
		if mErr := c.metrics.WriteTextfile(c.config.MetricsFile); mErr != nil {
			c.logger.Warn().Err(mErr).Str("file", c.config.MetricsFile).Msg("failed to write metrics")
		}
	}
	return report, err
}

// NewRequest resolves run settings into a request. An empty output is
// derived from the first input.
func NewRequest(inputs []string, output string, s config.Compression, mode orchestrator.Mode) (orchestrator.Request, error) {
	quality, err := domain.ParseQuality(s.Quality)
	if err != nil {
		return orchestrator.Request{}, err
	}
	budget, err := s.Budget()
	if err != nil {
		return orchestrator.Request{}, err
	}
	if mode == "" {
		mode = orchestrator.ModePrecise
		if s.Turbo {
			mode = orchestrator.ModeTurbo
		}
	}
	if output == "" && len(inputs) > 0 {
		output = DefaultOutput(inputs[0], mode)
	}
	return orchestrator.Request{
		Inputs:      inputs,
		Output:      output,
		Quality:     quality,
		Budget:      budget,
		Mode:        mode,
		RemoveBlank: s.RemoveBlank,
	}, nil
}

// DefaultOutput places the result next to input.
func DefaultOutput(input string, mode orchestrator.Mode) string {
	suffix := "_compressed"
	if mode == orchestrator.ModeMerge {
		suffix = "_merged"
	}
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + suffix + ".pdf"
}
