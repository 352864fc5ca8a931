package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"pdfbudget/internal/common"
	"pdfbudget/internal/domain/compression"
	"pdfbudget/internal/logger"
)

const (
	appName    = "pdfbudget"
	envPrefix  = "PDFBUDGET_"
	configFile = "config.toml"
)

// Config holds application configuration
type Config struct {
	WorkingDir      string         `toml:"working_dir"`
	AppDataDir      string         `toml:"app_data_dir"`
	DatabasePath    string         `toml:"database_path"`
	GhostscriptPath string         `toml:"ghostscript_path"`
	MetricsFile     string         `toml:"metrics_file"`
	Compression     Compression    `toml:"compression"`
	Timeouts        Timeouts       `toml:"timeouts"`
	Logging         logger.Options `toml:"logging"`
}

// Compression holds run defaults for the engine.
type Compression struct {
	Quality     string `toml:"quality"`
	Limit       string `toml:"limit"`
	Margin      string `toml:"margin"`
	Workers     int    `toml:"workers"`
	Turbo       bool   `toml:"turbo"`
	RemoveBlank bool   `toml:"remove_blank"`
	ImageDPI    int    `toml:"image_dpi"`
	PDFVersion  string `toml:"pdf_version"`
	Grayscale   bool   `toml:"grayscale"`
}

// Timeouts bound one engine invocation: min(Cap, max(Base, 90s + PerFile*n)).
type Timeouts struct {
	Base    Duration `toml:"base"`
	PerFile Duration `toml:"per_file"`
	Cap     Duration `toml:"cap"`
}

// Duration decodes TOML strings such as "90s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration without touching the filesystem.
func Default() *Config {
	cfg := &Config{
		Compression: Compression{
			Quality:    common.DefaultQuality,
			Limit:      strconv.FormatInt(common.DefaultLimitBytes, 10),
			Margin:     strconv.FormatInt(common.DefaultMarginBytes, 10),
			ImageDPI:   110,
			PDFVersion: "1.4",
		},
		Timeouts: Timeouts{
			Base:    Duration{120 * time.Second},
			PerFile: Duration{3 * time.Second},
			Cap:     Duration{900 * time.Second},
		},
		Logging: logger.Options{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
	cfg.AppDataDir = getAppDataDir()
	cfg.WorkingDir = filepath.Join(os.TempDir(), appName)
	return cfg
}

// New creates a new configuration instance. path may be empty, in which case
// config.toml in the app data directory is used when it exists.
func New(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = cfg.Path()
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// .env in the current directory is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.setupDirectories(); err != nil {
		return nil, err
	}
	cfg.setupGhostscriptPath()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.WorkingDir = getEnv("WORK_DIR", c.WorkingDir)
	c.AppDataDir = getEnv("DATA_DIR", c.AppDataDir)
	c.DatabasePath = getEnv("DATABASE", c.DatabasePath)
	c.GhostscriptPath = getEnv("GHOSTSCRIPT", c.GhostscriptPath)
	c.MetricsFile = getEnv("METRICS_FILE", c.MetricsFile)

	c.Compression.Quality = getEnv("QUALITY", c.Compression.Quality)
	c.Compression.Limit = getEnv("LIMIT", c.Compression.Limit)
	c.Compression.Margin = getEnv("MARGIN", c.Compression.Margin)
	c.Compression.Workers = parseInt(getEnv("WORKERS", ""), c.Compression.Workers)
	c.Compression.Turbo = parseBool(getEnv("TURBO", ""), c.Compression.Turbo)
	c.Compression.RemoveBlank = parseBool(getEnv("REMOVE_BLANK", ""), c.Compression.RemoveBlank)
	c.Compression.ImageDPI = parseInt(getEnv("IMAGE_DPI", ""), c.Compression.ImageDPI)
	c.Compression.PDFVersion = getEnv("PDF_VERSION", c.Compression.PDFVersion)
	c.Compression.Grayscale = parseBool(getEnv("GRAYSCALE", ""), c.Compression.Grayscale)

	c.Timeouts.Base.Duration = parseDuration(getEnv("TIMEOUT_BASE", ""), c.Timeouts.Base.Duration)
	c.Timeouts.PerFile.Duration = parseDuration(getEnv("TIMEOUT_PER_FILE", ""), c.Timeouts.PerFile.Duration)
	c.Timeouts.Cap.Duration = parseDuration(getEnv("TIMEOUT_CAP", ""), c.Timeouts.Cap.Duration)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Pretty = parseBool(getEnv("LOG_PRETTY", ""), c.Logging.Pretty)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)
}

func (c *Config) setupDirectories() error {
	if err := os.MkdirAll(c.WorkingDir, common.DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	if err := os.MkdirAll(c.AppDataDir, common.DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create app data directory: %w", err)
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.AppDataDir, "database.sqlite3")
	}
	return nil
}

func (c *Config) setupGhostscriptPath() {
	if c.GhostscriptPath != "" {
		if resolved, err := exec.LookPath(c.GhostscriptPath); err == nil {
			c.GhostscriptPath = resolved
		}
		return
	}
	c.GhostscriptPath = FindGhostscript()
}

// FindGhostscript looks for the engine on PATH under its platform names.
// It returns "" when none is found.
func FindGhostscript() string {
	candidates := []string{"gs"}
	if runtime.GOOS == "windows" {
		candidates = []string{"gswin64c", "gswin32c", "gs"}
	}
	for _, name := range candidates {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// Budget parses the configured limit and margin.
func (c Compression) Budget() (compression.SizeBudget, error) {
	limit, err := common.ParseBytes(c.Limit)
	if err != nil {
		return compression.SizeBudget{}, fmt.Errorf("%w: limit: %v", compression.ErrInvalidBudget, err)
	}
	margin, err := common.ParseBytes(c.Margin)
	if err != nil {
		return compression.SizeBudget{}, fmt.Errorf("%w: margin: %v", compression.ErrInvalidBudget, err)
	}
	b := compression.SizeBudget{Limit: limit, Margin: margin}
	return b, b.Validate()
}

// Path is where New looks for config.toml when no path is given.
func (c *Config) Path() string {
	return filepath.Join(c.AppDataDir, configFile)
}

// Save writes the configuration as TOML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), common.DefaultDirPermissions); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

func getAppDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appName)
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, "."+appName)
}

func getEnv(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}
