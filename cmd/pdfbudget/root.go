package main

import (
	"errors"

	"github.com/spf13/cobra"

	"pdfbudget/internal/config"
	"pdfbudget/internal/container"
	domain "pdfbudget/internal/domain/compression"
	"pdfbudget/internal/logger"
)

// app is built once per invocation by the root PersistentPreRunE and
// closed by main.
type app struct {
	configPath string
	logLevel   string
	container  *container.Container
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "pdfbudget",
		Short:         "Compress and split PDFs so every output stays under a size limit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: config.toml in the app data directory)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newCompressCmd(a),
		newMergeCmd(a),
		newPreferencesCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
	)
	return root, a
}

func (a *app) init() error {
	cfg, err := config.New(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	log, err := logger.Init(cfg.Logging)
	if err != nil {
		return err
	}
	a.container, err = container.New(cfg, log)
	return err
}

func (a *app) close() error {
	defer logger.Close()
	if a.container == nil {
		return nil
	}
	return a.container.Close()
}

const (
	exitFailed    = 1
	exitPartial   = 2
	exitCancelled = 130
)

// errPartial marks a run that produced outputs but skipped something.
var errPartial = errors.New("some inputs were skipped or stayed over the limit")

func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrCancelled):
		return exitCancelled
	case errors.Is(err, errPartial):
		return exitPartial
	}
	return exitFailed
}
