package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pdfbudget/internal/config"
	"pdfbudget/internal/container"
	"pdfbudget/internal/logger"
	"pdfbudget/internal/orchestrator"
	"pdfbudget/internal/progress"
)

type runFlags struct {
	output      string
	quality     string
	limit       string
	margin      string
	turbo       bool
	precise     bool
	removeBlank bool
	workers     int
	metricsFile string
	quiet       bool
}

func newCompressCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "compress <input.pdf>...",
		Short: "Merge and compress PDFs, splitting the result when it is over the limit",
		Long: `Compresses the inputs, in order, into one PDF. When the result is over the
limit it is split into numbered parts (name_parte_01.pdf, ...) that each fit.

--turbo splits the compressed set by pages. --precise compresses every input
alone and packs whole documents into parts, splitting only documents that do
not fit on their own.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, f, args, "")
		},
	}
	bindCompressFlags(cmd.Flags(), f)
	cmd.MarkFlagsMutuallyExclusive("turbo", "precise")
	return cmd
}

func bindCompressFlags(flags *pflag.FlagSet, f *runFlags) {
	flags.StringVarP(&f.output, "output", "o", "", "Output file (default: <first input>_compressed.pdf)")
	flags.StringVarP(&f.quality, "quality", "q", "", "Preset: screen, ebook, printer or prepress")
	flags.StringVar(&f.limit, "limit", "", "Size limit per output, e.g. 5MiB")
	flags.StringVar(&f.margin, "margin", "", "Overhead reserved when merging compressed documents, e.g. 120KB")
	flags.BoolVar(&f.turbo, "turbo", false, "Split the compressed set by pages")
	flags.BoolVar(&f.precise, "precise", false, "Compress documents one by one and pack them")
	flags.BoolVar(&f.removeBlank, "remove-blank", false, "Drop pages without content first")
	flags.IntVarP(&f.workers, "workers", "w", 0, "Parallel compressions in precise mode")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
	flags.BoolVar(&f.quiet, "quiet", false, "Do not print progress")
}

func newMergeCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "merge <input.pdf>...",
		Short: "Concatenate PDFs without compressing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, f, args, orchestrator.ModeMerge)
		},
	}
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output file (default: <first input>_merged.pdf)")
	cmd.Flags().BoolVar(&f.removeBlank, "remove-blank", false, "Drop pages without content first")
	cmd.Flags().BoolVar(&f.quiet, "quiet", false, "Do not print progress")
	return cmd
}

// apply overlays the flags the user set on s.
func (f *runFlags) apply(cmd *cobra.Command, s config.Compression) config.Compression {
	changed := cmd.Flags().Changed
	if changed("quality") {
		s.Quality = f.quality
	}
	if changed("limit") {
		s.Limit = f.limit
	}
	if changed("margin") {
		s.Margin = f.margin
	}
	if changed("turbo") {
		s.Turbo = f.turbo
	}
	if changed("precise") {
		s.Turbo = !f.precise
	}
	if changed("remove-blank") {
		s.RemoveBlank = f.removeBlank
	}
	if changed("workers") {
		s.Workers = f.workers
	}
	return s
}

func (a *app) run(cmd *cobra.Command, f *runFlags, inputs []string, mode orchestrator.Mode) error {
	c := a.container
	if f.metricsFile != "" {
		c.GetConfig().MetricsFile = f.metricsFile
	}
	s, err := c.Settings()
	if err != nil {
		return err
	}
	s = f.apply(cmd, s)

	req, err := container.NewRequest(inputs, f.output, s, mode)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	reporters := progress.Multi{progress.NewLogReporter(logger.Get())}
	if !f.quiet {
		reporters = append(reporters, newConsoleReporter(cmd.ErrOrStderr()))
	}

	report, err := c.Execute(ctx, req, s, reporters)
	fmt.Fprint(cmd.OutOrStdout(), report.Summary())
	if err != nil {
		return err
	}
	if report.Outcome() == orchestrator.OutcomePartial {
		return errPartial
	}
	return nil
}

// consoleReporter prints labels and a step counter to the terminal.
type consoleReporter struct {
	mu    sync.Mutex
	w     io.Writer
	total int
}

func newConsoleReporter(w io.Writer) *consoleReporter {
	return &consoleReporter{w: w}
}

func (c *consoleReporter) Emit(ev progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Kind {
	case progress.KindLabel:
		fmt.Fprintf(c.w, "\n%s\n", ev.Text)
	case progress.KindSubLabel:
		fmt.Fprintf(c.w, "  %s\n", ev.Text)
	case progress.KindTotal:
		c.total = ev.Value
	case progress.KindStep:
		if c.total > 0 && ev.Value > 0 {
			fmt.Fprintf(c.w, "  [%d/%d]\n", ev.Value, c.total)
		}
	case progress.KindFailed:
		fmt.Fprintf(c.w, "\n%s\n", ev.Text)
	}
}
