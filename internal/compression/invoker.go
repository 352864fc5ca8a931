package compression

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"pdfbudget/internal/common"
	domain "pdfbudget/internal/domain/compression"
	"pdfbudget/internal/logger"
)

// Invoker runs Ghostscript over staged copies of the inputs
type Invoker struct {
	opts Options
}

// NewInvoker creates a new invoker instance
func NewInvoker(opts Options) *Invoker {
	opts.applyDefaults()
	return &Invoker{opts: opts}
}

var _ domain.Recompressor = (*Invoker)(nil)

// Timeout returns the deadline for one call over n files.
func (i *Invoker) Timeout(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	t := timeoutFloor + time.Duration(n)*i.opts.PerFileTimeout
	if t < i.opts.BaseTimeout {
		t = i.opts.BaseTimeout
	}
	if t > i.opts.MaxTimeout {
		t = i.opts.MaxTimeout
	}
	return t
}

// stagedBatch is a private directory of numbered input copies.
type stagedBatch struct {
	dir      string
	files    []string
	original map[string]string
}

// Invoke merges and recompresses inputs, in order, into output. When a
// multi-file batch fails, each file is probed alone and the batch is retried
// with the good ones; the excluded inputs are reported in Result.Skipped.
func (i *Invoker) Invoke(ctx context.Context, inputs []string, quality domain.Quality, output string) (*domain.Result, error) {
	log := logger.FromContext(ctx)

	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", domain.ErrNoValidInputs)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	if i.opts.GhostscriptPath == "" {
		return nil, &domain.InvocationError{Kind: domain.ErrToolNotFound, Inputs: inputs,
			Diagnostic: "ghostscript not found, install it or add it to PATH"}
	}

	out, err := filepath.Abs(output)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(out), common.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	batch, skipped, err := i.stage(ctx, inputs)
	if batch != nil {
		defer os.RemoveAll(batch.dir)
	}
	if err != nil {
		return nil, err
	}

	timeout := i.Timeout(len(inputs))
	diag, err := i.run(ctx, batch, batch.files, quality, out, timeout)
	if err == nil {
		return i.result(out, diag, skipped)
	}
	if errors.Is(err, domain.ErrToolNotFound) || len(batch.files) < 2 {
		return nil, err
	}

	log.Warn().Err(err).Int("files", len(batch.files)).Msg("batch failed, isolating inputs")
	good, bad, err := i.isolate(ctx, batch, quality, err)
	if err != nil {
		return nil, err
	}
	for _, b := range bad {
		skipped = append(skipped, batch.original[b])
	}
	i.opts.Metrics.IncIsolated(len(bad))
	log.Warn().Str("skipped", baseNames(skipped)).Msg("retrying without rejected inputs")

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	diag, err = i.run(ctx, batch, good, quality, out, timeout)
	if err != nil {
		return nil, err
	}
	return i.result(out, diag, skipped)
}

func (i *Invoker) result(out, diag string, skipped []string) (*domain.Result, error) {
	size, err := common.FileSize(out)
	if err != nil {
		return nil, fmt.Errorf("failed to measure output: %w", err)
	}
	return &domain.Result{OutputPath: out, Size: size, Diagnostic: diag, Skipped: skipped}, nil
}

// stage copies inputs under ASCII names. Inputs that cannot be copied are
// returned as skipped; it fails only when none could be staged.
func (i *Invoker) stage(ctx context.Context, inputs []string) (*stagedBatch, []string, error) {
	if i.opts.WorkDir != "" {
		if err := os.MkdirAll(i.opts.WorkDir, common.DefaultDirPermissions); err != nil {
			return nil, nil, fmt.Errorf("failed to create work directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(i.opts.WorkDir, "stage-"+common.ShortID()+"-")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	batch := &stagedBatch{dir: dir, original: make(map[string]string, len(inputs))}
	var skipped []string
	for idx, in := range inputs {
		name := fmt.Sprintf(stagedPattern, idx+1)
		if err := common.CopyFile(in, filepath.Join(dir, name)); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("file", filepath.Base(in)).Msg("could not stage input")
			skipped = append(skipped, in)
			continue
		}
		batch.files = append(batch.files, name)
		batch.original[name] = in
	}
	if len(batch.files) == 0 {
		return batch, skipped, fmt.Errorf("%w: no input could be staged", domain.ErrNoValidInputs)
	}
	return batch, skipped, nil
}

// isolate probes every staged file alone. Cancellation is checked between probes.
func (i *Invoker) isolate(ctx context.Context, batch *stagedBatch, quality domain.Quality, batchErr error) (good, bad []string, err error) {
	for idx, f := range batch.files {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}
		probe := filepath.Join(batch.dir, fmt.Sprintf(probePattern, idx+1))
		_, perr := i.run(ctx, batch, []string{f}, quality, probe, i.Timeout(1))
		os.Remove(probe)
		if errors.Is(perr, domain.ErrToolNotFound) {
			return nil, nil, perr
		}
		if perr != nil {
			bad = append(bad, f)
		} else {
			good = append(good, f)
		}
	}
	if len(good) == 0 {
		return nil, nil, fmt.Errorf("no input survived isolation: %w", batchErr)
	}
	if len(bad) == 0 {
		// every file works alone; the failure is not attributable
		return nil, nil, batchErr
	}
	return good, bad, nil
}

// run executes one engine process over files (basenames inside the batch dir).
// The process is not tied to ctx cancellation, only to timeout.
func (i *Invoker) run(ctx context.Context, batch *stagedBatch, files []string, quality domain.Quality, out string, timeout time.Duration) (string, error) {
	log := logger.FromContext(ctx)
	inputs := make([]string, len(files))
	for k, f := range files {
		inputs[k] = batch.original[f]
	}

	manifest := filepath.Join(batch.dir, manifestName)
	if err := os.WriteFile(manifest, []byte(strings.Join(files, "\n")+"\n"), common.DefaultFilePermissions); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	defer os.Remove(manifest)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, i.opts.GhostscriptPath, i.args(quality, out)...)
	cmd.Dir = batch.dir
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	errText := strings.TrimSpace(stderr.String())
	outText := strings.TrimSpace(stdout.String())

	switch {
	case err != nil && (errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)) && cmd.ProcessState == nil:
		i.opts.Metrics.ObserveInvocation("failed", elapsed)
		return "", &domain.InvocationError{Kind: domain.ErrToolNotFound, Inputs: inputs,
			Diagnostic: fmt.Sprintf("cannot execute %s", i.opts.GhostscriptPath), Err: err}

	case err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		i.opts.Metrics.ObserveInvocation("timeout", elapsed)
		log.Error().Dur("timeout", timeout).Int("files", len(files)).Msg("ghostscript timed out")
		return "", &domain.InvocationError{Kind: domain.ErrInvocationTimeout, Inputs: inputs,
			Diagnostic: fmt.Sprintf("ghostscript did not finish within %s", timeout), Err: err}

	case err != nil:
		i.opts.Metrics.ObserveInvocation("failed", elapsed)
		return "", &domain.InvocationError{Kind: domain.ErrInvocationFailed, Inputs: inputs,
			Diagnostic: diagnostic(err, errText, outText), Err: err}
	}

	if info, serr := os.Stat(out); serr != nil || info.Size() == 0 {
		i.opts.Metrics.ObserveInvocation("failed", elapsed)
		return "", &domain.InvocationError{Kind: domain.ErrInvocationFailed, Inputs: inputs,
			Diagnostic: "ghostscript did not create output file\n" + diagnostic(nil, errText, outText)}
	}

	i.opts.Metrics.ObserveInvocation("ok", elapsed)
	log.Debug().Int("files", len(files)).Dur("elapsed", elapsed).Str("file", filepath.Base(out)).Msg("ghostscript finished")
	return errText, nil
}

func (i *Invoker) args(quality domain.Quality, out string) []string {
	dpi := i.opts.ImageDPI
	args := []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=" + i.opts.PDFVersion,
		"-dPDFSETTINGS=" + quality.PDFSettings(),
		"-dNOPAUSE",
		"-dBATCH",
		"-dQUIET",
		"-dDetectDuplicateImages=true",
		"-dDownsampleColorImages=true",
		"-dColorImageDownsampleType=/Bicubic",
		fmt.Sprintf("-dColorImageResolution=%d", dpi),
		"-dDownsampleGrayImages=true",
		"-dGrayImageDownsampleType=/Bicubic",
		fmt.Sprintf("-dGrayImageResolution=%d", dpi),
		"-dDownsampleMonoImages=true",
		"-dMonoImageDownsampleType=/Subsample",
		fmt.Sprintf("-dMonoImageResolution=%d", dpi),
	}
	if i.opts.Grayscale {
		args = append(args, "-sColorConversionStrategy=Gray", "-dProcessColorModel=/DeviceGray")
	}
	return append(args, "-sOutputFile="+out, "-f", "@"+manifestName)
}

func diagnostic(err error, stderr, stdout string) string {
	var b strings.Builder
	if err != nil {
		fmt.Fprintf(&b, "ghostscript returned: %v", err)
	}
	if stderr != "" {
		fmt.Fprintf(&b, "\n\n[stderr]\n%s", stderr)
	}
	if stdout != "" {
		fmt.Fprintf(&b, "\n\n[stdout]\n%s", stdout)
	}
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "undefinedfilename") || strings.Contains(lower, "cannot find") {
		b.WriteString("\n\nHint: check whether a PDF was moved or renamed, is locked by a sync client, or has unusual characters in its original name.")
	}
	return strings.TrimSpace(b.String())
}

func baseNames(paths []string) string {
	names := make([]string, len(paths))
	for k, p := range paths {
		names[k] = filepath.Base(p)
	}
	return strings.Join(names, ", ")
}
