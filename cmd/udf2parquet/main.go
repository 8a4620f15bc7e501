package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/docopt/docopt.go"
	"go.uber.org/zap"

	"github.com/udfkit/udf2parquet/archive"
	"github.com/udfkit/udf2parquet/convert"
)

const version = "1.0.0"

func main() {
	usage := `UDF container to Parquet converter.

Usage:
  udf2parquet convert <input>... [--out=<dir>] [--format=<fmt>] [--compression=<codec>]
                                 [--policy=<policy>] [--row-group=<rows>] [--scale]
                                 [--meta=<kv>]... [--workers=<n>] [--archive=<target>] [--verbose]
  udf2parquet (-h | --help)
  udf2parquet --version

Options:
  -h --help              Show this screen.
  --version              Show version.
  --out=<dir>            Output directory [default: .].
  --format=<fmt>         Output format: parquet, csv, or ipc [default: parquet].
  --compression=<codec>  Parquet compression: snappy, none, gzip, zstd [default: snappy].
  --policy=<policy>      Damage policy: skip-and-warn or strict [default: skip-and-warn].
  --row-group=<rows>     Rows per output row group [default: 65536].
  --scale                Apply declared channel scale factors to values.
  --meta=<kv>            Extra key=value metadata for the output schema.
  --workers=<n>          Concurrent conversions [default: 4].
  --archive=<target>     Copy outputs to gs://bucket/prefix or a directory.
  --verbose              Log each warning, not just per-file summaries.
`
	arguments, err := docopt.ParseDoc(usage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}
	if v, _ := arguments.Bool("--version"); v {
		fmt.Println("udf2parquet version " + version)
		os.Exit(0)
	}

	// Initialize zap logger.
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	opts, err := optionsFromArgs(arguments, logger)
	if err != nil {
		logger.Fatal("Invalid arguments", zap.Error(err))
	}

	inputs := arguments["<input>"].([]string)
	outDir, _ := arguments.String("--out")
	workers, err := arguments.Int("--workers")
	if err != nil {
		workers = 4
	}
	verbose, _ := arguments.Bool("--verbose")

	jobs := make([]convert.Job, len(inputs))
	for i, in := range inputs {
		jobs[i] = convert.Job{Input: in, Output: outputPath(outDir, in, opts.Format)}
	}

	// Cancel in-flight conversions on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received OS signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	var archiver archive.Archiver
	if target, _ := arguments.String("--archive"); target != "" {
		archiver, err = archive.ParseTarget(ctx, target)
		if err != nil {
			logger.Fatal("Invalid archive target", zap.Error(err))
		}
	}

	logger.Info("Starting conversion",
		zap.Int("inputs", len(jobs)),
		zap.Int("workers", workers),
		zap.String("format", opts.Format.String()),
		zap.String("compression", opts.Compression.String()),
		zap.String("policy", opts.ErrorPolicy.String()))

	results := convert.ConvertMany(ctx, jobs, workers, opts)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			logger.Error("Conversion failed",
				zap.String("input", r.Job.Input),
				zap.Error(r.Err))
			continue
		}
		logger.Info("Converted",
			zap.String("input", r.Job.Input),
			zap.String("output", r.Result.Output),
			zap.Int64("rows", r.Result.Rows),
			zap.Int64("dropped_rows", r.Result.DroppedRows),
			zap.Int64("warnings", r.Result.WarningsRaised),
			zap.Int64("bytes", r.Result.BytesWritten),
			zap.Duration("elapsed", r.Result.Elapsed))
		if verbose {
			for _, w := range r.Result.Warnings {
				logger.Warn("Damage surviving conversion",
					zap.String("input", r.Job.Input),
					zap.Int64("record", w.Record),
					zap.Int64("offset", w.Offset),
					zap.String("channel", w.Channel),
					zap.String("reason", w.Reason),
					zap.String("detail", w.Message))
			}
		}
		if archiver != nil {
			loc, err := archiver.Store(ctx, r.Result.Output, filepath.Base(r.Result.Output))
			if err != nil {
				failed++
				logger.Error("Archive failed",
					zap.String("output", r.Result.Output),
					zap.Error(err))
				continue
			}
			logger.Info("Archived", zap.String("location", loc))
		}
	}

	logger.Info("Done",
		zap.Int("converted", len(results)-failed),
		zap.Int("failed", failed))
	if failed > 0 {
		os.Exit(1)
	}
}

// optionsFromArgs maps command-line flags onto conversion options.
func optionsFromArgs(arguments docopt.Opts, logger *zap.Logger) (convert.Options, error) {
	var opts convert.Options
	opts.Logger = logger

	formatArg, _ := arguments.String("--format")
	format, err := convert.ParseFormat(formatArg)
	if err != nil {
		return opts, err
	}
	opts.Format = format

	compArg, _ := arguments.String("--compression")
	comp, err := convert.ParseCompression(compArg)
	if err != nil {
		return opts, err
	}
	opts.Compression = comp

	policyArg, _ := arguments.String("--policy")
	policy, err := convert.ParseErrorPolicy(policyArg)
	if err != nil {
		return opts, err
	}
	opts.ErrorPolicy = policy

	if rows, err := arguments.Int("--row-group"); err == nil && rows > 0 {
		opts.RowGroupSize = rows
	}
	if scale, _ := arguments.Bool("--scale"); scale {
		opts.ApplyScaling = true
	}

	if pairs, ok := arguments["--meta"].([]string); ok && len(pairs) > 0 {
		opts.Metadata = make(map[string]string, len(pairs))
		for _, kv := range pairs {
			k, v, found := strings.Cut(kv, "=")
			if !found || k == "" {
				return opts, fmt.Errorf("metadata %q is not key=value", kv)
			}
			opts.Metadata[k] = v
		}
	}
	return opts, nil
}

// outputPath places the converted file in dir, named after the input with
// the format's extension.
func outputPath(dir, input string, format convert.Format) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, base+format.Ext())
}
