package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Deplee/victoria-metrics-cli/internal/codec"
	"github.com/Deplee/victoria-metrics-cli/internal/pipeline"
)

// newImportCmd creates the import command.
func newImportCmd() *cobra.Command {
	var (
		formatFlag string
		batchSize  int
		dryRun     bool
		skipErrors bool
		progress   bool
	)

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import time-series data",
		Long: `Import samples from a file (or stdin when FILE is "-") into the backend.

The format is inferred from the file extension unless --format is given.
Samples are pushed in batches; a malformed record aborts the run after the
pending batch is flushed, unless --skip-errors is set. --dry-run parses and
validates everything but sends nothing.

Examples:
  vmcli import metrics.prom
  vmcli import data.json --format json --batch-size 500
  cat metrics.csv | vmcli import - --format csv --skip-errors
  vmcli import metrics.prom --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			var source io.Reader
			if path == "-" {
				source = os.Stdin
			} else {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open input file: %w", err)
				}
				defer f.Close()
				source = f
			}

			format := codec.Format(formatFlag)
			if formatFlag == "" {
				format = inferFormat(path)
				if format == "" {
					return fmt.Errorf("cannot infer format from %q, use --format", path)
				}
			}
			if _, err := codec.Lookup(format); err != nil {
				return err
			}
			if batchSize <= 0 {
				batchSize = cfg.Export.ChunkSize
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			opts := pipeline.ImportOptions{
				Format:     format,
				BatchSize:  batchSize,
				DryRun:     dryRun,
				SkipErrors: skipErrors,
			}
			if progress {
				opts.Progress = func(ev pipeline.ProgressEvent) {
					fmt.Fprintf(os.Stderr, "batch %d: %d samples (%d total)\n",
						ev.ChunkIndex, ev.SamplesInChunk, ev.CumulativeSamples)
				}
			}

			summary, err := pipeline.Import(cmd.Context(), client, source, opts)
			if err != nil {
				var ie *pipeline.ImportError
				if errors.As(err, &ie) && ie.Summary.SamplesIngested > 0 {
					fmt.Fprintf(os.Stderr, "Partial import: %d samples in %d batches ingested before abort\n",
						ie.Summary.SamplesIngested, ie.Summary.Batches)
				}
				return err
			}

			verb := "Imported"
			if dryRun {
				verb = "Would import"
			}
			fmt.Fprintf(os.Stderr, "%s %d samples in %d batches (%s)", verb,
				summary.SamplesIngested, summary.Batches, summary.Elapsed.Round(timeRound))
			if summary.SamplesSkipped > 0 {
				fmt.Fprintf(os.Stderr, ", skipped %d", summary.SamplesSkipped)
			}
			fmt.Fprintln(os.Stderr)
			return nil
		},
	}

	cmd.Flags().StringVar(&formatFlag, "format", "", "Input format: prometheus, json, csv, yaml (default: inferred from extension)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Samples per ingest request (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and validate without sending anything")
	cmd.Flags().BoolVar(&skipErrors, "skip-errors", false, "Skip malformed records and failed batches instead of aborting")
	cmd.Flags().BoolVar(&progress, "progress", false, "Report per-batch progress on stderr")

	return cmd
}

// inferFormat maps a file extension to a codec format.
func inferFormat(path string) codec.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".prom", ".txt", ".metrics":
		return codec.FormatPrometheus
	case ".json", ".jsonl":
		return codec.FormatJSON
	case ".csv":
		return codec.FormatCSV
	case ".yaml", ".yml":
		return codec.FormatYAML
	default:
		return ""
	}
}
