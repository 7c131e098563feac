package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Deplee/victoria-metrics-cli/internal/codec"
	"github.com/Deplee/victoria-metrics-cli/internal/pipeline"
)

// newExportCmd creates the export command.
func newExportCmd() *cobra.Command {
	var (
		startFlag  string
		endFlag    string
		rangeFlag  string
		outputPath string
		formatFlag string
		chunkSize  int
		windowFlag string
		progress   bool
	)

	cmd := &cobra.Command{
		Use:   "export MATCH",
		Short: "Export time-series data",
		Long: `Export raw samples matching a label selector over a time window.

The range is split into fixed time slices fetched one request each; the next
slice downloads while the previous one is written. Output goes to stdout
unless --output names a file.

Examples:
  vmcli export 'up' --range 24h > up.prom
  vmcli export '{job="node"}' --start 2024-01-01T00:00:00Z --end 2024-01-02T00:00:00Z --format json --output node.json
  vmcli export 'http_requests_total' --range 7d --window 6h --chunk-size 5000 --progress`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := resolveRange(startFlag, endFlag, rangeFlag)
			if err != nil {
				return err
			}

			format := codec.Format(formatFlag)
			if formatFlag == "" {
				format = codec.Format(cfg.Export.DefaultFormat)
			}
			if _, err := codec.Lookup(format); err != nil {
				return err
			}
			if chunkSize <= 0 {
				chunkSize = cfg.Export.ChunkSize
			}

			sink := os.Stdout
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				sink = f
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			opts := pipeline.ExportOptions{
				Match:     args[0],
				Start:     start,
				End:       end,
				Format:    format,
				ChunkSize: chunkSize,
			}
			if windowFlag != "" {
				opts.Window, err = parseDurationFlag(windowFlag)
				if err != nil {
					return err
				}
			}
			if progress {
				opts.Progress = func(ev pipeline.ProgressEvent) {
					fmt.Fprintf(os.Stderr, "chunk %d: %d samples (%d total)\n",
						ev.ChunkIndex, ev.SamplesInChunk, ev.CumulativeSamples)
				}
			}

			summary, err := pipeline.Export(cmd.Context(), client, sink, opts)
			if err != nil {
				var ee *pipeline.ExportError
				if errors.As(err, &ee) && ee.Summary.TotalSamples > 0 {
					fmt.Fprintf(os.Stderr, "Partial export: %d samples in %d chunks written before failure\n",
						ee.Summary.TotalSamples, ee.Summary.TotalChunks)
				}
				return err
			}

			fmt.Fprintf(os.Stderr, "Exported %d samples in %d chunks (%s)\n",
				summary.TotalSamples, summary.TotalChunks, summary.Elapsed.Round(timeRound))
			return nil
		},
	}

	cmd.Flags().StringVar(&startFlag, "start", "", "Range start (RFC3339, unix seconds or now[-offset])")
	cmd.Flags().StringVar(&endFlag, "end", "", "Range end (default: now)")
	cmd.Flags().StringVar(&rangeFlag, "range", "", "Export window ending now, e.g. 24h")
	cmd.Flags().StringVarP(&outputPath, "output-file", "f", "", "Write to file instead of stdout")
	cmd.Flags().StringVar(&formatFlag, "format", "", "Export format: prometheus, json, csv, yaml")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Samples per chunk (default from config)")
	cmd.Flags().StringVar(&windowFlag, "window", "", "Time span per backend request (default 1h)")
	cmd.Flags().BoolVar(&progress, "progress", false, "Report per-chunk progress on stderr")

	return cmd
}
