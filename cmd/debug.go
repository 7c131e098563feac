package cmd

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/Deplee/victoria-metrics-cli/internal/render"
)

// newDebugCmd creates the debug command group.
func newDebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Diagnostic operations",
		Long: `Diagnostic operations: metric discovery, backend flags and build info,
and a simple query latency probe.`,
	}

	cmd.AddCommand(newDebugMetricsCmd())
	cmd.AddCommand(newDebugFlagsCmd())
	cmd.AddCommand(newDebugBuildInfoCmd())
	cmd.AddCommand(newDebugPerformanceCmd())

	return cmd
}

func newDebugMetricsCmd() *cobra.Command {
	var (
		matchFlags []string
		stats      bool
		exportPath string
	)

	cmd := &cobra.Command{
		Use:   "metrics [PATTERN]",
		Short: "List metric names",
		Long: `List metric names known to the backend, optionally filtered by a regular
expression and/or narrowed server-side with --match selectors.

Examples:
  vmcli debug metrics
  vmcli debug metrics '^http_'
  vmcli debug metrics --match '{job="node"}' --stats`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat()
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			names, err := client.MetricNames(cmd.Context(), matchFlags)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				re, err := regexp.Compile(args[0])
				if err != nil {
					return fmt.Errorf("invalid pattern: %w", err)
				}
				filtered := names[:0]
				for _, n := range names {
					if re.MatchString(n) {
						filtered = append(filtered, n)
					}
				}
				names = filtered
			}

			if exportPath != "" {
				f, err := os.Create(exportPath)
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				defer f.Close()
				if err := render.MetricNames(f, names, format); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Wrote %d metric names to %s\n", len(names), exportPath)
				return nil
			}
			if stats {
				fmt.Printf("%d metric names\n", len(names))
				return nil
			}
			return render.MetricNames(os.Stdout, names, format)
		},
	}

	cmd.Flags().StringArrayVar(&matchFlags, "match", nil, "Server-side series selector (repeatable)")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print only the count")
	cmd.Flags().StringVar(&exportPath, "export", "", "Write the name list to a file")

	return cmd
}

func newDebugFlagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flags",
		Short: "Show backend runtime flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat()
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			flags, err := client.Flags(cmd.Context())
			if err != nil {
				return err
			}
			kv := make(map[string]string, len(flags))
			for k, v := range flags {
				kv[k] = fmt.Sprintf("%v", v)
			}
			return render.KeyValues(os.Stdout, kv, format)
		},
	}
}

func newDebugBuildInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buildinfo",
		Short: "Show backend build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat()
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			info, err := client.BuildInfo(cmd.Context())
			if err != nil {
				return err
			}
			kv := map[string]string{}
			flattenInfo("", info, kv)
			return render.KeyValues(os.Stdout, kv, format)
		},
	}
}

func flattenInfo(prefix string, m map[string]interface{}, out map[string]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flattenInfo(key, nested, out)
			continue
		}
		out[key] = fmt.Sprintf("%v", v)
	}
}

func newDebugPerformanceCmd() *cobra.Command {
	var (
		count int
		query string
	)

	cmd := &cobra.Command{
		Use:   "performance",
		Short: "Measure query round-trip latency",
		Long: `Run a query repeatedly and report min/avg/max round-trip latency. Useful
for a quick read on backend and network health.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("count must be positive, got %d", count)
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var min, max, total time.Duration
			for i := 0; i < count; i++ {
				began := time.Now()
				if _, err := client.Query(ctx, query, time.Time{}); err != nil {
					return fmt.Errorf("probe %d failed: %w", i+1, err)
				}
				elapsed := time.Since(began)
				total += elapsed
				if i == 0 || elapsed < min {
					min = elapsed
				}
				if elapsed > max {
					max = elapsed
				}
			}

			fmt.Printf("%d probes of %q\n", count, query)
			fmt.Printf("  min: %s\n", min.Round(timeRound))
			fmt.Printf("  avg: %s\n", (total / time.Duration(count)).Round(timeRound))
			fmt.Printf("  max: %s\n", max.Round(timeRound))
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 5, "Number of probe queries")
	cmd.Flags().StringVar(&query, "query", "vm_app_version", "Probe query expression")

	return cmd
}
