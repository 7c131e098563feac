package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Deplee/victoria-metrics-cli/internal/render"
	"github.com/Deplee/victoria-metrics-cli/internal/vm"
)

// newQueryCmd creates the query command for instant and range PromQL queries.
func newQueryCmd() *cobra.Command {
	var (
		atFlag      string
		rangeFlag   string
		startFlag   string
		endFlag     string
		stepFlag    string
		countOnly   bool
		metricsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "query EXPRESSION",
		Short: "Execute a PromQL query",
		Long: `Execute an instant or range PromQL query against the backend.

Without --range/--start/--end the query is evaluated at a single instant
(--time, default: the backend's current time). With a range, the expression
is evaluated at --step intervals over the window.

Examples:
  vmcli query 'up'
  vmcli query 'rate(http_requests_total[5m])' --time 2024-01-15T10:00:00Z
  vmcli query 'up' --range 1h --step 30s
  vmcli query 'up' --start now-6h --end now --step 1m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat()
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			expr := args[0]
			ctx := cmd.Context()

			var result *vm.QueryResult
			if rangeFlag != "" || startFlag != "" || endFlag != "" {
				start, end, err := resolveRange(startFlag, endFlag, rangeFlag)
				if err != nil {
					return err
				}
				step := 15 * time.Second
				if stepFlag != "" {
					step, err = parseDurationFlag(stepFlag)
					if err != nil {
						return err
					}
				}
				result, err = client.QueryRange(ctx, expr, start, end, step)
				if err != nil {
					return err
				}
			} else {
				at, err := parseTimeFlag(atFlag)
				if err != nil {
					return err
				}
				result, err = client.Query(ctx, expr, at)
				if err != nil {
					return err
				}
			}

			switch {
			case countOnly:
				points := 0
				for _, s := range result.Series {
					points += len(s.Points)
				}
				fmt.Printf("%d series, %d points\n", len(result.Series), points)
				return nil
			case metricsOnly:
				seen := map[string]bool{}
				for _, s := range result.Series {
					if s.MetricName != "" && !seen[s.MetricName] {
						seen[s.MetricName] = true
						fmt.Println(s.MetricName)
					}
				}
				return nil
			default:
				return render.QueryResult(os.Stdout, result, format)
			}
		},
	}

	cmd.Flags().StringVar(&atFlag, "time", "", "Evaluation time for instant queries (RFC3339, unix seconds or now[-offset])")
	cmd.Flags().StringVar(&rangeFlag, "range", "", "Query window ending now, e.g. 1h (switches to a range query)")
	cmd.Flags().StringVar(&startFlag, "start", "", "Range start (RFC3339, unix seconds or now[-offset])")
	cmd.Flags().StringVar(&endFlag, "end", "", "Range end (default: now)")
	cmd.Flags().StringVar(&stepFlag, "step", "", "Range query resolution (default: 15s)")
	cmd.Flags().BoolVar(&countOnly, "count", false, "Print only series and point counts")
	cmd.Flags().BoolVar(&metricsOnly, "metrics-only", false, "Print only the distinct metric names in the result")

	return cmd
}
