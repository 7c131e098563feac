package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Deplee/victoria-metrics-cli/internal/render"
)

// newHealthCmd creates the health command.
func newHealthCmd() *cobra.Command {
	var (
		statusOnly bool
		extended   bool
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check backend health",
		Long: `Probe the backend's /health endpoint.

With --extended, build information and a trivial test query are also checked
and reported. The exit code is non-zero when the backend is unreachable or
reports anything other than OK.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			extended = extended || flagVerbose

			status, err := client.Health(ctx)
			if err != nil {
				if statusOnly {
					fmt.Println("unhealthy")
					os.Exit(1)
				}
				render.Health(os.Stdout, false, err.Error(), nil)
				os.Exit(1)
			}
			healthy := strings.EqualFold(status, "OK")

			if statusOnly {
				if healthy {
					fmt.Println("healthy")
					return nil
				}
				fmt.Println("unhealthy")
				os.Exit(1)
			}

			var extras map[string]string
			if extended {
				extras = map[string]string{}
				if info, err := client.BuildInfo(ctx); err == nil {
					if data, ok := info["data"].(map[string]interface{}); ok {
						if v, ok := data["version"].(string); ok {
							extras["version"] = v
						}
					}
				} else {
					extras["buildinfo"] = fmt.Sprintf("unavailable: %v", err)
				}
				if _, err := client.Query(ctx, "vm_app_version", time.Time{}); err == nil {
					extras["query"] = "ok"
				} else {
					extras["query"] = fmt.Sprintf("failed: %v", err)
				}
				extras["endpoint"] = cfg.Host
			}

			render.Health(os.Stdout, healthy, status, extras)
			if !healthy {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status-only", false, "Print only healthy/unhealthy")
	cmd.Flags().BoolVar(&extended, "extended", false, "Run extended checks (build info, test query)")

	return cmd
}
