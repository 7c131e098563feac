package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Deplee/victoria-metrics-cli/internal/render"
)

// newAdminCmd creates the admin command group.
func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations",
		Long: `Administrative operations against the backend: series deletion,
snapshot management and retention inspection. In cluster mode these go to
the vmstorage host when one is configured.`,
	}

	cmd.AddCommand(newAdminDeleteCmd())
	cmd.AddCommand(newAdminSnapshotCmd())
	cmd.AddCommand(newAdminRetentionCmd())

	return cmd
}

func newAdminDeleteCmd() *cobra.Command {
	var (
		startFlag string
		endFlag   string
		confirm   bool
	)

	cmd := &cobra.Command{
		Use:   "delete MATCH",
		Short: "Delete series matching a selector",
		Long: `Delete all series matching a label selector, optionally bounded by a
time range. Deletion is irreversible and requires confirmation unless
--confirm is given.

Examples:
  vmcli admin delete '{job="old_exporter"}' --confirm
  vmcli admin delete 'temp_metric' --start 2024-01-01T00:00:00Z --end 2024-02-01T00:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			match := args[0]
			start, err := parseTimeFlag(startFlag)
			if err != nil {
				return err
			}
			end, err := parseTimeFlag(endFlag)
			if err != nil {
				return err
			}

			if !confirm {
				fmt.Printf("This will permanently delete all series matching %q. Continue? [y/N] ", match)
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				answer = strings.ToLower(strings.TrimSpace(answer))
				if answer != "y" && answer != "yes" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			client, err := newClient()
			if err != nil {
				return err
			}
			if err := client.DeleteSeries(cmd.Context(), match, start, end); err != nil {
				return err
			}
			fmt.Printf("Deleted series matching %q\n", match)
			return nil
		},
	}

	cmd.Flags().StringVar(&startFlag, "start", "", "Only delete samples at or after this time")
	cmd.Flags().StringVar(&endFlag, "end", "", "Only delete samples at or before this time")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Skip the interactive confirmation")

	return cmd
}

func newAdminSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage storage snapshots",
	}

	var createName string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a new snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			name, err := client.CreateSnapshot(cmd.Context(), createName)
			if err != nil {
				return err
			}
			fmt.Printf("Created snapshot %s\n", name)
			return nil
		},
	}
	create.Flags().StringVar(&createName, "name", "", "Snapshot name hint (backend may ignore it)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots",
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
			snapshots, err := client.ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			return render.Snapshots(os.Stdout, snapshots, format)
		},
	}

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			if err := client.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted snapshot %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(create, list, del)
	return cmd
}

func newAdminRetentionCmd() *cobra.Command {
	var setFlag string

	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Inspect or update retention",
		Long: `Show the storage layer's retention settings, or update the retention
period with --set (e.g. --set 90d). Not every backend deployment allows
runtime retention changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if setFlag != "" {
				if _, err := parseDurationFlag(setFlag); err != nil {
					return err
				}
				if err := client.SetRetention(ctx, setFlag); err != nil {
					return err
				}
				fmt.Printf("Retention set to %s\n", setFlag)
				return nil
			}

			format, err := outputFormat()
			if err != nil {
				return err
			}
			info, err := client.Retention(ctx)
			if err != nil {
				return err
			}
			return render.KeyValues(os.Stdout, map[string]string{
				"retention":   info.CurrentRetention,
				"used_space":  info.UsedSpace,
				"total_space": info.TotalSpace,
			}, format)
		},
	}

	cmd.Flags().StringVar(&setFlag, "set", "", "New retention period, e.g. 90d")

	return cmd
}
