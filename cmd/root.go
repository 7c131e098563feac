package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Deplee/victoria-metrics-cli/internal/config"
	"github.com/Deplee/victoria-metrics-cli/internal/render"
	"github.com/Deplee/victoria-metrics-cli/internal/telemetry"
	"github.com/Deplee/victoria-metrics-cli/internal/vm"
)

var (
	flagConfig  string
	flagHost    string
	flagTimeout int
	flagOutput  string
	flagNoColor bool
	flagVerbose bool

	cfg *config.Config
	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "vmcli",
	Short: "Command-line client for VictoriaMetrics",
	Long: `vmcli is a command-line client for VictoriaMetrics, standalone or clustered.

It executes instant and range PromQL queries, exports and imports time-series
data in several formats (prometheus, json, csv, yaml), and performs
administrative operations such as series deletion, snapshot management and
retention inspection.

Configuration is resolved from defaults, an optional YAML config file
(./.vmcli.yaml, ./vmcli.yaml or $XDG_CONFIG_HOME/vmcli/config.yaml) and
VM_* environment variables, in that order:

  VM_HOST       - VictoriaMetrics base URL (default http://localhost:8428)
  VM_TIMEOUT    - Per-request timeout in seconds
  VM_USERNAME   - Basic auth username
  VM_PASSWORD   - Basic auth password
  VM_TOKEN      - Bearer token (wins over basic auth)
  VM_LOG_LEVEL  - Log level: debug, info, warn, error`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagHost != "" {
			cfg.Host = flagHost
		}
		if flagTimeout > 0 {
			cfg.TimeoutSeconds = flagTimeout
		}
		if flagOutput != "" {
			cfg.Output.Format = flagOutput
		}
		if flagNoColor {
			cfg.Output.Color = false
		}
		color.NoColor = !cfg.Output.Color

		setupLogging()
		setupTelemetry(cmd.Context())
		return nil
	}
}

func setupLogging() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})

	level := logrus.WarnLevel
	if cfg.Logging != nil && cfg.Logging.Level != "" {
		if parsed, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
			level = parsed
		}
	}
	if flagVerbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	if cfg.Logging != nil && cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.WithError(err).Warn("failed to open log file, logging to stderr")
			return
		}
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}
}

// newClient builds a backend client from the resolved configuration.
func newClient() (*vm.Client, error) {
	return vm.New(cfg, log)
}

// outputFormat resolves the effective --output value.
func outputFormat() (render.Format, error) {
	return render.ParseFormat(cfg.Output.Format)
}

// Execute runs the root command with signal-driven cancellation.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	if telemetryShutdown != nil {
		if serr := telemetryShutdown(context.Background()); serr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to flush traces: %v\n", serr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var telemetryShutdown func(context.Context) error

func setupTelemetry(ctx context.Context) {
	if cfg.Telemetry == nil || cfg.Telemetry.OTLPEndpoint == "" {
		return
	}
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, rootCmd.Version)
	if err != nil {
		log.WithError(err).Warn("Tracing disabled")
		return
	}
	telemetryShutdown = shutdown
}

// SetVersion sets the version for the root command
func SetVersion(version string) {
	rootCmd.Version = version
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Path to config file")
	pf.StringVar(&flagHost, "host", "", "VictoriaMetrics base URL (overrides config)")
	pf.IntVar(&flagTimeout, "timeout", 0, "Per-request timeout in seconds (overrides config)")
	pf.StringVarP(&flagOutput, "output", "o", "", "Output format: table, json, yaml, csv")
	pf.BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newAdminCmd())
	rootCmd.AddCommand(newDebugCmd())
	rootCmd.AddCommand(newVersionCmd())
}
