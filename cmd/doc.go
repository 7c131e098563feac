// Package cmd provides the command-line interface for vmcli.
//
// This package implements the Cobra CLI framework to provide commands for:
// - Executing instant and range PromQL queries
// - Exporting and importing time-series data in several formats
// - Administrative operations (series deletion, snapshots, retention)
// - Diagnostics (health probes, metric discovery, latency measurement)
//
// Configuration is layered: built-in defaults, then an optional YAML config
// file, then VM_* environment variables, then command-line flags.
//
// Environment Variables:
//   - VM_HOST: VictoriaMetrics base URL (default http://localhost:8428)
//   - VM_TIMEOUT: Per-request timeout in seconds
//   - VM_USERNAME: Optional basic auth username
//   - VM_PASSWORD: Optional basic auth password
//   - VM_TOKEN: Optional bearer token (wins over basic auth)
//   - VM_LOG_LEVEL: Log level (debug, info, warn, error)
//
// Example usage:
//
//	vmcli query 'up'
//	vmcli export '{job="node"}' --range 24h --format json
//	vmcli import metrics.prom --dry-run
package cmd
