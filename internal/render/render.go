// Package render turns query results and operational summaries into the
// terminal output formats: an aligned table, JSON, YAML or CSV. Table output
// colorizes when attached to a terminal; every other format is plain.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/Deplee/victoria-metrics-cli/internal/vm"
)

// Format tags one output rendering.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatCSV   Format = "csv"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatTable, FormatJSON, FormatYAML, FormatCSV:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported output format %q (supported: table, json, yaml, csv)", s)
	}
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen, color.Bold)
	badColor    = color.New(color.FgRed, color.Bold)
	dimColor    = color.New(color.Faint)
)

// QueryResult writes a query result in the chosen format.
func QueryResult(w io.Writer, result *vm.QueryResult, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	case FormatCSV:
		return queryResultCSV(w, result)
	case FormatTable:
		return queryResultTable(w, result)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func queryResultCSV(w io.Writer, result *vm.QueryResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"metric", "labels", "timestamp", "value"}); err != nil {
		return err
	}
	for _, s := range result.Series {
		for _, p := range s.Points {
			if err := cw.Write([]string{
				s.MetricName,
				formatLabels(s.Labels),
				strconv.FormatInt(p.Timestamp, 10),
				formatValue(p.Value),
			}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func queryResultTable(w io.Writer, result *vm.QueryResult) error {
	if len(result.Series) == 0 {
		dimColor.Fprintln(w, "no data")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"METRIC", "LABELS", "TIMESTAMP", "VALUE"})
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	rows := 0
	for _, s := range result.Series {
		labels := formatLabels(s.Labels)
		for _, p := range s.Points {
			table.Append([]string{
				s.MetricName,
				labels,
				formatTimestamp(p.Timestamp),
				formatValue(p.Value),
			})
			rows++
		}
	}
	table.Render()
	dimColor.Fprintf(w, "\n%d series, %d points\n", len(result.Series), rows)
	return nil
}

// MetricNames writes a metric name listing.
func MetricNames(w io.Writer, names []string, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(names)
	case FormatYAML:
		return yaml.NewEncoder(w).Encode(names)
	default:
		for _, n := range names {
			if _, err := fmt.Fprintln(w, n); err != nil {
				return err
			}
		}
		return nil
	}
}

// Health writes a health probe result. ok is the backend's verdict; extras
// are optional named checks shown below the status line.
func Health(w io.Writer, ok bool, status string, extras map[string]string) {
	if ok {
		okColor.Fprintf(w, "OK")
	} else {
		badColor.Fprintf(w, "UNHEALTHY")
	}
	if status != "" {
		fmt.Fprintf(w, " (%s)", status)
	}
	fmt.Fprintln(w)
	for _, k := range sortedKeys(extras) {
		fmt.Fprintf(w, "  %s: %s\n", k, extras[k])
	}
}

// KeyValues writes a flat key/value listing, table-style or structured.
func KeyValues(w io.Writer, kv map[string]string, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(kv)
	case FormatYAML:
		return yaml.NewEncoder(w).Encode(kv)
	default:
		for _, k := range sortedKeys(kv) {
			headerColor.Fprintf(w, "%s: ", k)
			fmt.Fprintln(w, kv[k])
		}
		return nil
	}
}

// Snapshots writes a snapshot listing.
func Snapshots(w io.Writer, snapshots []vm.Snapshot, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshots)
	case FormatYAML:
		return yaml.NewEncoder(w).Encode(snapshots)
	default:
		if len(snapshots) == 0 {
			dimColor.Fprintln(w, "no snapshots")
			return nil
		}
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"NAME", "CREATED", "SIZE", "STATUS"})
		table.SetBorder(false)
		table.SetHeaderLine(false)
		table.SetColumnSeparator("")
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, s := range snapshots {
			table.Append([]string{s.Name, s.CreatedAt, s.Size, s.Status})
		}
		table.Render()
		return nil
	}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, k := range sortedKeys(labels) {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return strings.Join(parts, ", ")
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatTimestamp(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
