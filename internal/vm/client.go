package vm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Deplee/victoria-metrics-cli/internal/config"
)

// Client talks to a VictoriaMetrics backend, standalone or clustered. It
// combines the resolved endpoint set with the retrying transport and decodes
// responses into the normalized result types.
type Client struct {
	transport *Transport
	endpoints *Endpoints
	log       *logrus.Logger
}

// New builds a client from the resolved configuration.
func New(cfg *config.Config, log *logrus.Logger, opts ...TransportOption) (*Client, error) {
	endpoints, err := ResolveEndpoints(cfg)
	if err != nil {
		return nil, err
	}
	transport, err := NewTransport(cfg, log, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		transport: transport,
		endpoints: endpoints,
		log:       log,
	}, nil
}

// Endpoints exposes the resolved endpoint set, mainly for logging.
func (c *Client) Endpoints() *Endpoints { return c.endpoints }

// Query executes an instant PromQL query. A zero at evaluates at the
// backend's current time.
func (c *Client) Query(ctx context.Context, expr string, at time.Time) (*QueryResult, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &QueryError{Kind: QueryInvalidRange, Message: "empty query expression"}
	}
	params := url.Values{}
	params.Set("query", expr)
	if !at.IsZero() {
		params.Set("time", strconv.FormatInt(at.Unix(), 10))
	}
	body, err := c.transport.Send(ctx, c.endpoints.Get(OpQuery), params, nil)
	if err != nil {
		return nil, err
	}
	return decodeQueryResponse(body)
}

// QueryRange executes a range PromQL query over [start, end] at step
// intervals. It validates start <= end and step > 0 before dispatch.
func (c *Client) QueryRange(ctx context.Context, expr string, start, end time.Time, step time.Duration) (*QueryResult, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &QueryError{Kind: QueryInvalidRange, Message: "empty query expression"}
	}
	if start.After(end) {
		return nil, &QueryError{Kind: QueryInvalidRange, Message: fmt.Sprintf("start %s is after end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))}
	}
	if step <= 0 {
		return nil, &QueryError{Kind: QueryInvalidRange, Message: fmt.Sprintf("step must be positive, got %s", step)}
	}
	params := url.Values{}
	params.Set("query", expr)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("step", strconv.FormatInt(int64(step.Seconds()), 10))
	body, err := c.transport.Send(ctx, c.endpoints.Get(OpQueryRange), params, nil)
	if err != nil {
		return nil, err
	}
	return decodeQueryResponse(body)
}

// Health probes the /health endpoint and returns the status text.
func (c *Client) Health(ctx context.Context) (string, error) {
	body, err := c.transport.Send(ctx, c.endpoints.Get(OpHealth), nil, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// MetricNames lists metric names, optionally narrowed by match[] selectors.
func (c *Client) MetricNames(ctx context.Context, matches []string) ([]string, error) {
	params := url.Values{}
	for _, m := range matches {
		params.Add("match[]", m)
	}
	body, err := c.transport.Send(ctx, c.endpoints.Get(OpLabelValues), params, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Status string   `json:"status"`
		Data   []string `json:"data"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &QueryError{Kind: QueryDecode, Err: err}
	}
	if resp.Status != "success" {
		return nil, &QueryError{Kind: QueryBackend, Message: resp.Error}
	}
	return resp.Data, nil
}

// nativeLine is VictoriaMetrics' bulk export/import JSON-line shape.
// Timestamps are unix milliseconds on the wire.
type nativeLine struct {
	Metric     map[string]string `json:"metric"`
	Values     []float64         `json:"values"`
	Timestamps []int64           `json:"timestamps"`
}

// ExportNative fetches raw samples for a label selector over [start, end]
// (both inclusive) from the native export endpoint.
func (c *Client) ExportNative(ctx context.Context, match string, start, end time.Time) ([]Sample, error) {
	params := url.Values{}
	params.Set("match[]", match)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	body, err := c.transport.Send(ctx, c.endpoints.Get(OpExport), params, nil)
	if err != nil {
		return nil, err
	}

	var samples []Sample
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var nl nativeLine
		if err := json.Unmarshal(line, &nl); err != nil {
			return nil, &QueryError{Kind: QueryDecode, Err: fmt.Errorf("malformed export line: %w", err)}
		}
		name := nl.Metric["__name__"]
		labels := make(map[string]string, len(nl.Metric))
		for k, v := range nl.Metric {
			if k != "__name__" {
				labels[k] = v
			}
		}
		for i, ts := range nl.Timestamps {
			if i >= len(nl.Values) {
				break
			}
			samples = append(samples, Sample{
				MetricName: name,
				Labels:     labels,
				Timestamp:  ts / 1000,
				Value:      nl.Values[i],
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &QueryError{Kind: QueryDecode, Err: err}
	}
	return samples, nil
}

// ImportSamples pushes one batch of samples to the ingest endpoint in the
// native JSON-line format. Ingestion is not idempotent and is never retried.
func (c *Client) ImportSamples(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, s := range samples {
		metric := make(map[string]string, len(s.Labels)+1)
		metric["__name__"] = s.MetricName
		for k, v := range s.Labels {
			metric[k] = v
		}
		line := nativeLine{
			Metric:     metric,
			Values:     []float64{s.Value},
			Timestamps: []int64{s.Timestamp * 1000},
		}
		if err := enc.Encode(&line); err != nil {
			return fmt.Errorf("failed to encode sample %s: %w", s.MetricName, err)
		}
	}
	_, err := c.transport.Send(ctx, c.endpoints.Get(OpImport), nil, buf.Bytes())
	return err
}

// DeleteSeries removes all series matching the selector, optionally bounded
// by a time range. Irreversible; never retried.
func (c *Client) DeleteSeries(ctx context.Context, match string, start, end time.Time) error {
	params := url.Values{}
	params.Set("match[]", match)
	if !start.IsZero() {
		params.Set("start", strconv.FormatInt(start.Unix(), 10))
	}
	if !end.IsZero() {
		params.Set("end", strconv.FormatInt(end.Unix(), 10))
	}
	_, err := c.transport.Send(ctx, c.endpoints.Get(OpDeleteSeries), params, nil)
	return err
}

// Snapshot describes one backend snapshot. Older backends return bare names;
// newer ones return objects, so every field beyond Name is best-effort.
type Snapshot struct {
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	Size      string `json:"size"`
	Status    string `json:"status"`
}

// CreateSnapshot asks the storage layer for a new snapshot and returns its
// identifier.
func (c *Client) CreateSnapshot(ctx context.Context, name string) (string, error) {
	params := url.Values{}
	if name != "" {
		params.Set("snapshot", name)
	}
	body, err := c.transport.Send(ctx, c.endpoints.Get(OpSnapshotCreate), params, nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		Status   string `json:"status"`
		Snapshot string `json:"snapshot"`
	}
	if jerr := json.Unmarshal(body, &resp); jerr == nil && resp.Snapshot != "" {
		return resp.Snapshot, nil
	}
	return strings.TrimSpace(string(body)), nil
}

// ListSnapshots lists the storage layer's snapshots.
func (c *Client) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	body, err := c.transport.Send(ctx, c.endpoints.Get(OpSnapshotList), nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Status    string            `json:"status"`
		Snapshots []json.RawMessage `json:"snapshots"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &QueryError{Kind: QueryDecode, Err: err}
	}
	snapshots := make([]Snapshot, 0, len(resp.Snapshots))
	for _, raw := range resp.Snapshots {
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			snapshots = append(snapshots, Snapshot{Name: name})
			continue
		}
		var s Snapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, &QueryError{Kind: QueryDecode, Err: err}
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

// DeleteSnapshot removes one snapshot by name.
func (c *Client) DeleteSnapshot(ctx context.Context, name string) error {
	params := url.Values{}
	params.Set("snapshot", name)
	_, err := c.transport.Send(ctx, c.endpoints.Get(OpSnapshotDelete), params, nil)
	return err
}

// RetentionInfo describes the storage layer's retention state.
type RetentionInfo struct {
	CurrentRetention string `json:"current_retention"`
	UsedSpace        string `json:"used_space"`
	TotalSpace       string `json:"total_space"`
}

// Retention fetches the current retention settings.
func (c *Client) Retention(ctx context.Context) (*RetentionInfo, error) {
	body, err := c.transport.Send(ctx, c.endpoints.Get(OpRetentionInfo), nil, nil)
	if err != nil {
		return nil, err
	}
	var info RetentionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &QueryError{Kind: QueryDecode, Err: err}
	}
	return &info, nil
}

// SetRetention updates the retention period, e.g. "30d".
func (c *Client) SetRetention(ctx context.Context, retention string) error {
	params := url.Values{}
	params.Set("retention", retention)
	_, err := c.transport.Send(ctx, c.endpoints.Get(OpRetentionUpdate), params, nil)
	return err
}

// Flags fetches the backend's runtime flags.
func (c *Client) Flags(ctx context.Context) (map[string]interface{}, error) {
	body, err := c.transport.Send(ctx, c.endpoints.Get(OpFlags), nil, nil)
	if err != nil {
		return nil, err
	}
	var flags map[string]interface{}
	if err := json.Unmarshal(body, &flags); err != nil {
		return nil, &QueryError{Kind: QueryDecode, Err: err}
	}
	return flags, nil
}

// BuildInfo fetches the backend's build information.
func (c *Client) BuildInfo(ctx context.Context) (map[string]interface{}, error) {
	body, err := c.transport.Send(ctx, c.endpoints.Get(OpBuildInfo), nil, nil)
	if err != nil {
		return nil, err
	}
	var info map[string]interface{}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &QueryError{Kind: QueryDecode, Err: err}
	}
	return info, nil
}
