package vm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/common/model"
)

// Sample is one time-series data point. Timestamp is unix seconds; zero
// means "no timestamp" (the prometheus text format allows omitting it, and
// the import pipeline stamps such samples with its own clock).
type Sample struct {
	MetricName string
	Labels     map[string]string
	Timestamp  int64
	Value      float64
}

// Key returns the series identity of the sample: the metric name followed by
// the sorted label pairs. Two samples with equal keys belong to one series.
func (s Sample) Key() string {
	if len(s.Labels) == 0 {
		return s.MetricName
	}
	keys := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(s.MetricName)
	for _, k := range keys {
		b.WriteByte(0x1f)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.Labels[k])
	}
	return b.String()
}

// Validate checks the structural invariants of a sample: a non-empty metric
// name and no reserved __name__ key duplicated in the label set.
func (s Sample) Validate() error {
	if s.MetricName == "" {
		return fmt.Errorf("sample has empty metric name")
	}
	if _, ok := s.Labels[model.MetricNameLabel]; ok {
		return fmt.Errorf("sample %s carries a %s label outside the metric name", s.MetricName, model.MetricNameLabel)
	}
	return nil
}

// Point is one (timestamp, value) pair inside a series.
type Point struct {
	Timestamp int64   `json:"timestamp" yaml:"timestamp"`
	Value     float64 `json:"value" yaml:"value"`
}

// Series is one labelled time series in a query result.
type Series struct {
	MetricName string            `json:"metric_name" yaml:"metric_name"`
	Labels     map[string]string `json:"labels" yaml:"labels"`
	Points     []Point           `json:"points" yaml:"points"`
}

// QueryResult is the normalized response of an instant or range query.
// Series order matches the backend's result array order; the client never
// re-sorts it.
type QueryResult struct {
	Status     string   `json:"status" yaml:"status"`
	ResultType string   `json:"result_type" yaml:"result_type"`
	Series     []Series `json:"series" yaml:"series"`
}

// Samples flattens the result into one Sample per point, preserving series
// and point order.
func (r *QueryResult) Samples() []Sample {
	var out []Sample
	for _, s := range r.Series {
		for _, p := range s.Points {
			out = append(out, Sample{
				MetricName: s.MetricName,
				Labels:     s.Labels,
				Timestamp:  p.Timestamp,
				Value:      p.Value,
			})
		}
	}
	return out
}

type apiEnvelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	ErrorType string          `json:"errorType"`
	Error     string          `json:"error"`
}

type apiData struct {
	ResultType string          `json:"resultType"`
	Result     json.RawMessage `json:"result"`
}

type apiSeries struct {
	Metric map[string]string `json:"metric"`
	Value  *samplePair       `json:"value,omitempty"`
	Values []samplePair      `json:"values,omitempty"`
}

// samplePair decodes the backend's [<unix seconds>, "<value>"] tuples. The
// value arrives string-encoded so that NaN and Inf survive JSON; both spellings
// are accepted.
type samplePair struct {
	Timestamp int64
	Value     float64
}

func (p *samplePair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var ts float64
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return fmt.Errorf("invalid sample timestamp: %w", err)
	}
	p.Timestamp = int64(ts)

	var s string
	if err := json.Unmarshal(raw[1], &s); err == nil {
		v, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return fmt.Errorf("invalid sample value %q: %w", s, perr)
		}
		p.Value = v
		return nil
	}
	if err := json.Unmarshal(raw[1], &p.Value); err != nil {
		return fmt.Errorf("invalid sample value: %w", err)
	}
	return nil
}

// decodeQueryResponse turns the backend's JSON envelope into a QueryResult.
// A non-success status surfaces the envelope's error string verbatim.
func decodeQueryResponse(body []byte) (*QueryResult, error) {
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &QueryError{Kind: QueryDecode, Err: err}
	}
	if env.Status != "success" {
		return nil, &QueryError{Kind: QueryBackend, Message: env.Error}
	}

	var data apiData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &QueryError{Kind: QueryDecode, Err: err}
	}

	result := &QueryResult{
		Status:     env.Status,
		ResultType: data.ResultType,
	}

	switch data.ResultType {
	case "vector", "matrix":
		var series []apiSeries
		if err := json.Unmarshal(data.Result, &series); err != nil {
			return nil, &QueryError{Kind: QueryDecode, Err: err}
		}
		for _, s := range series {
			result.Series = append(result.Series, newSeries(s))
		}
	case "scalar":
		var pair samplePair
		if err := json.Unmarshal(data.Result, &pair); err != nil {
			return nil, &QueryError{Kind: QueryDecode, Err: err}
		}
		result.Series = []Series{{
			Points: []Point{{Timestamp: pair.Timestamp, Value: pair.Value}},
		}}
	case "string":
		var raw [2]json.RawMessage
		if err := json.Unmarshal(data.Result, &raw); err != nil {
			return nil, &QueryError{Kind: QueryDecode, Err: err}
		}
		var ts float64
		var text string
		if err := json.Unmarshal(raw[0], &ts); err != nil {
			return nil, &QueryError{Kind: QueryDecode, Err: err}
		}
		if err := json.Unmarshal(raw[1], &text); err != nil {
			return nil, &QueryError{Kind: QueryDecode, Err: err}
		}
		// String results only occur for literal string expressions; the text
		// rides in the labels since it has no numeric value.
		result.Series = []Series{{
			Labels: map[string]string{"value": text},
			Points: []Point{{Timestamp: int64(ts)}},
		}}
	default:
		return nil, &QueryError{Kind: QueryDecode, Err: fmt.Errorf("unknown result type %q", data.ResultType)}
	}

	return result, nil
}

func newSeries(s apiSeries) Series {
	out := Series{
		MetricName: s.Metric[model.MetricNameLabel],
		Labels:     make(map[string]string, len(s.Metric)),
	}
	for k, v := range s.Metric {
		if k == model.MetricNameLabel {
			continue
		}
		out.Labels[k] = v
	}
	if s.Value != nil {
		out.Points = append(out.Points, Point{Timestamp: s.Value.Timestamp, Value: s.Value.Value})
	}
	for _, p := range s.Values {
		out.Points = append(out.Points, Point{Timestamp: p.Timestamp, Value: p.Value})
	}
	return out
}
