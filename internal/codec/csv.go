package codec

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Deplee/victoria-metrics-cli/internal/vm"
)

// csvCodec implements the CSV format: a `timestamp,value,metric_name,labels`
// header followed by one row per sample. The labels column serializes the
// label set as `key=value;key=value` with backslash escaping for the three
// structural characters.
type csvCodec struct{}

func (csvCodec) Format() Format { return FormatCSV }

func (csvCodec) NewEncoder(w io.Writer) Encoder { return &csvEncoder{w: csv.NewWriter(w)} }

func (csvCodec) NewDecoder(r io.Reader) Decoder {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return &csvDecoder{r: cr}
}

var csvHeader = []string{"timestamp", "value", "metric_name", "labels"}

type csvEncoder struct {
	w           *csv.Writer
	wroteHeader bool
}

func (e *csvEncoder) Encode(s vm.Sample) error {
	if !e.wroteHeader {
		if err := e.w.Write(csvHeader); err != nil {
			return err
		}
		e.wroteHeader = true
	}
	return e.w.Write([]string{
		strconv.FormatInt(s.Timestamp, 10),
		formatValue(s.Value),
		s.MetricName,
		encodeLabelsField(s.Labels),
	})
}

func (e *csvEncoder) Close() error {
	if !e.wroteHeader {
		if err := e.w.Write(csvHeader); err != nil {
			return err
		}
	}
	e.w.Flush()
	return e.w.Error()
}

func encodeLabelsField(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, k := range sortedLabelKeys(labels) {
		parts = append(parts, escapeLabelsToken(k)+"="+escapeLabelsToken(labels[k]))
	}
	return strings.Join(parts, ";")
}

func escapeLabelsToken(s string) string {
	if !strings.ContainsAny(s, `\;=`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r == '\\' || r == ';' || r == '=' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// decodeLabelsField splits on unescaped ';' then unescaped '='.
func decodeLabelsField(s string) (map[string]string, error) {
	labels := map[string]string{}
	if s == "" {
		return labels, nil
	}
	for _, pair := range splitUnescaped(s, ';') {
		kv := splitUnescaped(pair, '=')
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("malformed label pair %q", pair)
		}
		labels[unescapeLabelsToken(kv[0])] = unescapeLabelsToken(kv[1])
	}
	return labels, nil
}

func splitUnescaped(s string, sep byte) []string {
	var parts []string
	var b strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			b.WriteByte('\\')
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == sep:
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	if escaped {
		b.WriteByte('\\')
	}
	parts = append(parts, b.String())
	return parts
}

func unescapeLabelsToken(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

type csvDecoder struct {
	r       *csv.Reader
	line    int
	skipped bool
}

func (d *csvDecoder) Next() (vm.Sample, error) {
	for {
		record, err := d.r.Read()
		if err == io.EOF {
			return vm.Sample{}, io.EOF
		}
		d.line++
		if err != nil {
			return vm.Sample{}, &ParseError{Line: d.line, Raw: strings.Join(record, ","), Reason: ReasonMalformedLabelSet, Err: err}
		}
		if !d.skipped {
			d.skipped = true
			if len(record) > 0 && record[0] == csvHeader[0] {
				continue
			}
		}

		raw := strings.Join(record, ",")
		if len(record) < 3 {
			return vm.Sample{}, &ParseError{Line: d.line, Raw: raw, Reason: ReasonMissingField, Err: fmt.Errorf("expected at least 3 fields, got %d", len(record))}
		}

		tsF, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return vm.Sample{}, &ParseError{Line: d.line, Raw: raw, Reason: ReasonInvalidNumber, Err: err}
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return vm.Sample{}, &ParseError{Line: d.line, Raw: raw, Reason: ReasonInvalidNumber, Err: err}
		}
		name := strings.TrimSpace(record[2])
		if name == "" {
			return vm.Sample{}, &ParseError{Line: d.line, Raw: raw, Reason: ReasonMissingField, Err: fmt.Errorf("empty metric name")}
		}

		labels := map[string]string{}
		if len(record) >= 4 {
			labels, err = decodeLabelsField(record[3])
			if err != nil {
				return vm.Sample{}, &ParseError{Line: d.line, Raw: raw, Reason: ReasonMalformedLabelSet, Err: err}
			}
		}

		return vm.Sample{
			MetricName: name,
			Labels:     labels,
			Timestamp:  int64(tsF),
			Value:      value,
		}, nil
	}
}
