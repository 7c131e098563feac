package codec

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/Deplee/victoria-metrics-cli/internal/vm"
)

var (
	metricNameRe = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	labelNameRe  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// promCodec implements the prometheus exposition text format: one
// `name{label="value"} value timestamp` line per sample. The timestamp is
// optional; samples decoded without one carry Timestamp == 0 and the caller
// supplies a clock.
type promCodec struct{}

func (promCodec) Format() Format { return FormatPrometheus }

func (promCodec) NewEncoder(w io.Writer) Encoder { return &promEncoder{w: bufio.NewWriter(w)} }

func (promCodec) NewDecoder(r io.Reader) Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &promDecoder{scanner: sc}
}

type promEncoder struct {
	w *bufio.Writer
}

func (e *promEncoder) Encode(s vm.Sample) error {
	if _, err := e.w.WriteString(s.MetricName); err != nil {
		return err
	}
	if len(s.Labels) > 0 {
		e.w.WriteByte('{')
		for i, k := range sortedLabelKeys(s.Labels) {
			if i > 0 {
				e.w.WriteByte(',')
			}
			e.w.WriteString(k)
			e.w.WriteString(`="`)
			e.w.WriteString(escapeLabelValue(s.Labels[k]))
			e.w.WriteByte('"')
		}
		e.w.WriteByte('}')
	}
	e.w.WriteByte(' ')
	e.w.WriteString(formatValue(s.Value))
	if s.Timestamp != 0 {
		e.w.WriteByte(' ')
		e.w.WriteString(strconv.FormatInt(s.Timestamp, 10))
	}
	return e.w.WriteByte('\n')
}

func (e *promEncoder) Close() error { return e.w.Flush() }

// escapeLabelValue applies the exposition-format quoting rule: backslash,
// double quote and newline are escaped.
func escapeLabelValue(v string) string {
	if !strings.ContainsAny(v, "\\\"\n") {
		return v
	}
	var b strings.Builder
	for _, r := range v {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type promDecoder struct {
	scanner *bufio.Scanner
	line    int
}

func (d *promDecoder) Next() (vm.Sample, error) {
	for d.scanner.Scan() {
		d.line++
		raw := strings.TrimSpace(d.scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		s, perr := parsePromLine(raw)
		if perr != nil {
			perr.Line = d.line
			return vm.Sample{}, perr
		}
		return s, nil
	}
	if err := d.scanner.Err(); err != nil {
		return vm.Sample{}, err
	}
	return vm.Sample{}, io.EOF
}

func parsePromLine(raw string) (vm.Sample, *ParseError) {
	name := raw
	rest := ""
	labels := map[string]string{}

	if i := strings.IndexByte(raw, '{'); i >= 0 {
		name = raw[:i]
		end := closingBrace(raw, i)
		if end < 0 {
			return vm.Sample{}, &ParseError{Raw: raw, Reason: ReasonMalformedLabelSet, Err: fmt.Errorf("unterminated label set")}
		}
		var perr *ParseError
		labels, perr = parseLabelSet(raw[i+1 : end])
		if perr != nil {
			perr.Raw = raw
			return vm.Sample{}, perr
		}
		rest = raw[end+1:]
	} else if i := strings.IndexAny(raw, " \t"); i >= 0 {
		name = raw[:i]
		rest = raw[i:]
	} else {
		return vm.Sample{}, &ParseError{Raw: raw, Reason: ReasonMissingField, Err: fmt.Errorf("no value field")}
	}

	if name == "" {
		return vm.Sample{}, &ParseError{Raw: raw, Reason: ReasonMissingField, Err: fmt.Errorf("empty metric name")}
	}
	if !metricNameRe.MatchString(name) {
		return vm.Sample{}, &ParseError{Raw: raw, Reason: ReasonMalformedLabelSet, Err: fmt.Errorf("invalid metric name %q", name)}
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return vm.Sample{}, &ParseError{Raw: raw, Reason: ReasonMissingField, Err: fmt.Errorf("no value field")}
	}
	if len(fields) > 2 {
		return vm.Sample{}, &ParseError{Raw: raw, Reason: ReasonMalformedLabelSet, Err: fmt.Errorf("trailing garbage after timestamp")}
	}

	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return vm.Sample{}, &ParseError{Raw: raw, Reason: ReasonInvalidNumber, Err: err}
	}

	var ts int64
	if len(fields) == 2 {
		f, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return vm.Sample{}, &ParseError{Raw: raw, Reason: ReasonInvalidNumber, Err: err}
		}
		ts = int64(f)
	}

	return vm.Sample{
		MetricName: name,
		Labels:     labels,
		Timestamp:  ts,
		Value:      value,
	}, nil
}

// closingBrace finds the index of the '}' matching the '{' at open,
// respecting quoted label values.
func closingBrace(s string, open int) int {
	inQuotes := false
	escaped := false
	for i := open + 1; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inQuotes = !inQuotes
		case c == '}' && !inQuotes:
			return i
		}
	}
	return -1
}

// parseLabelSet parses `k1="v1",k2="v2"` with exposition-format escapes.
func parseLabelSet(s string) (map[string]string, *ParseError) {
	labels := map[string]string{}
	rest := strings.TrimSpace(s)
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return nil, &ParseError{Reason: ReasonMalformedLabelSet, Err: fmt.Errorf("label pair %q has no '='", rest)}
		}
		key := strings.TrimSpace(rest[:eq])
		if key == "" || !labelNameRe.MatchString(key) {
			return nil, &ParseError{Reason: ReasonMalformedLabelSet, Err: fmt.Errorf("invalid label name %q", key)}
		}
		rest = strings.TrimSpace(rest[eq+1:])
		if rest == "" || rest[0] != '"' {
			return nil, &ParseError{Reason: ReasonMalformedLabelSet, Err: fmt.Errorf("label %s has unquoted value", key)}
		}

		var b strings.Builder
		i := 1
		closed := false
		for i < len(rest) {
			c := rest[i]
			if c == '\\' && i+1 < len(rest) {
				switch rest[i+1] {
				case '\\':
					b.WriteByte('\\')
				case '"':
					b.WriteByte('"')
				case 'n':
					b.WriteByte('\n')
				default:
					b.WriteByte('\\')
					b.WriteByte(rest[i+1])
				}
				i += 2
				continue
			}
			if c == '"' {
				closed = true
				i++
				break
			}
			b.WriteByte(c)
			i++
		}
		if !closed {
			return nil, &ParseError{Reason: ReasonMalformedLabelSet, Err: fmt.Errorf("label %s has unterminated value", key)}
		}
		labels[key] = b.String()

		rest = strings.TrimSpace(rest[i:])
		if rest == "" {
			break
		}
		if rest[0] != ',' {
			return nil, &ParseError{Reason: ReasonMalformedLabelSet, Err: fmt.Errorf("expected ',' between label pairs")}
		}
		rest = strings.TrimSpace(rest[1:])
	}
	return labels, nil
}
