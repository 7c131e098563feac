package codec

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/Deplee/victoria-metrics-cli/internal/vm"
)

// jsonCodec implements the array-of-series JSON shape mirroring the
// backend's own range-query result:
//
//	[{"metric":{"__name__":"up","job":"vm"},"values":[[1705312800,"1"]]}]
//
// Values are string-encoded so NaN and Inf round-trip. Consecutive samples
// of one series are grouped into a single object; sample order is preserved.
type jsonCodec struct{}

func (jsonCodec) Format() Format { return FormatJSON }

func (jsonCodec) NewEncoder(w io.Writer) Encoder { return &jsonEncoder{w: w} }

func (jsonCodec) NewDecoder(r io.Reader) Decoder {
	return &jsonDecoder{dec: json.NewDecoder(r)}
}

// wirePair is one [timestamp, "value"] tuple.
type wirePair struct {
	Timestamp int64
	Value     float64
}

func (p wirePair) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%d,%q]", p.Timestamp, formatValue(p.Value))), nil
}

func (p *wirePair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var ts float64
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	p.Timestamp = int64(ts)
	var s string
	if err := json.Unmarshal(raw[1], &s); err == nil {
		v, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return fmt.Errorf("invalid value %q: %w", s, perr)
		}
		p.Value = v
		return nil
	}
	if err := json.Unmarshal(raw[1], &p.Value); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	return nil
}

type wireSeries struct {
	Metric map[string]string `json:"metric"`
	Values []wirePair        `json:"values"`
}

type jsonEncoder struct {
	w       io.Writer
	started bool
	curKey  string
	cur     *wireSeries
}

func (e *jsonEncoder) Encode(s vm.Sample) error {
	key := s.Key()
	if e.cur != nil && key == e.curKey {
		e.cur.Values = append(e.cur.Values, wirePair{Timestamp: s.Timestamp, Value: s.Value})
		return nil
	}
	if err := e.flush(); err != nil {
		return err
	}
	metric := make(map[string]string, len(s.Labels)+1)
	metric["__name__"] = s.MetricName
	for k, v := range s.Labels {
		metric[k] = v
	}
	e.curKey = key
	e.cur = &wireSeries{
		Metric: metric,
		Values: []wirePair{{Timestamp: s.Timestamp, Value: s.Value}},
	}
	return nil
}

func (e *jsonEncoder) flush() error {
	if e.cur == nil {
		return nil
	}
	data, err := json.Marshal(e.cur)
	if err != nil {
		return err
	}
	prefix := "["
	if e.started {
		prefix = ",\n"
	}
	if _, err := io.WriteString(e.w, prefix); err != nil {
		return err
	}
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	e.started = true
	e.cur = nil
	return nil
}

func (e *jsonEncoder) Close() error {
	if err := e.flush(); err != nil {
		return err
	}
	if !e.started {
		_, err := io.WriteString(e.w, "[]\n")
		return err
	}
	_, err := io.WriteString(e.w, "]\n")
	return err
}

type jsonDecoder struct {
	dec     *json.Decoder
	started bool
	done    bool
	record  int
	queue   []vm.Sample
}

func (d *jsonDecoder) Next() (vm.Sample, error) {
	for {
		if len(d.queue) > 0 {
			s := d.queue[0]
			d.queue = d.queue[1:]
			return s, nil
		}
		if d.done {
			return vm.Sample{}, io.EOF
		}
		if !d.started {
			tok, err := d.dec.Token()
			if err != nil {
				return vm.Sample{}, fmt.Errorf("malformed JSON document: %w", err)
			}
			if delim, ok := tok.(json.Delim); !ok || delim != '[' {
				return vm.Sample{}, fmt.Errorf("malformed JSON document: expected array, got %v", tok)
			}
			d.started = true
		}
		if !d.dec.More() {
			if _, err := d.dec.Token(); err != nil && err != io.EOF {
				return vm.Sample{}, fmt.Errorf("malformed JSON document: %w", err)
			}
			d.done = true
			continue
		}

		var raw json.RawMessage
		if err := d.dec.Decode(&raw); err != nil {
			return vm.Sample{}, fmt.Errorf("malformed JSON document: %w", err)
		}
		d.record++

		samples, perr := decodeWireSeries(raw)
		if perr != nil {
			perr.Line = d.record
			return vm.Sample{}, perr
		}
		d.queue = samples
	}
}

func decodeWireSeries(raw json.RawMessage) ([]vm.Sample, *ParseError) {
	var lenient struct {
		Metric map[string]string `json:"metric"`
		Values []json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(raw, &lenient); err != nil {
		return nil, &ParseError{Raw: string(raw), Reason: ReasonMalformedLabelSet, Err: err}
	}
	name := lenient.Metric["__name__"]
	if name == "" {
		return nil, &ParseError{Raw: string(raw), Reason: ReasonMissingField, Err: fmt.Errorf("series has no __name__")}
	}
	if len(lenient.Values) == 0 {
		return nil, &ParseError{Raw: string(raw), Reason: ReasonMissingField, Err: fmt.Errorf("series has no values")}
	}
	labels := make(map[string]string, len(lenient.Metric))
	for k, v := range lenient.Metric {
		if k != "__name__" {
			labels[k] = v
		}
	}
	samples := make([]vm.Sample, 0, len(lenient.Values))
	for _, rawPair := range lenient.Values {
		var p wirePair
		if err := json.Unmarshal(rawPair, &p); err != nil {
			return nil, &ParseError{Raw: string(raw), Reason: ReasonInvalidNumber, Err: err}
		}
		samples = append(samples, vm.Sample{
			MetricName: name,
			Labels:     labels,
			Timestamp:  p.Timestamp,
			Value:      p.Value,
		})
	}
	return samples, nil
}
