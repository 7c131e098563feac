package codec

import (
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Deplee/victoria-metrics-cli/internal/vm"
)

// yamlCodec serializes the same array-of-series shape as the JSON codec,
// as YAML. YAML has no streaming story, so the encoder accumulates the
// grouped series and writes one document on Close; the decoder reads the
// whole document up front and then yields records one at a time.
type yamlCodec struct{}

func (yamlCodec) Format() Format { return FormatYAML }

func (yamlCodec) NewEncoder(w io.Writer) Encoder { return &yamlEncoder{w: w} }

func (yamlCodec) NewDecoder(r io.Reader) Decoder { return &yamlDecoder{r: r} }

type yamlSeries struct {
	Metric map[string]string `yaml:"metric"`
	Values []yaml.Node       `yaml:"values"`
}

func yamlPair(ts int64, value float64) yaml.Node {
	var tsNode, valNode yaml.Node
	tsNode.SetString(strconv.FormatInt(ts, 10))
	tsNode.Tag = "!!int"
	valNode.SetString(formatValue(value))
	return yaml.Node{
		Kind:    yaml.SequenceNode,
		Style:   yaml.FlowStyle,
		Content: []*yaml.Node{&tsNode, &valNode},
	}
}

type yamlEncoder struct {
	w      io.Writer
	curKey string
	docs   []yamlSeries
}

func (e *yamlEncoder) Encode(s vm.Sample) error {
	key := s.Key()
	if len(e.docs) > 0 && key == e.curKey {
		last := &e.docs[len(e.docs)-1]
		last.Values = append(last.Values, yamlPair(s.Timestamp, s.Value))
		return nil
	}
	metric := make(map[string]string, len(s.Labels)+1)
	metric["__name__"] = s.MetricName
	for k, v := range s.Labels {
		metric[k] = v
	}
	e.curKey = key
	e.docs = append(e.docs, yamlSeries{
		Metric: metric,
		Values: []yaml.Node{yamlPair(s.Timestamp, s.Value)},
	})
	return nil
}

func (e *yamlEncoder) Close() error {
	if e.docs == nil {
		e.docs = []yamlSeries{}
	}
	enc := yaml.NewEncoder(e.w)
	enc.SetIndent(2)
	if err := enc.Encode(e.docs); err != nil {
		return err
	}
	return enc.Close()
}

type yamlDecoder struct {
	r      io.Reader
	loaded bool
	record int
	docs   []yaml.Node
	queue  []vm.Sample
}

func (d *yamlDecoder) Next() (vm.Sample, error) {
	for {
		if len(d.queue) > 0 {
			s := d.queue[0]
			d.queue = d.queue[1:]
			return s, nil
		}
		if !d.loaded {
			d.loaded = true
			var root yaml.Node
			if err := yaml.NewDecoder(d.r).Decode(&root); err != nil {
				if err == io.EOF {
					return vm.Sample{}, io.EOF
				}
				return vm.Sample{}, fmt.Errorf("malformed YAML document: %w", err)
			}
			node := &root
			if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
				node = node.Content[0]
			}
			if node.Kind != yaml.SequenceNode {
				return vm.Sample{}, fmt.Errorf("malformed YAML document: expected a sequence of series")
			}
			for _, c := range node.Content {
				d.docs = append(d.docs, *c)
			}
		}
		if len(d.docs) == 0 {
			return vm.Sample{}, io.EOF
		}

		doc := d.docs[0]
		d.docs = d.docs[1:]
		d.record++

		samples, perr := decodeYAMLSeries(&doc)
		if perr != nil {
			perr.Line = d.record
			return vm.Sample{}, perr
		}
		d.queue = samples
	}
}

func decodeYAMLSeries(node *yaml.Node) ([]vm.Sample, *ParseError) {
	// Values are decoded as raw nodes: timestamps arrive as ints and values
	// as strings, and a node's scalar text covers both.
	var series struct {
		Metric map[string]string `yaml:"metric"`
		Values [][]yaml.Node     `yaml:"values"`
	}
	raw := renderYAMLNode(node)
	if err := node.Decode(&series); err != nil {
		return nil, &ParseError{Raw: raw, Reason: ReasonMalformedLabelSet, Err: err}
	}
	name := series.Metric["__name__"]
	if name == "" {
		return nil, &ParseError{Raw: raw, Reason: ReasonMissingField, Err: fmt.Errorf("series has no __name__")}
	}
	if len(series.Values) == 0 {
		return nil, &ParseError{Raw: raw, Reason: ReasonMissingField, Err: fmt.Errorf("series has no values")}
	}
	labels := make(map[string]string, len(series.Metric))
	for k, v := range series.Metric {
		if k != "__name__" {
			labels[k] = v
		}
	}
	samples := make([]vm.Sample, 0, len(series.Values))
	for _, pair := range series.Values {
		if len(pair) != 2 {
			return nil, &ParseError{Raw: raw, Reason: ReasonMissingField, Err: fmt.Errorf("value pair must have 2 elements, got %d", len(pair))}
		}
		tsF, err := strconv.ParseFloat(pair[0].Value, 64)
		if err != nil {
			return nil, &ParseError{Raw: raw, Reason: ReasonInvalidNumber, Err: err}
		}
		value, err := strconv.ParseFloat(pair[1].Value, 64)
		if err != nil {
			return nil, &ParseError{Raw: raw, Reason: ReasonInvalidNumber, Err: err}
		}
		samples = append(samples, vm.Sample{
			MetricName: name,
			Labels:     labels,
			Timestamp:  int64(tsF),
			Value:      value,
		})
	}
	return samples, nil
}

func renderYAMLNode(node *yaml.Node) string {
	out, err := yaml.Marshal(node)
	if err != nil {
		return ""
	}
	return string(out)
}
