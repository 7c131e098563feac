// Package codec converts between the normalized sample representation and
// the supported external formats: prometheus exposition text, JSON, CSV and
// YAML. Encoders stream samples to a writer; decoders yield one sample per
// call and report malformed records in-band as *ParseError so callers can
// apply their own skip policy without losing the rest of the stream.
package codec

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Deplee/victoria-metrics-cli/internal/vm"
)

// Format tags one supported wire/file format.
type Format string

const (
	FormatPrometheus Format = "prometheus"
	FormatJSON       Format = "json"
	FormatCSV        Format = "csv"
	FormatYAML       Format = "yaml"
)

// Encoder writes samples to an output stream. Close flushes any buffered
// state and must be called once after the last sample.
type Encoder interface {
	Encode(s vm.Sample) error
	Close() error
}

// Decoder yields samples from an input stream. Next returns io.EOF after the
// last record. A *ParseError return is recoverable: the decoder skips the
// malformed record and subsequent calls continue with the rest of the stream.
type Decoder interface {
	Next() (vm.Sample, error)
}

// Codec is one bidirectional format converter.
type Codec interface {
	Format() Format
	NewEncoder(w io.Writer) Encoder
	NewDecoder(r io.Reader) Decoder
}

var registry = map[Format]Codec{
	FormatPrometheus: promCodec{},
	FormatJSON:       jsonCodec{},
	FormatCSV:        csvCodec{},
	FormatYAML:       yamlCodec{},
}

// Lookup returns the codec for a format tag.
func Lookup(f Format) (Codec, error) {
	c, ok := registry[f]
	if !ok {
		return nil, fmt.Errorf("unsupported format %q (supported: %s)", f, strings.Join(Formats(), ", "))
	}
	return c, nil
}

// Formats lists the supported format tags, sorted.
func Formats() []string {
	out := make([]string, 0, len(registry))
	for f := range registry {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return out
}

// Reason classifies a parse failure.
type Reason string

const (
	ReasonInvalidNumber     Reason = "invalid number"
	ReasonMissingField      Reason = "missing field"
	ReasonMalformedLabelSet Reason = "malformed label set"
)

// ParseError is one malformed record encountered during decode. It carries
// the offending raw line/record so it can be reported precisely.
type ParseError struct {
	Line   int
	Raw    string
	Reason Reason
	Err    error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > 120 {
		raw = raw[:117] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("record %d: %s: %v (%q)", e.Line, e.Reason, e.Err, raw)
	}
	return fmt.Sprintf("record %d: %s (%q)", e.Line, e.Reason, raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

// sortedLabelKeys returns the label keys in deterministic order.
func sortedLabelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
