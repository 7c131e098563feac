package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deplee/victoria-metrics-cli/internal/codec"
	"github.com/Deplee/victoria-metrics-cli/internal/vm"
)

// fakeFetcher serves generated samples per requested slice and records the
// slices it was asked for.
type fakeFetcher struct {
	samplesPerSlice int
	failOnCall      int
	calls           int
	slices          [][2]time.Time
}

func (f *fakeFetcher) ExportNative(ctx context.Context, match string, start, end time.Time) ([]vm.Sample, error) {
	f.calls++
	f.slices = append(f.slices, [2]time.Time{start, end})
	if f.failOnCall > 0 && f.calls == f.failOnCall {
		return nil, errors.New("backend unavailable")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	samples := make([]vm.Sample, 0, f.samplesPerSlice)
	for i := 0; i < f.samplesPerSlice; i++ {
		samples = append(samples, vm.Sample{
			MetricName: "up",
			Labels:     map[string]string{"slice": fmt.Sprintf("%d", f.calls)},
			Timestamp:  start.Unix() + int64(i),
			Value:      1,
		})
	}
	return samples, nil
}

func decodeExported(t *testing.T, f codec.Format, data []byte) []vm.Sample {
	t.Helper()
	c, err := codec.Lookup(f)
	require.NoError(t, err)
	dec := c.NewDecoder(bytes.NewReader(data))
	var out []vm.Sample
	for {
		s, err := dec.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, s)
	}
}

func TestExportCompleteness(t *testing.T) {
	fetcher := &fakeFetcher{samplesPerSlice: 7}
	var buf bytes.Buffer

	start := time.Unix(0, 0)
	end := time.Unix(4*3600-1, 0)
	summary, err := Export(context.Background(), fetcher, &buf, ExportOptions{
		Match:     "up",
		Start:     start,
		End:       end,
		Format:    codec.FormatPrometheus,
		ChunkSize: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, fetcher.calls)
	assert.Equal(t, 28, summary.TotalSamples)
	got := decodeExported(t, codec.FormatPrometheus, buf.Bytes())
	assert.Len(t, got, 28)
}

func TestExportSliceBounds(t *testing.T) {
	fetcher := &fakeFetcher{samplesPerSlice: 1}
	var buf bytes.Buffer

	start := time.Unix(0, 0)
	end := time.Unix(5400, 0) // 1.5h: two slices, the second truncated
	_, err := Export(context.Background(), fetcher, &buf, ExportOptions{
		Match:     "up",
		Start:     start,
		End:       end,
		Format:    codec.FormatPrometheus,
		ChunkSize: 100,
	})
	require.NoError(t, err)

	require.Len(t, fetcher.slices, 2)
	// Slices abut without overlap: [0, 3599] then [3600, 5400].
	assert.Equal(t, int64(0), fetcher.slices[0][0].Unix())
	assert.Equal(t, int64(3599), fetcher.slices[0][1].Unix())
	assert.Equal(t, int64(3600), fetcher.slices[1][0].Unix())
	assert.Equal(t, int64(5400), fetcher.slices[1][1].Unix())
}

func TestExportChunkSizes(t *testing.T) {
	fetcher := &fakeFetcher{samplesPerSlice: 10}
	var buf bytes.Buffer
	var events []ProgressEvent

	summary, err := Export(context.Background(), fetcher, &buf, ExportOptions{
		Match:     "up",
		Start:     time.Unix(0, 0),
		End:       time.Unix(3599, 0),
		Format:    codec.FormatJSON,
		ChunkSize: 4,
		Progress: func(ev ProgressEvent) {
			events = append(events, ev)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalChunks)
	require.Len(t, events, 3)
	assert.Equal(t, []int{4, 4, 2}, []int{events[0].SamplesInChunk, events[1].SamplesInChunk, events[2].SamplesInChunk})
	assert.Equal(t, 10, events[2].CumulativeSamples)
	assert.Equal(t, -1, events[0].EstimatedTotal)
}

func TestExportCustomWindow(t *testing.T) {
	fetcher := &fakeFetcher{samplesPerSlice: 1}
	var buf bytes.Buffer

	_, err := Export(context.Background(), fetcher, &buf, ExportOptions{
		Match:     "up",
		Start:     time.Unix(0, 0),
		End:       time.Unix(3599, 0),
		Format:    codec.FormatPrometheus,
		ChunkSize: 10,
		Window:    15 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, fetcher.calls)
}

func TestExportFailurePartialSummary(t *testing.T) {
	fetcher := &fakeFetcher{samplesPerSlice: 6, failOnCall: 3}
	var buf bytes.Buffer

	summary, err := Export(context.Background(), fetcher, &buf, ExportOptions{
		Match:     "up",
		Start:     time.Unix(0, 0),
		End:       time.Unix(4*3600-1, 0),
		Format:    codec.FormatPrometheus,
		ChunkSize: 6,
	})
	require.Error(t, err)

	var ee *ExportError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, int64(2*3600), ee.SliceStart.Unix())
	// The first two slices were already encoded.
	assert.Equal(t, 12, ee.Summary.TotalSamples)
	assert.Equal(t, ee.Summary.TotalSamples, summary.TotalSamples)
}

func TestExportCancellation(t *testing.T) {
	fetcher := &fakeFetcher{samplesPerSlice: 5}
	var buf bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Export(ctx, fetcher, &buf, ExportOptions{
		Match:     "up",
		Start:     time.Unix(0, 0),
		End:       time.Unix(100*3600, 0),
		Format:    codec.FormatPrometheus,
		ChunkSize: 5,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExportValidation(t *testing.T) {
	fetcher := &fakeFetcher{}
	var buf bytes.Buffer

	tests := []struct {
		name string
		opts ExportOptions
	}{
		{"empty match", ExportOptions{Start: time.Unix(0, 0), End: time.Unix(10, 0), Format: codec.FormatJSON, ChunkSize: 1}},
		{"start after end", ExportOptions{Match: "up", Start: time.Unix(10, 0), End: time.Unix(0, 0), Format: codec.FormatJSON, ChunkSize: 1}},
		{"zero chunk size", ExportOptions{Match: "up", Start: time.Unix(0, 0), End: time.Unix(10, 0), Format: codec.FormatJSON}},
		{"bad format", ExportOptions{Match: "up", Start: time.Unix(0, 0), End: time.Unix(10, 0), Format: "xml", ChunkSize: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Export(context.Background(), fetcher, &buf, tt.opts)
			assert.Error(t, err)
			assert.Zero(t, fetcher.calls)
		})
	}
}
