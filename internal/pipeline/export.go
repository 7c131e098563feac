// Package pipeline implements the bulk data flows between the backend and
// local files: chunked export with prefetch and batched import with a
// configurable error policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/Deplee/victoria-metrics-cli/internal/codec"
	"github.com/Deplee/victoria-metrics-cli/internal/vm"
)

// Fetcher is the read side of the backend the export pipeline pulls from.
type Fetcher interface {
	ExportNative(ctx context.Context, match string, start, end time.Time) ([]vm.Sample, error)
}

// ProgressEvent reports one completed chunk. EstimatedTotal is -1 when the
// total sample count is unknown up front, which is always the case for
// exports.
type ProgressEvent struct {
	ChunkIndex        int
	SamplesInChunk    int
	CumulativeSamples int
	EstimatedTotal    int
}

// ExportOptions configures one export run.
type ExportOptions struct {
	Match     string
	Start     time.Time
	End       time.Time
	Format    codec.Format
	ChunkSize int
	// Window is the time span fetched per backend request. Zero means 1h.
	Window   time.Duration
	Progress func(ProgressEvent)
}

// ExportSummary describes a completed (or partially completed) export.
type ExportSummary struct {
	TotalSamples int
	TotalChunks  int
	Elapsed      time.Duration
}

// ExportError is a failed export. Summary reflects the chunks written before
// the failure, so callers can report partial progress.
type ExportError struct {
	SliceStart time.Time
	SliceEnd   time.Time
	Summary    ExportSummary
	Err        error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export failed in slice [%s, %s] after %d samples in %d chunks: %v",
		e.SliceStart.Format(time.RFC3339), e.SliceEnd.Format(time.RFC3339),
		e.Summary.TotalSamples, e.Summary.TotalChunks, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

const defaultWindow = time.Hour

// timeSlice is one fetched window of the export range.
type timeSlice struct {
	start   time.Time
	end     time.Time
	samples []vm.Sample
}

// Export pulls samples for opts.Match over [opts.Start, opts.End], splits the
// range into fixed time windows, and writes the stream to sink in the chosen
// format in chunks of at most opts.ChunkSize samples. The next window is
// fetched while the current one is being encoded.
func Export(ctx context.Context, f Fetcher, sink io.Writer, opts ExportOptions) (*ExportSummary, error) {
	if opts.Match == "" {
		return nil, errors.New("empty match selector")
	}
	if opts.Start.After(opts.End) {
		return nil, fmt.Errorf("start %s is after end %s",
			opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339))
	}
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	c, err := codec.Lookup(opts.Format)
	if err != nil {
		return nil, err
	}
	window := opts.Window
	if window <= 0 {
		window = defaultWindow
	}

	ctx, span := otel.Tracer("vmcli/pipeline").Start(ctx, "pipeline.export")
	span.SetAttributes(
		attribute.String("vm.match", opts.Match),
		attribute.String("vm.format", string(opts.Format)),
	)
	defer span.End()

	began := time.Now()
	summary := &ExportSummary{}
	enc := c.NewEncoder(sink)

	// Channel capacity 1 gives single-slice prefetch: the producer fetches
	// slice N+1 while the consumer encodes slice N.
	slices := make(chan timeSlice, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(slices)
		for cur := opts.Start; !cur.After(opts.End); {
			next := cur.Add(window)
			sliceEnd := next.Add(-time.Second)
			if sliceEnd.After(opts.End) {
				sliceEnd = opts.End
			}
			samples, err := f.ExportNative(gctx, opts.Match, cur, sliceEnd)
			if err != nil {
				return &ExportError{SliceStart: cur, SliceEnd: sliceEnd, Err: err}
			}
			select {
			case slices <- timeSlice{start: cur, end: sliceEnd, samples: samples}:
			case <-gctx.Done():
				return gctx.Err()
			}
			cur = next
		}
		return nil
	})

	g.Go(func() error {
		var pending []vm.Sample
		flush := func() error {
			if len(pending) == 0 {
				return nil
			}
			for _, s := range pending {
				if err := enc.Encode(s); err != nil {
					return err
				}
			}
			summary.TotalSamples += len(pending)
			summary.TotalChunks++
			if opts.Progress != nil {
				opts.Progress(ProgressEvent{
					ChunkIndex:        summary.TotalChunks,
					SamplesInChunk:    len(pending),
					CumulativeSamples: summary.TotalSamples,
					EstimatedTotal:    -1,
				})
			}
			pending = pending[:0]
			return nil
		}

		for sl := range slices {
			for _, s := range sl.samples {
				pending = append(pending, s)
				if len(pending) >= opts.ChunkSize {
					// The caller's context, not the group's: a fetch failure
					// must not stop already queued slices from being written.
					if err := ctx.Err(); err != nil {
						return err
					}
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}
		return enc.Close()
	})

	err = g.Wait()
	summary.Elapsed = time.Since(began)
	span.SetAttributes(attribute.Int("vm.samples", summary.TotalSamples))

	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		var ee *ExportError
		if errors.As(err, &ee) {
			ee.Summary = *summary
			return summary, ee
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return summary, err
		}
		return summary, &ExportError{SliceStart: opts.Start, SliceEnd: opts.End, Summary: *summary, Err: err}
	}
	return summary, nil
}
