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

	"github.com/Deplee/victoria-metrics-cli/internal/codec"
	"github.com/Deplee/victoria-metrics-cli/internal/vm"
)

// Ingester is the write side of the backend the import pipeline pushes to.
type Ingester interface {
	ImportSamples(ctx context.Context, samples []vm.Sample) error
}

// ImportOptions configures one import run.
type ImportOptions struct {
	Format    codec.Format
	BatchSize int
	// DryRun parses and validates everything but sends nothing.
	DryRun bool
	// SkipErrors keeps going past malformed records and failed batches
	// instead of aborting on the first one.
	SkipErrors bool
	// Now stamps samples that carry no timestamp. Nil means time.Now.
	Now      func() time.Time
	Progress func(ProgressEvent)
}

// ImportSummary describes a completed (or aborted) import run.
type ImportSummary struct {
	SamplesRead     int
	SamplesIngested int
	SamplesSkipped  int
	Batches         int
	BatchesFailed   int
	Elapsed         time.Duration
}

// ImportError is an aborted import. Summary reflects what was ingested before
// the abort; everything already flushed stays ingested.
type ImportError struct {
	Summary ImportSummary
	Err     error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import aborted after %d samples in %d batches: %v",
		e.Summary.SamplesIngested, e.Summary.Batches, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// Import decodes samples from source and pushes them to ing in batches of at
// most opts.BatchSize. On a malformed record the pending batch is flushed
// first, then the run aborts, unless opts.SkipErrors is set in which case the
// record is counted as skipped and decoding continues.
func Import(ctx context.Context, ing Ingester, source io.Reader, opts ImportOptions) (*ImportSummary, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	c, err := codec.Lookup(opts.Format)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, span := otel.Tracer("vmcli/pipeline").Start(ctx, "pipeline.import")
	span.SetAttributes(
		attribute.String("vm.format", string(opts.Format)),
		attribute.Bool("vm.dry_run", opts.DryRun),
	)
	defer span.End()

	began := time.Now()
	summary := &ImportSummary{}
	dec := c.NewDecoder(source)

	var batch []vm.Sample
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n := len(batch)
		if !opts.DryRun {
			if err := ing.ImportSamples(ctx, batch); err != nil {
				summary.BatchesFailed++
				batch = batch[:0]
				if opts.SkipErrors {
					summary.SamplesSkipped += n
					return nil
				}
				return err
			}
		}
		summary.SamplesIngested += n
		summary.Batches++
		if opts.Progress != nil {
			opts.Progress(ProgressEvent{
				ChunkIndex:        summary.Batches,
				SamplesInChunk:    n,
				CumulativeSamples: summary.SamplesIngested,
				EstimatedTotal:    -1,
			})
		}
		batch = batch[:0]
		return nil
	}

	abort := func(cause error) (*ImportSummary, error) {
		summary.Elapsed = time.Since(began)
		span.SetStatus(otelcodes.Error, cause.Error())
		if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
			return summary, cause
		}
		return summary, &ImportError{Summary: *summary, Err: cause}
	}

	for {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		s, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *codec.ParseError
			if errors.As(err, &perr) {
				summary.SamplesRead++
				if opts.SkipErrors {
					summary.SamplesSkipped++
					continue
				}
				// Everything decoded so far is still good data.
				if ferr := flush(); ferr != nil {
					return abort(ferr)
				}
				return abort(perr)
			}
			return abort(err)
		}
		summary.SamplesRead++

		if s.Timestamp == 0 {
			s.Timestamp = now().Unix()
		}
		if verr := s.Validate(); verr != nil {
			if opts.SkipErrors {
				summary.SamplesSkipped++
				continue
			}
			if ferr := flush(); ferr != nil {
				return abort(ferr)
			}
			return abort(verr)
		}

		batch = append(batch, s)
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return abort(err)
			}
		}
	}
	if err := flush(); err != nil {
		return abort(err)
	}

	summary.Elapsed = time.Since(began)
	span.SetAttributes(attribute.Int("vm.samples", summary.SamplesIngested))
	return summary, nil
}
