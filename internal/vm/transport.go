package vm

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/api"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Deplee/victoria-metrics-cli/internal/config"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 200 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second
)

// basicAuthRoundTripper adds basic authentication to requests.
type basicAuthRoundTripper struct {
	username string
	password string
	rt       http.RoundTripper
}

func (b *basicAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(b.username, b.password)
	return b.rt.RoundTrip(req)
}

// bearerTokenRoundTripper adds bearer token authentication to requests.
type bearerTokenRoundTripper struct {
	token string
	rt    http.RoundTripper
}

func (b *bearerTokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.rt.RoundTrip(req)
}

// Transport executes HTTP exchanges against the backend with per-request
// timeouts, authentication injection and bounded retry for idempotent
// operations. It keeps no state across calls beyond connection reuse.
type Transport struct {
	client      api.Client
	timeout     time.Duration
	maxAttempts uint
	baseBackoff time.Duration
	maxBackoff  time.Duration
	log         *logrus.Logger
	tracer      trace.Tracer
}

// TransportOption overrides a transport default.
type TransportOption func(*Transport)

// WithMaxAttempts bounds the attempt count for idempotent operations.
func WithMaxAttempts(n uint) TransportOption {
	return func(t *Transport) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// WithBackoff overrides the retry backoff base and cap.
func WithBackoff(base, max time.Duration) TransportOption {
	return func(t *Transport) {
		t.baseBackoff = base
		t.maxBackoff = max
	}
}

// NewTransport builds a transport from the resolved configuration.
func NewTransport(cfg *config.Config, log *logrus.Logger, opts ...TransportOption) (*Transport, error) {
	roundTripper := http.DefaultTransport
	if cfg.Auth != nil {
		if cfg.Auth.Token != "" {
			roundTripper = &bearerTokenRoundTripper{
				token: cfg.Auth.Token,
				rt:    roundTripper,
			}
			log.Debug("Using bearer token authentication")
		} else if cfg.Auth.Username != "" && cfg.Auth.Password != "" {
			roundTripper = &basicAuthRoundTripper{
				username: cfg.Auth.Username,
				password: cfg.Auth.Password,
				rt:       roundTripper,
			}
			log.WithField("username", cfg.Auth.Username).Debug("Using basic authentication")
		}
	}

	client, err := api.NewClient(api.Config{
		Address:      cfg.Host,
		RoundTripper: roundTripper,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidHost, err)
	}

	t := &Transport{
		client:      client,
		timeout:     cfg.Timeout(),
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		log:         log,
		tracer:      otel.Tracer("vmcli/transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Send performs one exchange against ep. params are encoded into the query
// string; body, when non-nil, becomes the request body. Idempotent endpoints
// are retried with exponential backoff on transient failures; non-idempotent
// endpoints get exactly one attempt. The returned error, if any, is a
// *TransportError.
func (t *Transport) Send(ctx context.Context, ep Endpoint, params url.Values, body []byte) ([]byte, error) {
	fullURL := ep.URL
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(fullURL, "?") {
			sep = "&"
		}
		fullURL = fullURL + sep + params.Encode()
	}

	ctx, span := t.tracer.Start(ctx, "vm.request", trace.WithAttributes(
		attribute.String("vm.operation", ep.Operation.String()),
		attribute.String("http.method", ep.Method),
		attribute.String("url.full", fullURL),
	))
	defer span.End()

	if !ep.Idempotent {
		data, terr := t.attempt(ctx, ep, fullURL, body)
		if terr != nil {
			span.SetStatus(codes.Error, terr.Error())
			return nil, terr
		}
		return data, nil
	}

	attempts := 0
	operation := func() ([]byte, error) {
		attempts++
		data, terr := t.attempt(ctx, ep, fullURL, body)
		if terr == nil {
			return data, nil
		}
		if !terr.transient() {
			return nil, backoff.Permanent(terr)
		}
		t.log.WithFields(logrus.Fields{
			"operation": ep.Operation.String(),
			"attempt":   attempts,
			"error":     terr.Error(),
		}).Debug("Retrying transient transport failure")
		return nil, terr
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = t.baseBackoff
	expo.Multiplier = 2
	expo.MaxInterval = t.maxBackoff
	expo.RandomizationFactor = 0

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(t.maxAttempts),
	)
	if err != nil {
		var terr *TransportError
		if !errors.As(err, &terr) {
			terr = classifyError(ctx, err)
		}
		span.SetAttributes(attribute.Int("vm.attempts", attempts))
		span.SetStatus(codes.Error, terr.Error())
		return nil, terr
	}
	span.SetAttributes(attribute.Int("vm.attempts", attempts))
	return data, nil
}

// attempt performs a single HTTP exchange with the per-request timeout.
func (t *Transport) attempt(ctx context.Context, ep Endpoint, fullURL string, body []byte) ([]byte, *TransportError) {
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(reqCtx, ep.Method, fullURL, reader)
	if err != nil {
		return nil, &TransportError{Kind: TransportNetwork, Err: err}
	}

	resp, data, err := t.client.Do(reqCtx, req)
	if err != nil {
		return nil, classifyError(ctx, err)
	}

	t.log.WithFields(logrus.Fields{
		"operation": ep.Operation.String(),
		"status":    resp.StatusCode,
	}).Debug("Response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Kind:       TransportHTTPStatus,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	return data, nil
}

// classifyError maps a raw client error onto the transport taxonomy. The
// caller's context decides between cancellation and a per-request timeout.
func classifyError(ctx context.Context, err error) *TransportError {
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		return &TransportError{Kind: TransportCancelled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &TransportError{Kind: TransportTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &TransportError{Kind: TransportCancelled, Err: err}
	default:
		return &TransportError{Kind: TransportNetwork, Err: err}
	}
}
