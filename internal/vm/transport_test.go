package vm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deplee/victoria-metrics-cli/internal/config"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestTransport(t *testing.T, host string, cfgMut ...func(*config.Config)) *Transport {
	t.Helper()
	cfg := config.Default()
	cfg.Host = host
	cfg.TimeoutSeconds = 5
	for _, mut := range cfgMut {
		mut(cfg)
	}
	tr, err := NewTransport(cfg, testLogger(), WithBackoff(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)
	return tr
}

func getEndpoint(t *testing.T, host string) Endpoint {
	t.Helper()
	cfg := config.Default()
	cfg.Host = host
	endpoints, err := ResolveEndpoints(cfg)
	require.NoError(t, err)
	return endpoints.Get(OpQuery)
}

func TestSendRetriesTransient5xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL)
	data, err := tr.Send(context.Background(), getEndpoint(t, server.URL), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL)
	_, err := tr.Send(context.Background(), getEndpoint(t, server.URL), nil, nil)
	require.Error(t, err)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, TransportHTTPStatus, terr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, terr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendDoesNotRetry4xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad selector"))
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL)
	_, err := tr.Send(context.Background(), getEndpoint(t, server.URL), nil, nil)
	require.Error(t, err)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusBadRequest, terr.StatusCode)
	assert.Equal(t, "bad selector", terr.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSendRetries429(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL)
	_, err := tr.Send(context.Background(), getEndpoint(t, server.URL), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSendNonIdempotentSingleAttempt(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Host = server.URL
	endpoints, err := ResolveEndpoints(cfg)
	require.NoError(t, err)

	tr := newTestTransport(t, server.URL)
	_, err = tr.Send(context.Background(), endpoints.Get(OpImport), nil, []byte("{}"))
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSendBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, func(cfg *config.Config) {
		cfg.Auth = &config.AuthConfig{Username: "admin", Password: "secret"}
	})
	_, err := tr.Send(context.Background(), getEndpoint(t, server.URL), nil, nil)
	require.NoError(t, err)
}

func TestSendBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, func(cfg *config.Config) {
		cfg.Auth = &config.AuthConfig{Token: "tok123"}
	})
	_, err := tr.Send(context.Background(), getEndpoint(t, server.URL), nil, nil)
	require.NoError(t, err)
}

func TestSendTokenWinsOverBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, func(cfg *config.Config) {
		cfg.Auth = &config.AuthConfig{Username: "admin", Password: "secret", Token: "tok123"}
	})
	_, err := tr.Send(context.Background(), getEndpoint(t, server.URL), nil, nil)
	require.NoError(t, err)
}

func TestSendCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	tr := newTestTransport(t, server.URL)
	_, err := tr.Send(ctx, getEndpoint(t, server.URL), nil, nil)
	require.Error(t, err)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, TransportCancelled, terr.Kind)
}
