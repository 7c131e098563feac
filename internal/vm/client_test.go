package vm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deplee/victoria-metrics-cli/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Host = server.URL
	client, err := New(cfg, testLogger(), WithBackoff(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)
	return client, server
}

func TestQueryDecodesVector(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		assert.Equal(t, "up", r.URL.Query().Get("query"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"resultType": "vector",
				"result": [
					{"metric": {"__name__": "up", "instance": "localhost:8428"}, "value": [1705312800, "1"]}
				]
			}
		}`))
	}))

	result, err := client.Query(context.Background(), "up", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "vector", result.ResultType)
	require.Len(t, result.Series, 1)
	s := result.Series[0]
	assert.Equal(t, "up", s.MetricName)
	assert.Equal(t, map[string]string{"instance": "localhost:8428"}, s.Labels)
	require.Len(t, s.Points, 1)
	assert.Equal(t, int64(1705312800), s.Points[0].Timestamp)
	assert.Equal(t, 1.0, s.Points[0].Value)
}

func TestQueryDecodesMatrix(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"resultType": "matrix",
				"result": [
					{"metric": {"__name__": "up"}, "values": [[1705312800, "1"], [1705312815, "0"]]}
				]
			}
		}`))
	}))

	result, err := client.QueryRange(context.Background(), "up",
		time.Unix(1705312800, 0), time.Unix(1705312860, 0), 15*time.Second)
	require.NoError(t, err)

	require.Len(t, result.Series, 1)
	require.Len(t, result.Series[0].Points, 2)
	assert.Equal(t, 0.0, result.Series[0].Points[1].Value)
}

func TestQueryDecodesScalar(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"resultType":"scalar","result":[1705312800,"42"]}}`))
	}))

	result, err := client.Query(context.Background(), "42", time.Time{})
	require.NoError(t, err)
	require.Len(t, result.Series, 1)
	assert.Equal(t, 42.0, result.Series[0].Points[0].Value)
}

func TestQueryBackendErrorVerbatim(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","errorType":"bad_data","error":"unparsable query: up{"}`))
	}))

	_, err := client.Query(context.Background(), "up{", time.Time{})
	require.Error(t, err)

	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, QueryBackend, qerr.Kind)
	assert.Equal(t, "unparsable query: up{", qerr.Message)
}

func TestQueryRangeValidation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	later := time.Unix(2000, 0)
	earlier := time.Unix(1000, 0)

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		step  time.Duration
	}{
		{"start after end", later, earlier, time.Second},
		{"zero step", earlier, later, 0},
		{"negative step", earlier, later, -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.QueryRange(context.Background(), "up", tt.start, tt.end, tt.step)
			var qerr *QueryError
			require.ErrorAs(t, err, &qerr)
			assert.Equal(t, QueryInvalidRange, qerr.Kind)
		})
	}
}

func TestQueryEmptyExpression(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := client.Query(context.Background(), "  ", time.Time{})
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, QueryInvalidRange, qerr.Kind)
}

func TestHealth(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte("OK\n"))
	}))

	status, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OK", status)
}

func TestExportNativeConvertsMilliseconds(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/export", r.URL.Path)
		assert.Equal(t, `{job="node"}`, r.URL.Query().Get("match[]"))
		w.Write([]byte(`{"metric":{"__name__":"up","job":"node"},"values":[1,0],"timestamps":[1705312800000,1705312815000]}
{"metric":{"__name__":"load1","job":"node"},"values":[0.5],"timestamps":[1705312800000]}
`))
	}))

	samples, err := client.ExportNative(context.Background(), `{job="node"}`,
		time.Unix(1705312800, 0), time.Unix(1705312860, 0))
	require.NoError(t, err)

	require.Len(t, samples, 3)
	assert.Equal(t, "up", samples[0].MetricName)
	assert.Equal(t, map[string]string{"job": "node"}, samples[0].Labels)
	assert.Equal(t, int64(1705312800), samples[0].Timestamp)
	assert.Equal(t, int64(1705312815), samples[1].Timestamp)
	assert.Equal(t, "load1", samples[2].MetricName)
	assert.Equal(t, 0.5, samples[2].Value)
}

func TestImportSamplesWireFormat(t *testing.T) {
	var body string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/import", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusNoContent)
	}))

	err := client.ImportSamples(context.Background(), []Sample{
		{MetricName: "up", Labels: map[string]string{"job": "node"}, Timestamp: 1705312800, Value: 1},
	})
	require.NoError(t, err)
	assert.Contains(t, body, `"__name__":"up"`)
	assert.Contains(t, body, "1705312800000")
}

func TestImportSamplesEmptyBatchNoRequest(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	require.NoError(t, client.ImportSamples(context.Background(), nil))
}

func TestListSnapshotsStringAndObjectForms(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []Snapshot
	}{
		{
			name:     "bare names",
			response: `{"status":"ok","snapshots":["20240115T100000Z-1","20240116T100000Z-2"]}`,
			want:     []Snapshot{{Name: "20240115T100000Z-1"}, {Name: "20240116T100000Z-2"}},
		},
		{
			name:     "objects",
			response: `{"status":"ok","snapshots":[{"name":"snap1","size":"1GiB"}]}`,
			want:     []Snapshot{{Name: "snap1", Size: "1GiB"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.response))
			}))
			snapshots, err := client.ListSnapshots(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, snapshots)
		})
	}
}

func TestDeleteSeriesParams(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/admin/tsdb/delete_series", r.URL.Path)
		assert.Equal(t, `{job="old"}`, r.URL.Query().Get("match[]"))
		assert.Equal(t, "1000", r.URL.Query().Get("start"))
		assert.Equal(t, "2000", r.URL.Query().Get("end"))
		w.WriteHeader(http.StatusNoContent)
	}))

	err := client.DeleteSeries(context.Background(), `{job="old"}`, time.Unix(1000, 0), time.Unix(2000, 0))
	require.NoError(t, err)
}

func TestMetricNames(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/label/__name__/values", r.URL.Path)
		w.Write([]byte(`{"status":"success","data":["up","process_cpu_seconds_total"]}`))
	}))

	names, err := client.MetricNames(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"up", "process_cpu_seconds_total"}, names)
}

func TestSamplesFlattening(t *testing.T) {
	result := &QueryResult{
		Series: []Series{
			{MetricName: "up", Labels: map[string]string{"job": "a"}, Points: []Point{{1, 1}, {2, 0}}},
			{MetricName: "up", Labels: map[string]string{"job": "b"}, Points: []Point{{1, 1}}},
		},
	}
	samples := result.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, "a", samples[0].Labels["job"])
	assert.Equal(t, int64(2), samples[1].Timestamp)
	assert.Equal(t, "b", samples[2].Labels["job"])
}

func TestSampleKey(t *testing.T) {
	a := Sample{MetricName: "up", Labels: map[string]string{"x": "1", "y": "2"}}
	b := Sample{MetricName: "up", Labels: map[string]string{"y": "2", "x": "1"}}
	c := Sample{MetricName: "up", Labels: map[string]string{"x": "1"}}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestSampleValidate(t *testing.T) {
	assert.NoError(t, Sample{MetricName: "up"}.Validate())
	assert.Error(t, Sample{}.Validate())
	assert.Error(t, Sample{MetricName: "up", Labels: map[string]string{"__name__": "up"}}.Validate())
}
