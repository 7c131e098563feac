package vm

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Deplee/victoria-metrics-cli/internal/config"
)

// Operation is one logical backend operation the client can perform.
type Operation int

const (
	OpQuery Operation = iota
	OpQueryRange
	OpHealth
	OpLabelValues
	OpExport
	OpImport
	OpDeleteSeries
	OpSnapshotCreate
	OpSnapshotList
	OpSnapshotDelete
	OpRetentionInfo
	OpRetentionUpdate
	OpFlags
	OpBuildInfo
)

func (op Operation) String() string {
	switch op {
	case OpQuery:
		return "query"
	case OpQueryRange:
		return "query_range"
	case OpHealth:
		return "health"
	case OpLabelValues:
		return "label_values"
	case OpExport:
		return "export"
	case OpImport:
		return "import"
	case OpDeleteSeries:
		return "delete_series"
	case OpSnapshotCreate:
		return "snapshot_create"
	case OpSnapshotList:
		return "snapshot_list"
	case OpSnapshotDelete:
		return "snapshot_delete"
	case OpRetentionInfo:
		return "retention_info"
	case OpRetentionUpdate:
		return "retention_update"
	case OpFlags:
		return "flags"
	case OpBuildInfo:
		return "buildinfo"
	default:
		return "unknown"
	}
}

// opClass separates operations by the cluster component that serves them.
type opClass int

const (
	classSelect  opClass = iota // vmselect: queries, exports, status
	classInsert                 // vminsert: ingestion
	classStorage                // vmstorage: snapshots, retention, deletes
)

type opSpec struct {
	path       string
	method     string
	class      opClass
	idempotent bool
}

var opSpecs = map[Operation]opSpec{
	OpQuery:           {"/api/v1/query", http.MethodGet, classSelect, true},
	OpQueryRange:      {"/api/v1/query_range", http.MethodGet, classSelect, true},
	OpHealth:          {"/health", http.MethodGet, classSelect, true},
	OpLabelValues:     {"/api/v1/label/__name__/values", http.MethodGet, classSelect, true},
	OpExport:          {"/api/v1/export", http.MethodGet, classSelect, true},
	OpImport:          {"/api/v1/import", http.MethodPost, classInsert, false},
	OpDeleteSeries:    {"/api/v1/admin/tsdb/delete_series", http.MethodPost, classStorage, false},
	OpSnapshotCreate:  {"/snapshot/create", http.MethodPost, classStorage, false},
	OpSnapshotList:    {"/snapshot/list", http.MethodGet, classStorage, true},
	OpSnapshotDelete:  {"/snapshot/delete", http.MethodPost, classStorage, false},
	OpRetentionInfo:   {"/admin/tsdb/retention", http.MethodGet, classStorage, true},
	OpRetentionUpdate: {"/admin/tsdb/retention", http.MethodPost, classStorage, false},
	OpFlags:           {"/flags", http.MethodGet, classSelect, true},
	OpBuildInfo:       {"/api/v1/status/buildinfo", http.MethodGet, classSelect, true},
}

// Endpoint is the resolved target of one operation.
type Endpoint struct {
	Operation  Operation
	URL        string
	Method     string
	Idempotent bool
}

// Endpoints holds the resolved URL for every operation. It is computed once
// per invocation from the configuration and never mutated afterwards.
type Endpoints struct {
	byOp map[Operation]Endpoint
}

// Get returns the endpoint for op. Every operation is resolved eagerly, so
// lookups cannot fail.
func (e *Endpoints) Get(op Operation) Endpoint {
	return e.byOp[op]
}

// ResolveEndpoints derives the endpoint set from the configuration.
//
// Standalone mode maps every operation onto cfg.Host. In cluster mode,
// query-class operations stay on cfg.Host (the vmselect frontend) and gain a
// /select/{account}/{project}/prometheus prefix on /api/ paths when
// use_select_endpoint is set; ingestion routes to vminsert_host and storage
// administration to vmstorage_host, both falling back to cfg.Host.
func ResolveEndpoints(cfg *config.Config) (*Endpoints, error) {
	selectBase, err := parseHost(cfg.Host)
	if err != nil {
		return nil, err
	}

	insertBase, storageBase := selectBase, selectBase
	var selectPrefix string
	if cfg.Cluster != nil {
		if cfg.Cluster.VMInsertHost != "" {
			if insertBase, err = parseHost(cfg.Cluster.VMInsertHost); err != nil {
				return nil, fmt.Errorf("vminsert %w", err)
			}
		}
		if cfg.Cluster.VMStorageHost != "" {
			if storageBase, err = parseHost(cfg.Cluster.VMStorageHost); err != nil {
				return nil, fmt.Errorf("vmstorage %w", err)
			}
		}
		if cfg.Cluster.UseSelectEndpoint {
			account := cfg.Cluster.SelectAccountID
			project := cfg.Cluster.SelectProjectID
			if account == "" || project == "" {
				return nil, fmt.Errorf("%w: select endpoint needs account and project IDs", ErrMissingClusterHost)
			}
			selectPrefix = fmt.Sprintf("/select/%s/%s/prometheus", account, project)
		}
	}

	byOp := make(map[Operation]Endpoint, len(opSpecs))
	for op, spec := range opSpecs {
		base := selectBase
		prefix := ""
		switch spec.class {
		case classSelect:
			// The select prefix only applies to API paths; /health and
			// /flags are served at the component root.
			if strings.HasPrefix(spec.path, "/api/") {
				prefix = selectPrefix
			}
		case classInsert:
			base = insertBase
		case classStorage:
			base = storageBase
		}
		byOp[op] = Endpoint{
			Operation:  op,
			URL:        joinURL(base, prefix+spec.path),
			Method:     spec.method,
			Idempotent: spec.idempotent,
		}
	}
	return &Endpoints{byOp: byOp}, nil
}

func parseHost(host string) (*url.URL, error) {
	if host == "" {
		return nil, ErrMissingClusterHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidHost, host, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	return u, nil
}

func joinURL(base *url.URL, path string) string {
	u := *base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}
