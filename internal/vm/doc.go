// Package vm implements the VictoriaMetrics client core: endpoint
// resolution for standalone and clustered deployments, a retrying HTTP
// transport with authentication injection, and the query engine that
// normalizes backend responses.
//
// Endpoint routing is resolved once per invocation into an immutable
// Endpoints value. In cluster mode, query-class operations target the
// vmselect frontend (with optional /select/{account}/{project} namespacing),
// ingestion targets vminsert and storage administration targets vmstorage.
//
// Retry policy: idempotent reads are retried up to three times with
// exponential backoff on connection errors, timeouts, 5xx and 429 responses.
// Ingestion, deletes and snapshot mutations are never retried automatically.
package vm
