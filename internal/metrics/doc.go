// Package metrics exports session telemetry in Prometheus format.
//
// Collector implements session.Observer so the coordinator can feed it
// directly; Server exposes the collector's registry over HTTP when the
// daemon enables the metrics endpoint.
package metrics
