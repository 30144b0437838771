// Package prometheus provides Prometheus collectors for stepauth metrics.
//
// [NewPrometheusExporter] accepts a [stepauth.Coordinator] and exposes an
// [http.Handler] that renders all stepauth counters and histograms in
// Prometheus text exposition format. Counter names are prefixed
// stepauth_*_total; the single histogram is
// stepauth_reconcile_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate coordinator state.
package prometheus
