// Package prometheus exports authcore metrics through
// prometheus/client_golang.
//
// [Collector] turns one engine snapshot per scrape into authcore_*_total
// counters, the authcore_resolve_latency_seconds histogram and
// authcore_audit_dropped_total. [NewRegistry] and [Handler] build a private
// registry for mounting at /metrics; the global registry is never touched.
package prometheus
