// Package metrics exposes the Prometheus instrumentation for the pipeline.
//
// Read-path failures are converted to safe defaults instead of surfacing to
// the user, so the counters here are the only place an upstream outage stays
// visible. Every degraded read, rewrite fallback and indexing failure is
// counted with enough labels to tell the failing component apart from an
// out-of-scope user message.
package metrics
