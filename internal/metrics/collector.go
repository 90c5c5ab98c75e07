package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the pipeline's Prometheus metrics. A nil Collector is valid
// and records nothing, so components can treat instrumentation as optional.
type Collector struct {
	degradedReads    *prometheus.CounterVec
	rewriteFallbacks *prometheus.CounterVec
	documentsIndexed prometheus.Counter
	indexFailures    prometheus.Counter
	answerStreams    *prometheus.CounterVec
}

// Fallback reasons recorded by RewriteFallback.
const (
	ReasonInvalid  = "invalid"
	ReasonParse    = "parse_error"
	ReasonUpstream = "upstream_error"
)

// Stream outcomes recorded by AnswerStream.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeCancelled = "cancelled"
)

// NewCollector registers the pipeline metrics on reg. Tests pass their own
// registry so parallel packages never collide on metric names.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		degradedReads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degraded_reads_total",
				Help:      "Read-path failures converted to empty or passthrough results",
			},
			[]string{"component", "operation"},
		),
		rewriteFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rewrite_fallbacks_total",
				Help:      "Query rewrites that ended in a fallback reply, by reason",
			},
			[]string{"reason"},
		),
		documentsIndexed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_indexed_total",
				Help:      "Documents indexed into the store and the vector collection",
			},
		),
		indexFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_failures_total",
				Help:      "Indexing attempts that failed and were rolled back",
			},
		),
		answerStreams: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "answer_streams_total",
				Help:      "Answer streams by terminal outcome",
			},
			[]string{"outcome"},
		),
	}
}

// DegradedRead counts a read-path failure that degraded to a safe default.
func (c *Collector) DegradedRead(component, operation string) {
	if c == nil {
		return
	}
	c.degradedReads.WithLabelValues(component, operation).Inc()
}

// RewriteFallback counts a rewrite that produced a fallback reply.
func (c *Collector) RewriteFallback(reason string) {
	if c == nil {
		return
	}
	c.rewriteFallbacks.WithLabelValues(reason).Inc()
}

// DocumentIndexed counts a successfully indexed document.
func (c *Collector) DocumentIndexed() {
	if c == nil {
		return
	}
	c.documentsIndexed.Inc()
}

// IndexFailure counts a failed, rolled-back indexing attempt.
func (c *Collector) IndexFailure() {
	if c == nil {
		return
	}
	c.indexFailures.Inc()
}

// AnswerStream counts a finished answer stream by outcome.
func (c *Collector) AnswerStream(outcome string) {
	if c == nil {
		return
	}
	c.answerStreams.WithLabelValues(outcome).Inc()
}
