package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("prorag", reg)

	c.DegradedRead("docstore", "bulk_get")
	c.DegradedRead("docstore", "bulk_get")
	c.RewriteFallback(ReasonParse)
	c.DocumentIndexed()
	c.IndexFailure()
	c.AnswerStream(OutcomeStopped)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.degradedReads.WithLabelValues("docstore", "bulk_get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rewriteFallbacks.WithLabelValues(ReasonParse)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.rewriteFallbacks.WithLabelValues(ReasonInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.documentsIndexed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.indexFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.answerStreams.WithLabelValues(OutcomeStopped)))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.DegradedRead("x", "y")
		c.RewriteFallback(ReasonUpstream)
		c.DocumentIndexed()
		c.IndexFailure()
		c.AnswerStream(OutcomeCompleted)
	})
}
