package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Transition("CHEQUE_LEAF", "UNUSED", "ISSUED")
	m.Transition("CHEQUE_LEAF", "UNUSED", "ISSUED")
	m.Decided("APPROVED")
	m.SweepMarked("INCOMING_CHEQUE", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("CHEQUE_LEAF", "UNUSED", "ISSUED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("APPROVED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepMarked.WithLabelValues("INCOMING_CHEQUE")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("CHEQUE_LEAF", "ISSUED", "PRINTED")
		m.Submitted("CHEQUE_LEAF", "ISSUE")
		m.Decided("REJECTED")
		m.Relayed(true)
		m.SweepMarked("CHEQUE_LEAF", 1)
	})
}
