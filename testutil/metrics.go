/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// RequireCounterValue asserts the value of a single counter (e.g. one child of a CounterVec).
func RequireCounterValue(t require.TestingT, counter prometheus.Counter, want float64) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, want, promtestutil.ToFloat64(counter))
}

// RequireGaugeValue asserts the value of a single gauge.
func RequireGaugeValue(t require.TestingT, gauge prometheus.Gauge, want float64) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, want, promtestutil.ToFloat64(gauge))
}

// RequireSamplesCountInHistogram asserts that a histogram observed the specified number of samples.
func RequireSamplesCountInHistogram(t require.TestingT, hist prometheus.Histogram, wantSamplesCount int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(hist))
	gotMetrics, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, gotMetrics, 1)
	require.Equal(t, wantSamplesCount, int(gotMetrics[0].GetMetric()[0].GetHistogram().GetSampleCount()))
}
