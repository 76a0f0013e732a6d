// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecording(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.StagePacket("detect")
	m.StagePacket("detect")
	m.StageError("decode")
	m.Verdict("accept")
	m.Verdict("drop")
	m.VerdictError()
	m.Routed(2)
	m.Alert("sid-1", "drop")
	m.StageStarted()
	m.StageStarted()
	m.StageStopped()
	m.TopologyBuilt("autofp", true)
	m.TopologyBuilt("auto", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StagePackets.WithLabelValues("detect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageErrors.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verdicts.WithLabelValues("drop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerdictErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DetectRouted.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Alerts.WithLabelValues("sid-1", "drop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStages))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Topologies.WithLabelValues("auto", "failed")))

	assert.Equal(t, map[string]uint64{"detect": 2}, m.Totals())

	// Registering twice is rejected by Prometheus.
	assert.Error(t, m.Register(reg))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.StagePacket("receive")
		m.StageError("receive")
		m.Verdict("accept")
		m.VerdictError()
		m.Routed(0)
		m.Alert("x", "alert")
		m.StageStarted()
		m.StageStopped()
		m.TopologyBuilt("auto", true)
	})
	assert.Empty(t, m.Totals())
}
