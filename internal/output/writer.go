// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package output emits alert records for packets leaving the pipeline.
package output

import (
	"sync/atomic"

	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/metrics"
	"grimm.is/ipsd/internal/packet"
)

// LogWriter logs every alert on a packet and counts it.
type LogWriter struct {
	logger  *logging.Logger
	metrics *metrics.Metrics

	packets atomic.Uint64
	alerts  atomic.Uint64
}

// NewLogWriter creates a LogWriter. m may be nil.
func NewLogWriter(logger *logging.Logger, m *metrics.Metrics) *LogWriter {
	if logger == nil {
		logger = logging.WithComponent("output")
	}
	return &LogWriter{logger: logger, metrics: m}
}

// Write implements pipeline.OutputWriter.
func (w *LogWriter) Write(p *packet.Packet) error {
	w.packets.Add(1)
	for _, a := range p.Alerts {
		w.alerts.Add(1)
		w.metrics.Alert(a.RuleID, a.Action)
		w.logger.Warn("Alert",
			"rule", a.RuleID,
			"signature", a.Msg,
			"action", a.Action,
			"flow", p.Flow.String(),
			"verdict", p.Verdict.Type.String(),
			"queue", p.Queue,
			"detector", p.Detector,
		)
	}
	return nil
}

// Packets returns the number of packets written.
func (w *LogWriter) Packets() uint64 { return w.packets.Load() }

// Alerts returns the number of alerts logged.
func (w *LogWriter) Alerts() uint64 { return w.alerts.Load() }
