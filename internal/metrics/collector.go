// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/ipsd/internal/logging"
)

// TotalsSource returns monotonically increasing counters keyed by name.
type TotalsSource func() map[string]uint64

// Collector samples counters periodically and keeps per-second rates for
// the status API.
type Collector struct {
	source   TotalsSource
	logger   *logging.Logger
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool // set by whichever of Start or Stop runs first

	mu         sync.RWMutex
	lastUpdate time.Time
	prev       map[string]uint64
	rates      map[string]float64
}

// NewCollector creates a new rate collector.
func NewCollector(source TotalsSource, logger *logging.Logger, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		source:   source,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		prev:     make(map[string]uint64),
		rates:    make(map[string]float64),
	}
}

// Start runs the sampling loop until Stop is called. It returns at once
// if the collector was already started or stopped.
func (c *Collector) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	defer close(c.doneCh)
	c.logger.Info("Starting rate collector", "interval", c.interval.String())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample(time.Now())
	for {
		select {
		case now := <-ticker.C:
			c.sample(now)
		case <-c.stopCh:
			c.logger.Info("Stopping rate collector")
			return
		}
	}
}

// Stop stops the sampling loop and waits for it to exit. Stopping a
// collector that never started returns immediately.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.started.CompareAndSwap(false, true) {
		close(c.doneCh)
	}
	<-c.doneCh
}

func (c *Collector) sample(now time.Time) {
	current := c.source()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastUpdate.IsZero() {
		elapsed := now.Sub(c.lastUpdate).Seconds()
		for name, value := range current {
			c.rates[name] = c.calculateRate(value, c.prev[name], elapsed)
		}
	}
	c.prev = current
	c.lastUpdate = now
}

// calculateRate returns the per-second rate between two samples.
func (c *Collector) calculateRate(current, previous uint64, elapsedSeconds float64) float64 {
	if elapsedSeconds <= 0 {
		return 0
	}

	var delta uint64
	if current < previous {
		// Counter reset detected - use current value as delta
		delta = current
		c.logger.Debug("Counter reset detected", "current", current, "previous", previous)
	} else {
		delta = current - previous
	}

	return float64(delta) / elapsedSeconds
}

// Rates returns the latest per-second rates.
func (c *Collector) Rates() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]float64, len(c.rates))
	for k, v := range c.rates {
		out[k] = v
	}
	return out
}

// LastUpdate returns the time of the latest sample.
func (c *Collector) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}
