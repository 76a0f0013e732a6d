// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"testing"
	"time"

	"grimm.is/ipsd/internal/logging"
)

// testCollector creates a collector for testing.
func testCollector() *Collector {
	logger := logging.New(logging.DefaultConfig())
	return NewCollector(func() map[string]uint64 { return nil }, logger, time.Second)
}

func TestCalculateRate_Normal(t *testing.T) {
	c := testCollector()

	// Normal case: counter increased
	rate := c.calculateRate(1000, 500, 1.0)
	if rate != 500.0 {
		t.Errorf("Expected rate 500.0, got %f", rate)
	}
}

func TestCalculateRate_Reset(t *testing.T) {
	c := testCollector()

	// Reset case: current < previous (counter wrapped or reset)
	// Should treat current value as the delta since reset
	rate := c.calculateRate(100, 1000, 1.0)
	if rate != 100.0 {
		t.Errorf("On reset, expected rate 100.0 (current value), got %f", rate)
	}
}

func TestCalculateRate_ZeroElapsed(t *testing.T) {
	c := testCollector()

	// Zero elapsed time should return 0
	rate := c.calculateRate(1000, 500, 0.0)
	if rate != 0.0 {
		t.Errorf("Expected rate 0.0 for zero elapsed, got %f", rate)
	}
}

func TestCalculateRate_NegativeElapsed(t *testing.T) {
	c := testCollector()

	// Negative elapsed time should return 0
	rate := c.calculateRate(1000, 500, -1.0)
	if rate != 0.0 {
		t.Errorf("Expected rate 0.0 for negative elapsed, got %f", rate)
	}
}

func TestSample_Rates(t *testing.T) {
	totals := map[string]uint64{"detect": 100, "verdict": 100}
	c := NewCollector(func() map[string]uint64 {
		out := make(map[string]uint64, len(totals))
		for k, v := range totals {
			out[k] = v
		}
		return out
	}, logging.New(logging.DefaultConfig()), time.Second)

	start := time.Now()
	c.sample(start)
	if len(c.Rates()) != 0 {
		t.Errorf("Expected no rates after first sample, got %v", c.Rates())
	}

	totals["detect"] = 300
	totals["verdict"] = 150
	c.sample(start.Add(2 * time.Second))

	rates := c.Rates()
	if rates["detect"] != 100.0 {
		t.Errorf("Expected detect rate 100.0, got %f", rates["detect"])
	}
	if rates["verdict"] != 25.0 {
		t.Errorf("Expected verdict rate 25.0, got %f", rates["verdict"])
	}
	if !c.LastUpdate().Equal(start.Add(2 * time.Second)) {
		t.Errorf("Unexpected last update %v", c.LastUpdate())
	}
}

func TestCollector_StartStop(t *testing.T) {
	c := NewCollector(func() map[string]uint64 { return map[string]uint64{"receive": 1} },
		logging.New(logging.Config{Level: logging.LevelError}), 10*time.Millisecond)

	go c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()
	c.Stop() // idempotent

	if c.LastUpdate().IsZero() {
		t.Error("Expected at least one sample")
	}
}

func TestCollector_StopWithoutStart(t *testing.T) {
	c := testCollector()

	done := make(chan struct{})
	go func() {
		c.Stop()
		c.Start() // no-op once stopped
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a collector that never started")
	}
	if !c.LastUpdate().IsZero() {
		t.Error("Expected no samples from a stopped collector")
	}
}
