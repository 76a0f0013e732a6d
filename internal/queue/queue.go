// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package queue provides kernel verdict queues: the source of packets for
// Receive stages and the sink for their verdicts.
package queue

import (
	"context"
	"sync"

	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/packet"
)

// ErrClosed is returned by a queue that has been closed or exhausted.
var ErrClosed = errors.New(errors.KindUnavailable, "queue closed")

// Queue hands out packets and takes back exactly one verdict for each.
type Queue interface {
	// Receive blocks until a packet is available, ctx is done, or the
	// queue is closed (ErrClosed).
	Receive(ctx context.Context) (*packet.Packet, error)
	packet.Verdicter
	Close() error
}

// Drainer is implemented by queues that buffer packets ahead of Receive.
// Drain stops taking new packets and returns the ones already buffered, so
// a stopping Receive stage can still pass them on to a verdict.
type Drainer interface {
	Drain() []*packet.Packet
}

// Factory opens the index-th queue of a topology.
type Factory func(index int) (Queue, error)

// Stats holds statistics for a queue.
type Stats struct {
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsAccepted  uint64 `json:"packets_accepted"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	VerdictErrors    uint64 `json:"verdict_errors"`
}

// recorder keeps the verdicts issued to a software queue.
type recorder struct {
	mu       sync.Mutex
	verdicts map[uint32]packet.Verdict
	counts   map[uint32]int
	stats    Stats
}

func (r *recorder) init() {
	r.verdicts = make(map[uint32]packet.Verdict)
	r.counts = make(map[uint32]int)
}

func (r *recorder) received() {
	r.mu.Lock()
	r.stats.PacketsProcessed++
	r.mu.Unlock()
}

func (r *recorder) record(id uint32, v packet.Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.verdicts[id] = v
	r.counts[id]++
	if v.Type == packet.VerdictDrop {
		r.stats.PacketsDropped++
	} else {
		r.stats.PacketsAccepted++
	}
}

// Verdicts returns the last verdict issued per packet ID.
func (r *recorder) Verdicts() map[uint32]packet.Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[uint32]packet.Verdict, len(r.verdicts))
	for id, v := range r.verdicts {
		out[id] = v
	}
	return out
}

// VerdictCount returns how many verdicts were issued for id.
func (r *recorder) VerdictCount(id uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[id]
}

// GetStats returns the queue statistics.
func (r *recorder) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
