// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/ipsd/internal/packet"
)

// MemQueue is an in-memory queue. Packets are injected by the caller and
// every verdict is recorded.
type MemQueue struct {
	recorder

	num       uint16
	in        chan *packet.Packet
	closed    chan struct{}
	closeOnce sync.Once
	nextID    atomic.Uint32

	// intake guards draining against in-flight injects.
	intake    sync.RWMutex
	draining  bool
	drainCh   chan struct{}
	drainOnce sync.Once
}

// NewMemQueue creates an in-memory queue with the given queue number and
// backlog depth.
func NewMemQueue(num uint16, depth int) *MemQueue {
	if depth <= 0 {
		depth = 1024
	}
	q := &MemQueue{
		num:    num,
		in:      make(chan *packet.Packet, depth),
		closed:  make(chan struct{}),
		drainCh: make(chan struct{}),
	}
	q.recorder.init()
	return q
}

// Num returns the queue number.
func (q *MemQueue) Num() uint16 { return q.num }

// Inject queues a raw packet and returns its ID.
func (q *MemQueue) Inject(payload []byte) (uint32, error) {
	p := packet.New(q.nextID.Add(1), q.num, payload)
	return p.ID, q.InjectPacket(p)
}

// InjectPacket queues a prepared packet. Its Source is set to q. Once
// the queue is closed or drained it returns ErrClosed.
func (q *MemQueue) InjectPacket(p *packet.Packet) error {
	p.Source = q
	p.Queue = q.num

	q.intake.RLock()
	defer q.intake.RUnlock()
	if q.draining {
		return ErrClosed
	}
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.in <- p:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-q.drainCh:
		return ErrClosed
	}
}

// Drain implements Drainer.
func (q *MemQueue) Drain() []*packet.Packet {
	q.drainOnce.Do(func() { close(q.drainCh) })
	q.intake.Lock()
	q.draining = true
	q.intake.Unlock()

	var out []*packet.Packet
	for {
		select {
		case p := <-q.in:
			q.received()
			out = append(out, p)
		default:
			return out
		}
	}
}

// Receive implements Queue.
func (q *MemQueue) Receive(ctx context.Context) (*packet.Packet, error) {
	select {
	case p := <-q.in:
		q.received()
		return p, nil
	case <-q.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetVerdict implements packet.Verdicter.
func (q *MemQueue) SetVerdict(id uint32, v packet.Verdict) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	q.record(id, v)
	return nil
}

// Close implements Queue. Safe to call more than once.
func (q *MemQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

// WaitVerdicts waits until at least n distinct packets have a verdict.
func (q *MemQueue) WaitVerdicts(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		got := len(q.verdicts)
		q.mu.Unlock()
		if got >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
