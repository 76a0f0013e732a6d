// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/florianl/go-nfqueue/v2"

	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/packet"
)

// NFQueueAvailable reports whether this build can open NFQUEUE queues.
const NFQueueAvailable = true

// NFQueue reads packets from a netfilter queue and returns verdicts to it.
type NFQueue struct {
	cfg     NFQConfig
	nf      *nfqueue.Nfqueue
	logger  *logging.Logger
	packets chan *packet.Packet

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// intake guards draining against a handle call in flight.
	intake    sync.RWMutex
	draining  bool
	drainCh   chan struct{}
	drainOnce sync.Once

	processed     atomic.Uint64
	accepted      atomic.Uint64
	dropped       atomic.Uint64
	verdictErrors atomic.Uint64
}

// OpenNFQueue binds to the configured queue and starts reading from it.
func OpenNFQueue(cfg NFQConfig, logger *logging.Logger) (*NFQueue, error) {
	if logger == nil {
		logger = logging.WithComponent("nfqueue")
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 1024
	}

	var flags uint32
	if cfg.FailOpen {
		flags |= nfqueue.NfQaCfgFlagFailOpen
	}

	nf, err := nfqueue.Open(&nfqueue.Config{
		NfQueue:      cfg.Num,
		MaxPacketLen: cfg.MaxPacketLen,
		MaxQueueLen:  cfg.MaxQueueLen,
		Copymode:     nfqueue.NfQnlCopyPacket,
		Flags:        flags,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to open nfqueue"), "queue", cfg.Num)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &NFQueue{
		cfg:     cfg,
		nf:      nf,
		logger:  logger.With("queue", cfg.Num),
		packets: make(chan *packet.Packet, cfg.Backlog),
		ctx:     ctx,
		cancel:  cancel,
		drainCh: make(chan struct{}),
	}

	if err := nf.RegisterWithErrorFunc(ctx, q.handle, q.handleError); err != nil {
		cancel()
		nf.Close()
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to register nfqueue"), "queue", cfg.Num)
	}

	q.logger.Info("NFQUEUE opened",
		"max_queue_len", cfg.MaxQueueLen,
		"fail_open", cfg.FailOpen)
	return q, nil
}

// handle runs on the netlink reader goroutine. Blocking here applies
// backpressure to the kernel queue. Packets arriving after Drain get the
// fail-open verdict right away.
func (q *NFQueue) handle(a nfqueue.Attribute) int {
	if a.PacketID == nil {
		return 0
	}
	var payload []byte
	if a.Payload != nil {
		payload = make([]byte, len(*a.Payload))
		copy(payload, *a.Payload)
	}

	p := packet.New(*a.PacketID, q.cfg.Num, payload)
	if a.Timestamp != nil {
		p.Timestamp = *a.Timestamp
	}
	p.Source = q

	q.intake.RLock()
	if q.draining {
		q.intake.RUnlock()
		q.release(p)
		return 0
	}
	select {
	case q.packets <- p:
		q.processed.Add(1)
		q.intake.RUnlock()
	case <-q.drainCh:
		q.intake.RUnlock()
		q.release(p)
	case <-q.ctx.Done():
		q.intake.RUnlock()
	}
	return 0
}

// release verdicts a packet no stage will see: accept when the queue is
// fail-open, drop otherwise.
func (q *NFQueue) release(p *packet.Packet) {
	v := packet.Verdict{Type: packet.VerdictAccept}
	if !q.cfg.FailOpen {
		v.Type = packet.VerdictDrop
	}
	if err := q.SetVerdict(p.ID, v); err != nil {
		q.logger.Debug("Release verdict failed", "packet_id", p.ID, "error", err)
	}
}

// Drain implements Drainer. It stops handing packets to Receive and
// returns those already taken from the kernel.
func (q *NFQueue) Drain() []*packet.Packet {
	q.drainOnce.Do(func() { close(q.drainCh) })
	q.intake.Lock()
	q.draining = true
	q.intake.Unlock()

	var out []*packet.Packet
	for {
		select {
		case p := <-q.packets:
			out = append(out, p)
		default:
			q.logger.Debug("NFQUEUE drained", "packets", len(out))
			return out
		}
	}
}

func (q *NFQueue) handleError(err error) int {
	if q.ctx.Err() != nil {
		return 1
	}
	q.logger.Warn("nfqueue read error", "error", err)
	return 0
}

// Receive implements Queue.
func (q *NFQueue) Receive(ctx context.Context) (*packet.Packet, error) {
	select {
	case p := <-q.packets:
		return p, nil
	case <-q.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetVerdict implements packet.Verdicter.
func (q *NFQueue) SetVerdict(id uint32, v packet.Verdict) error {
	var err error
	switch v.Type {
	case packet.VerdictDrop:
		err = q.nf.SetVerdict(id, nfqueue.NfDrop)
	case packet.VerdictAcceptWithMark:
		err = q.nf.SetVerdictWithMark(id, nfqueue.NfAccept, int(v.Mark))
	default:
		err = q.nf.SetVerdict(id, nfqueue.NfAccept)
	}
	if err != nil {
		q.verdictErrors.Add(1)
		return errors.Attr(errors.Wrap(err, errors.KindUnavailable, "set verdict"), "packet_id", id)
	}
	if v.Type == packet.VerdictDrop {
		q.dropped.Add(1)
	} else {
		q.accepted.Add(1)
	}
	return nil
}

// Close stops reading and releases the netlink socket.
func (q *NFQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		q.cancel()
		err = q.nf.Close()
		q.logger.Info("NFQUEUE closed", "processed", q.processed.Load())
	})
	return err
}

// GetStats returns queue statistics.
func (q *NFQueue) GetStats() Stats {
	return Stats{
		PacketsProcessed: q.processed.Load(),
		PacketsAccepted:  q.accepted.Load(),
		PacketsDropped:   q.dropped.Load(),
		VerdictErrors:    q.verdictErrors.Load(),
	}
}
