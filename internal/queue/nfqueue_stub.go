// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package queue

import (
	"context"

	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/packet"
)

// NFQueueAvailable reports whether this build can open NFQUEUE queues.
const NFQueueAvailable = false

// NFQueue is a stub for non-Linux systems.
type NFQueue struct{}

// OpenNFQueue returns an error on non-Linux systems.
func OpenNFQueue(cfg NFQConfig, logger *logging.Logger) (*NFQueue, error) {
	return nil, errors.New(errors.KindUnavailable, "nfqueue is only supported on Linux")
}

// Receive always fails on non-Linux.
func (q *NFQueue) Receive(ctx context.Context) (*packet.Packet, error) {
	return nil, ErrClosed
}

// SetVerdict always fails on non-Linux.
func (q *NFQueue) SetVerdict(id uint32, v packet.Verdict) error {
	return ErrClosed
}

// Drain returns nothing on non-Linux.
func (q *NFQueue) Drain() []*packet.Packet { return nil }

// Close is a no-op on non-Linux.
func (q *NFQueue) Close() error { return nil }

// GetStats returns empty stats on non-Linux.
func (q *NFQueue) GetStats() Stats {
	return Stats{}
}
