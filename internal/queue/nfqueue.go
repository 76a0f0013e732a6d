// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package queue

import "time"

// NFQConfig configures one NFQUEUE queue.
type NFQConfig struct {
	Num          uint16
	MaxPacketLen uint32
	MaxQueueLen  uint32
	// FailOpen lets the kernel accept packets when the queue is full
	// instead of dropping them.
	FailOpen     bool
	WriteTimeout time.Duration
	// Backlog is the number of received packets buffered ahead of the
	// Receive stage.
	Backlog int
}

// DefaultNFQConfig returns the defaults for queue num.
func DefaultNFQConfig(num uint16) NFQConfig {
	return NFQConfig{
		Num:          num,
		MaxPacketLen: 0xFFFF,
		MaxQueueLen:  1024,
		FailOpen:     true,
		WriteTimeout: 10 * time.Millisecond,
		Backlog:      1024,
	}
}
