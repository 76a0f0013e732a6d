// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"sync/atomic"

	"grimm.is/ipsd/internal/packet"
)

// DefaultChannelDepth is the buffer size of inter-stage channels.
const DefaultChannelDepth = 1024

// Channel is a FIFO link between stages. It closes once every stage that
// writes to it has finished, which lets consumers drain it completely.
type Channel struct {
	name      string
	c         chan *packet.Packet
	producers atomic.Int32
}

// NewChannel creates a channel buffering depth packets.
func NewChannel(name string, depth int) *Channel {
	if depth <= 0 {
		depth = DefaultChannelDepth
	}
	return &Channel{
		name: name,
		c:    make(chan *packet.Packet, depth),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Len returns the number of queued packets.
func (c *Channel) Len() int { return len(c.c) }

// Producers returns the number of attached writers.
func (c *Channel) Producers() int { return int(c.producers.Load()) }

func (c *Channel) attach() {
	c.producers.Add(1)
}

func (c *Channel) release() {
	if c.producers.Add(-1) == 0 {
		close(c.c)
	}
}
