// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package stream tracks per-flow state for the StreamTrack stage.
package stream

import (
	"time"

	cache "github.com/patrickmn/go-cache"

	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/packet"
)

const (
	DefaultFlowTimeout = 2 * time.Minute
	DefaultMaxFlows    = 65536

	// sweepEvery is the number of tracked packets between expiry sweeps.
	sweepEvery = 1024
)

// ErrTableFull is returned when a new flow cannot be tracked.
var ErrTableFull = errors.New(errors.KindUnavailable, "flow table full")

// Config controls the flow table.
type Config struct {
	FlowTimeout time.Duration
	MaxFlows    int
}

// DefaultConfig returns the default flow table settings.
func DefaultConfig() Config {
	return Config{
		FlowTimeout: DefaultFlowTimeout,
		MaxFlows:    DefaultMaxFlows,
	}
}

// Flow is the tracked state of one connection.
type Flow struct {
	Key       packet.FlowKey // canonical direction
	State     packet.FlowState
	Packets   uint64
	Bytes     uint64
	FirstSeen time.Time
	LastSeen  time.Time
	ReplySeen bool

	initiator packet.FlowKey
}

// Tracker is a flow table. Each StreamTrack stage owns one, so a Tracker
// is used by a single goroutine.
type Tracker struct {
	cfg    Config
	logger *logging.Logger

	// No janitor goroutine: expired flows are swept in-band by Track.
	flows   *cache.Cache
	tracked uint64
}

// New creates a Tracker. Zero fields of cfg take their defaults.
func New(cfg Config, logger *logging.Logger) *Tracker {
	if cfg.FlowTimeout <= 0 {
		cfg.FlowTimeout = DefaultFlowTimeout
	}
	if cfg.MaxFlows <= 0 {
		cfg.MaxFlows = DefaultMaxFlows
	}
	if logger == nil {
		logger = logging.WithComponent("stream")
	}
	return &Tracker{
		cfg:    cfg,
		logger: logger,
		flows:  cache.New(cfg.FlowTimeout, 0),
	}
}

// Track updates the flow of p and records its state on the packet.
// Undecoded packets are left untouched.
func (t *Tracker) Track(p *packet.Packet) error {
	if !p.Decoded {
		return nil
	}

	t.tracked++
	if t.tracked%sweepEvery == 0 {
		t.flows.DeleteExpired()
	}

	canon := p.Flow.Canonical()
	key := canon.String()

	var f *Flow
	if obj, ok := t.flows.Get(key); ok {
		f = obj.(*Flow)
	} else {
		if t.flows.ItemCount() >= t.cfg.MaxFlows {
			t.flows.DeleteExpired()
			if t.flows.ItemCount() >= t.cfg.MaxFlows {
				p.FlowState = packet.FlowStateNew
				return errors.Attr(errors.Wrap(ErrTableFull, errors.KindUnavailable, "track flow"), "flow", key)
			}
		}
		f = &Flow{
			Key:       canon,
			State:     packet.FlowStateNew,
			FirstSeen: p.Timestamp,
			initiator: p.Flow,
		}
	}

	t.update(f, p)
	// Refresh the idle timer on every packet.
	t.flows.SetDefault(key, f)

	p.FlowState = f.State
	if f.State == packet.FlowStateClosed {
		t.flows.Delete(key)
	}
	return nil
}

func (t *Tracker) update(f *Flow, p *packet.Packet) {
	f.Packets++
	f.Bytes += uint64(len(p.Payload))
	f.LastSeen = p.Timestamp
	if p.Flow != f.initiator {
		f.ReplySeen = true
	}

	if p.Flow.Proto != packet.ProtoTCP {
		if f.Packets > 1 && f.State == packet.FlowStateNew {
			f.State = packet.FlowStateEstablished
		}
		return
	}

	switch {
	case p.TCPFlags&(packet.TCPFin|packet.TCPRst) != 0:
		f.State = packet.FlowStateClosed
	case f.State == packet.FlowStateNew && f.ReplySeen && p.TCPFlags&packet.TCPAck != 0:
		f.State = packet.FlowStateEstablished
	}
}

// Lookup returns the tracked flow for key in either direction.
func (t *Tracker) Lookup(key packet.FlowKey) (Flow, bool) {
	obj, ok := t.flows.Get(key.Canonical().String())
	if !ok {
		return Flow{}, false
	}
	return *obj.(*Flow), true
}

// Len returns the number of tracked flows, including expired flows not
// yet swept.
func (t *Tracker) Len() int {
	return t.flows.ItemCount()
}

// Close drops every tracked flow.
func (t *Tracker) Close() error {
	t.logger.Debug("Flow table flushed", "flows", t.flows.ItemCount())
	t.flows.Flush()
	return nil
}
