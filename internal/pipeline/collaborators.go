// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"grimm.is/ipsd/internal/packet"
	"grimm.is/ipsd/internal/queue"
)

// DetectEngine inspects packets. One engine handle is shared by every
// Detect stage of a topology, so Inspect must be safe for concurrent use.
type DetectEngine interface {
	Inspect(p *packet.Packet)
}

// Decoder fills in the decoded fields of a packet.
type Decoder interface {
	Decode(p *packet.Packet) error
}

// StreamTracker maintains per-flow state and annotates packets with it.
type StreamTracker interface {
	Track(p *packet.Packet) error
}

// Responder acts on packets after their verdict (resets, rejects).
type Responder interface {
	Respond(p *packet.Packet) error
}

// OutputWriter emits alerts and logs for finished packets.
type OutputWriter interface {
	Write(p *packet.Packet) error
}

// Collaborators are the external handles a stage may need. Each role
// requires exactly one of them; see Factory.Create.
type Collaborators struct {
	Queue     queue.Queue
	Decoder   Decoder
	Tracker   StreamTracker
	Engine    DetectEngine
	Responder Responder
	Output    OutputWriter
}

// NopResponder takes no action.
type NopResponder struct{}

func (NopResponder) Respond(*packet.Packet) error { return nil }

// NopOutput discards packets.
type NopOutput struct{}

func (NopOutput) Write(*packet.Packet) error { return nil }
