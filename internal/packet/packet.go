// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package packet defines the unit of work that flows through the IPS
// pipeline, its flow identity, and the verdict returned to the kernel.
package packet

import (
	"fmt"
	"net/netip"
	"time"
)

// IP protocol numbers used by the decoder and the detect rules.
const (
	ProtoICMP   uint8 = 1
	ProtoTCP    uint8 = 6
	ProtoUDP    uint8 = 17
	ProtoICMPv6 uint8 = 58
)

// ProtoName returns the lowercase protocol name used in config and logs.
func ProtoName(p uint8) string {
	switch p {
	case ProtoICMP:
		return "icmp"
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMPv6:
		return "icmpv6"
	default:
		return fmt.Sprintf("proto-%d", p)
	}
}

// FlowKey is the 5-tuple identifying a flow.
type FlowKey struct {
	Src     netip.Addr
	Dst     netip.Addr
	SrcPort uint16
	DstPort uint16
	Proto   uint8
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s %s -> %s",
		ProtoName(k.Proto),
		netip.AddrPortFrom(k.Src, k.SrcPort),
		netip.AddrPortFrom(k.Dst, k.DstPort))
}

// Reverse returns the key of the opposite direction.
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{Src: k.Dst, Dst: k.Src, SrcPort: k.DstPort, DstPort: k.SrcPort, Proto: k.Proto}
}

// FlowState is the connection tracking state attached by the stream tracker.
type FlowState string

const (
	FlowStateNone        FlowState = ""
	FlowStateNew         FlowState = "NEW"
	FlowStateEstablished FlowState = "ESTABLISHED"
	FlowStateClosed      FlowState = "CLOSED"
)

// TCP flag bits as carried in Packet.TCPFlags.
const (
	TCPFin uint8 = 1 << iota
	TCPSyn
	TCPRst
	TCPPsh
	TCPAck
)

// Alert is a detection hit recorded on a packet.
type Alert struct {
	RuleID string
	Msg    string
	Action string
}

// Packet is one queued packet on its way to a verdict.
type Packet struct {
	// Set by the receiving queue.
	ID        uint32
	Queue     uint16
	Payload   []byte
	Timestamp time.Time
	Source    Verdicter

	// Set by the decoder.
	Decoded  bool
	Flow     FlowKey
	TCPFlags uint8
	L4       []byte // transport payload

	// Set by the stream tracker.
	FlowHash  uint32
	FlowState FlowState

	// Set by the detect stage.
	Alerts   []Alert
	Detector int // detect instance that inspected the packet
	Pipeline int // worker index; 0 outside the workers mode

	Verdict Verdict
}

// New returns a packet with the default accept verdict.
func New(id uint32, queue uint16, payload []byte) *Packet {
	return &Packet{
		ID:        id,
		Queue:     queue,
		Payload:   payload,
		Timestamp: time.Now(),
		Detector:  -1,
		Verdict:   Accept,
	}
}

// SetDrop marks the packet to be dropped.
func (p *Packet) SetDrop() {
	p.Verdict = Drop
}
