// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package packet

// VerdictType is the decision returned to the kernel queue for a packet.
type VerdictType int

const (
	// VerdictDrop drops the packet
	VerdictDrop VerdictType = iota
	// VerdictAccept accepts the packet
	VerdictAccept
	// VerdictAcceptWithMark accepts the packet and sets a packet mark
	VerdictAcceptWithMark
)

func (v VerdictType) String() string {
	switch v {
	case VerdictDrop:
		return "drop"
	case VerdictAccept:
		return "accept"
	case VerdictAcceptWithMark:
		return "accept_mark"
	default:
		return "unknown"
	}
}

// Verdict is the verdict for a packet, including an optional mark.
type Verdict struct {
	Type VerdictType
	Mark uint32 // Only used when Type is VerdictAcceptWithMark
}

// Accept is the verdict every packet starts with.
var Accept = Verdict{Type: VerdictAccept}

// Drop is the verdict for blocked packets.
var Drop = Verdict{Type: VerdictDrop}

// Verdicter receives the verdict for packets it handed out.
type Verdicter interface {
	SetVerdict(id uint32, v Verdict) error
}
