// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package packet

// HashFunc maps a packet to its flow hash.
type HashFunc func(p *Packet) uint32

const (
	fnv1aOffset32 uint32 = 2166136261
	fnv1aPrime32  uint32 = 16777619
)

func hashFNV1a(state uint32, c byte) uint32 {
	return (state ^ uint32(c)) * fnv1aPrime32
}

func hashBytes(state uint32, b []byte) uint32 {
	for _, c := range b {
		state = hashFNV1a(state, c)
	}
	return state
}

func hashPort(state uint32, port uint16) uint32 {
	state = hashFNV1a(state, byte(port>>8))
	return hashFNV1a(state, byte(port))
}

// Hash returns a direction-independent FNV-1a hash of the flow key, so
// both halves of a connection hash to the same value.
func (k FlowKey) Hash() uint32 {
	a := k.Canonical()
	s := hashFNV1a(fnv1aOffset32, a.Proto)
	s = hashBytes(s, a.Src.AsSlice())
	s = hashPort(s, a.SrcPort)
	s = hashBytes(s, a.Dst.AsSlice())
	return hashPort(s, a.DstPort)
}

// Canonical returns the direction of k with the lower source endpoint.
// Both directions of a flow share one canonical key.
func (k FlowKey) Canonical() FlowKey {
	if r := k.Reverse(); less(r, k) {
		return r
	}
	return k
}

func less(x, y FlowKey) bool {
	if c := x.Src.Compare(y.Src); c != 0 {
		return c < 0
	}
	return x.SrcPort < y.SrcPort
}

// FlowHash is the default HashFunc. Undecoded packets hash to 0.
func FlowHash(p *Packet) uint32 {
	if !p.Decoded {
		return 0
	}
	return p.Flow.Hash()
}
