// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/packet"
)

// BucketsPerInstance is the number of hash buckets owned by each detect
// instance.
const BucketsPerInstance = 64

// RoutingTable pins flows to detect instances. It is immutable once built
// and safe for concurrent use.
type RoutingTable struct {
	hash      packet.HashFunc
	buckets   []int
	instances int
}

// NewRoutingTable builds a table for the given number of detect instances.
// Bucket b belongs to instance b % instances, so a flow hash h always
// routes to h % instances.
func NewRoutingTable(instances int, hash packet.HashFunc) (*RoutingTable, error) {
	if instances < 1 {
		return nil, errors.Errorf(errors.KindValidation, "routing table needs at least one instance, got %d", instances)
	}
	if hash == nil {
		hash = packet.FlowHash
	}

	buckets := make([]int, instances*BucketsPerInstance)
	for b := range buckets {
		buckets[b] = b % instances
	}
	return &RoutingTable{hash: hash, buckets: buckets, instances: instances}, nil
}

// Instances returns the number of detect instances.
func (t *RoutingTable) Instances() int { return t.instances }

// Buckets returns the number of hash buckets.
func (t *RoutingTable) Buckets() int { return len(t.buckets) }

// Hash returns the flow hash of p.
func (t *RoutingTable) Hash(p *packet.Packet) uint32 { return t.hash(p) }

// Lookup returns the instance owning flow hash h.
func (t *RoutingTable) Lookup(h uint32) int {
	return t.buckets[h%uint32(len(t.buckets))]
}

// Route hashes p, records the hash on the packet and returns its instance.
func (t *RoutingTable) Route(p *packet.Packet) int {
	h := t.hash(p)
	p.FlowHash = h
	return t.Lookup(h)
}
