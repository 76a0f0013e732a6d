// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package detect is the default detection engine: a read-only set of
// content rules matched against decoded packets.
package detect

import (
	"bytes"
	"strings"
	"sync/atomic"

	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/packet"
)

// Rule actions.
const (
	ActionAlert = "alert"
	ActionDrop  = "drop"
)

// Rule matches packets by protocol, destination port and payload content.
// Empty fields match anything.
type Rule struct {
	ID       string
	Msg      string
	Action   string // alert or drop
	Protocol string // tcp, udp, icmp, icmpv6 or "any"
	DstPort  uint16
	Content  string
}

type compiledRule struct {
	Rule
	proto   uint8 // 0 matches any protocol
	content []byte
}

func (r *compiledRule) match(p *packet.Packet) bool {
	if r.proto != 0 && p.Flow.Proto != r.proto {
		return false
	}
	if r.DstPort != 0 && p.Flow.DstPort != r.DstPort {
		return false
	}
	if len(r.content) > 0 && !bytes.Contains(p.L4, r.content) {
		return false
	}
	return true
}

// Stats counts engine activity.
type Stats struct {
	Inspected uint64 `json:"inspected"`
	Matched   uint64 `json:"matched"`
	Dropped   uint64 `json:"dropped"`
}

// Engine evaluates every rule against each packet. It is immutable after
// construction and safe for concurrent use by many Detect stages.
type Engine struct {
	rules  []compiledRule
	logger *logging.Logger

	inspected atomic.Uint64
	matched   atomic.Uint64
	dropped   atomic.Uint64
}

// NewEngine compiles rules. It fails with a validation error on an unknown
// action or protocol, or a duplicate rule ID.
func NewEngine(rules []Rule, logger *logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.WithComponent("detect")
	}

	e := &Engine{logger: logger}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		cr, err := compile(r)
		if err != nil {
			return nil, errors.Attr(err, "rule", r.ID)
		}
		if seen[r.ID] {
			return nil, errors.Attr(errors.New(errors.KindValidation, "duplicate rule id"), "rule", r.ID)
		}
		seen[r.ID] = true
		e.rules = append(e.rules, cr)
	}

	logger.Info("Detect engine ready", "rules", len(e.rules))
	return e, nil
}

func compile(r Rule) (compiledRule, error) {
	if r.ID == "" {
		return compiledRule{}, errors.New(errors.KindValidation, "rule id is required")
	}

	switch strings.ToLower(r.Action) {
	case "", ActionAlert:
		r.Action = ActionAlert
	case ActionDrop:
		r.Action = ActionDrop
	default:
		return compiledRule{}, errors.Errorf(errors.KindValidation, "unknown action %q", r.Action)
	}

	var proto uint8
	switch strings.ToLower(r.Protocol) {
	case "", "any", "ip":
	case "tcp":
		proto = packet.ProtoTCP
	case "udp":
		proto = packet.ProtoUDP
	case "icmp":
		proto = packet.ProtoICMP
	case "icmpv6":
		proto = packet.ProtoICMPv6
	default:
		return compiledRule{}, errors.Errorf(errors.KindValidation, "unknown protocol %q", r.Protocol)
	}

	return compiledRule{Rule: r, proto: proto, content: []byte(r.Content)}, nil
}

// Inspect appends an alert for every matching rule. A matching drop rule
// sets the drop verdict. Undecoded packets are not inspected.
func (e *Engine) Inspect(p *packet.Packet) {
	e.inspected.Add(1)
	if !p.Decoded {
		return
	}

	for i := range e.rules {
		r := &e.rules[i]
		if !r.match(p) {
			continue
		}
		e.matched.Add(1)
		p.Alerts = append(p.Alerts, packet.Alert{RuleID: r.ID, Msg: r.Msg, Action: r.Action})
		if r.Action == ActionDrop && p.Verdict.Type != packet.VerdictDrop {
			p.SetDrop()
			e.dropped.Add(1)
		}
	}
}

// Rules returns the number of loaded rules.
func (e *Engine) Rules() int { return len(e.rules) }

// GetStats returns a snapshot of the engine counters.
func (e *Engine) GetStats() Stats {
	return Stats{
		Inspected: e.inspected.Load(),
		Matched:   e.matched.Load(),
		Dropped:   e.dropped.Load(),
	}
}
