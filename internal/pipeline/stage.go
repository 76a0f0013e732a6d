// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"grimm.is/ipsd/internal/cpu"
	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/metrics"
	"grimm.is/ipsd/internal/packet"
	"grimm.is/ipsd/internal/queue"
)

// Failed receives back off between these bounds; the warning for a run of
// failures is logged at most once per receiveWarnInterval.
const (
	receiveBackoffMin   = time.Millisecond
	receiveBackoffMax   = 500 * time.Millisecond
	receiveWarnInterval = 10 * time.Second
)

// StageSpec places and wires one stage.
type StageSpec struct {
	Role     Role
	CPU      int
	Instance int
	Pipeline int // worker index in the workers mode, 0 otherwise

	Input   *Channel   // nil for Receive
	Outputs []*Channel // empty for Output

	// Router picks the output for a packet. Nil always picks Outputs[0].
	Router func(p *packet.Packet) int
	// Table lets Detect stages annotate the flow hash.
	Table *RoutingTable
}

// StageInfo describes a stage for status reporting.
type StageInfo struct {
	Name     string   `json:"name"`
	Role     string   `json:"role"`
	CPU      int      `json:"cpu"`
	Instance int      `json:"instance"`
	Pipeline int      `json:"pipeline"`
	Input    string   `json:"input,omitempty"`
	Outputs  []string `json:"outputs,omitempty"`
}

// Stage is a long-lived loop bound to one role and one CPU.
type Stage struct {
	spec    StageSpec
	collab  Collaborators
	name    string
	logger  *logging.Logger
	metrics *metrics.Metrics
	probe   *ActiveCounter

	// recvCtx bounds Queue.Receive; Stop cancels it.
	recvCtx    context.Context
	recvCancel context.CancelFunc

	releaseOnce sync.Once
	closeOnce   sync.Once
	closeErr    error
}

// Name returns the stage name, e.g. "detect#2" or "w1/verdict#0".
func (s *Stage) Name() string { return s.name }

// Role returns the stage role.
func (s *Stage) Role() Role { return s.spec.Role }

// CPU returns the logical CPU the stage pins itself to.
func (s *Stage) CPU() int { return s.spec.CPU }

// Instance returns the instance index within the role.
func (s *Stage) Instance() int { return s.spec.Instance }

// Pipeline returns the worker index.
func (s *Stage) Pipeline() int { return s.spec.Pipeline }

// Info returns a status descriptor.
func (s *Stage) Info() StageInfo {
	info := StageInfo{
		Name:     s.name,
		Role:     s.spec.Role.String(),
		CPU:      s.spec.CPU,
		Instance: s.spec.Instance,
		Pipeline: s.spec.Pipeline,
	}
	if s.spec.Input != nil {
		info.Input = s.spec.Input.Name()
	}
	for _, out := range s.spec.Outputs {
		info.Outputs = append(info.Outputs, out.Name())
	}
	return info
}

// Run executes the stage loop on a dedicated OS thread pinned to the
// stage CPU. It returns when the input channel is drained and closed,
// when a Receive stage is stopped or its queue ends, or when ctx is
// cancelled. Cancelling ctx abandons packets still in flight.
func (s *Stage) Run(ctx context.Context) error {
	s.probe.inc()
	s.metrics.StageStarted()
	defer func() {
		s.releaseOutputs()
		s.metrics.StageStopped()
		s.probe.dec()
	}()

	if err := cpu.Pin(s.spec.CPU); err != nil {
		s.logger.Warn("CPU pinning unavailable", "cpu", s.spec.CPU, "error", err)
	}
	s.logger.Debug("Stage started", "cpu", s.spec.CPU)
	defer s.logger.Debug("Stage stopped")

	if s.spec.Role == RoleReceive {
		return s.receiveLoop(ctx)
	}
	return s.processLoop(ctx)
}

// Stop makes a Receive stage stop taking packets from its queue. Packets
// already received continue downstream. Other roles stop on their own
// once their input drains.
func (s *Stage) Stop() {
	s.recvCancel()
}

// Close releases the stage: its outputs are released, the queue of a
// Receive stage is closed, and a stream tracker implementing io.Closer is
// closed. Close is idempotent.
func (s *Stage) Close() error {
	s.closeOnce.Do(func() {
		s.recvCancel()
		s.releaseOutputs()

		var errs []error
		if s.spec.Role == RoleReceive && s.collab.Queue != nil {
			if err := s.collab.Queue.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.spec.Role == RoleStreamTrack {
			if c, ok := s.collab.Tracker.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
		if err := errors.Join(errors.KindInternal, "close stage", errs...); err != nil {
			s.closeErr = errors.Attr(err, "stage", s.name)
		}
	})
	return s.closeErr
}

func (s *Stage) releaseOutputs() {
	s.releaseOnce.Do(func() {
		for _, out := range s.spec.Outputs {
			out.release()
		}
	})
}

func (s *Stage) receiveLoop(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.recvCancel)
	defer stop()

	role := s.spec.Role.String()
	warn := rate.Sometimes{First: 1, Interval: receiveWarnInterval}
	var (
		failures int
		delay    time.Duration
	)
	for {
		p, err := s.collab.Queue.Receive(s.recvCtx)
		if err != nil {
			if s.recvCtx.Err() != nil || errors.Is(err, queue.ErrClosed) || errors.Is(err, io.EOF) {
				s.logger.Debug("Receive finished", "reason", err)
				if ctx.Err() == nil && s.recvCtx.Err() != nil {
					s.drainQueue(ctx)
				}
				return nil
			}
			failures++
			s.metrics.StageError(role)
			warn.Do(func() {
				s.logger.Warn("Receive failed", "error", err, "failures", failures)
			})
			delay = nextReceiveBackoff(delay)
			s.sleep(delay)
			continue
		}
		if failures > 0 {
			s.logger.Info("Receive recovered", "failures", failures)
			failures, delay = 0, 0
		}
		if p.Source == nil {
			p.Source = s.collab.Queue
		}
		s.metrics.StagePacket(role)
		if !s.forward(ctx, p) {
			return nil
		}
	}
}

// drainQueue forwards the packets a stopped queue had already taken from
// the kernel, so they still reach a verdict.
func (s *Stage) drainQueue(ctx context.Context) {
	d, ok := s.collab.Queue.(queue.Drainer)
	if !ok {
		return
	}
	pending := d.Drain()
	if len(pending) > 0 {
		s.logger.Debug("Draining queue backlog", "packets", len(pending))
	}
	role := s.spec.Role.String()
	for _, p := range pending {
		if p.Source == nil {
			p.Source = s.collab.Queue
		}
		s.metrics.StagePacket(role)
		if !s.forward(ctx, p) {
			return
		}
	}
}

// sleep waits for d or until the stage is stopped.
func (s *Stage) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.recvCtx.Done():
	}
}

// nextReceiveBackoff doubles the wait after a failed receive, from
// receiveBackoffMin up to receiveBackoffMax.
func nextReceiveBackoff(d time.Duration) time.Duration {
	if d < receiveBackoffMin {
		return receiveBackoffMin
	}
	d *= 2
	if d > receiveBackoffMax {
		d = receiveBackoffMax
	}
	return d
}

func (s *Stage) processLoop(ctx context.Context) error {
	role := s.spec.Role.String()
	in := s.spec.Input.c
	for {
		// A cancelled context wins over queued input.
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-in:
			if !ok {
				return nil
			}
			if err := s.process(p); err != nil {
				s.metrics.StageError(role)
				s.logger.Debug("Collaborator error", "packet_id", p.ID, "error", err)
			}
			s.metrics.StagePacket(role)
			if len(s.spec.Outputs) == 0 {
				continue
			}
			if !s.forward(ctx, p) {
				return nil
			}
		}
	}
}

// process hands p to the role's collaborator. Errors never stop a packet:
// it still travels on to its verdict.
func (s *Stage) process(p *packet.Packet) error {
	switch s.spec.Role {
	case RoleDecode:
		return s.collab.Decoder.Decode(p)
	case RoleStreamTrack:
		return s.collab.Tracker.Track(p)
	case RoleDetect:
		if p.FlowHash == 0 && s.spec.Table != nil {
			p.FlowHash = s.spec.Table.Hash(p)
		}
		p.Detector = s.spec.Instance
		p.Pipeline = s.spec.Pipeline
		s.collab.Engine.Inspect(p)
		s.metrics.Routed(s.spec.Instance)
		return nil
	case RoleVerdict:
		return s.issueVerdict(p)
	case RoleRespond:
		return s.collab.Responder.Respond(p)
	case RoleOutput:
		return s.collab.Output.Write(p)
	}
	return nil
}

func (s *Stage) issueVerdict(p *packet.Packet) error {
	if p.Source == nil {
		s.metrics.VerdictError()
		return errors.Attr(errors.New(errors.KindInternal, "packet has no verdict source"), "packet_id", p.ID)
	}
	if err := p.Source.SetVerdict(p.ID, p.Verdict); err != nil {
		s.metrics.VerdictError()
		return err
	}
	s.metrics.Verdict(p.Verdict.Type.String())
	return nil
}

func (s *Stage) forward(ctx context.Context, p *packet.Packet) bool {
	out := s.spec.Outputs[0]
	if s.spec.Router != nil {
		if idx := s.spec.Router(p); idx >= 0 && idx < len(s.spec.Outputs) {
			out = s.spec.Outputs[idx]
		}
	}
	select {
	case out.c <- p:
		return true
	case <-ctx.Done():
		return false
	}
}

// StageName returns the name a stage built from spec carries.
func StageName(spec StageSpec) string {
	name := fmt.Sprintf("%s#%d", spec.Role, spec.Instance)
	if spec.Pipeline > 0 {
		name = fmt.Sprintf("w%d/%s", spec.Pipeline, name)
	}
	return name
}
