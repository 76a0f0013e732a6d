// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package runmode

import (
	"fmt"

	"grimm.is/ipsd/internal/cpu"
	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/metrics"
	"grimm.is/ipsd/internal/packet"
	"grimm.is/ipsd/internal/pipeline"
	"grimm.is/ipsd/internal/queue"
	"grimm.is/ipsd/internal/stream"
)

// BuildContext carries everything a builder needs. Only Engine and Queues
// are required; the rest have working defaults.
type BuildContext struct {
	// Engine is shared by every Detect stage and must be safe for
	// concurrent use.
	Engine pipeline.DetectEngine

	// Queues opens one kernel queue per Receive stage.
	Queues    queue.Factory
	NumQueues int // defaults to 1

	CPUCount      int // 0 discovers the usable CPUs
	DetectThreads int // 0 picks the affinity default
	ChannelDepth  int

	// Per-stage collaborator constructors. Nil uses packet.NewDecoder and
	// stream.New with default settings.
	NewDecoder func() pipeline.Decoder
	NewTracker func() pipeline.StreamTracker

	Responder pipeline.Responder    // defaults to pipeline.NopResponder
	Output    pipeline.OutputWriter // defaults to pipeline.NopOutput
	Hash      packet.HashFunc       // defaults to packet.FlowHash

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Probe   *pipeline.ActiveCounter
}

func (bc *BuildContext) setDefaults() error {
	if bc.NumQueues == 0 {
		bc.NumQueues = 1
	}
	if bc.NumQueues < 0 {
		return errors.Errorf(errors.KindValidation, "queue count must not be negative, got %d", bc.NumQueues)
	}
	if bc.CPUCount < 0 {
		return errors.Errorf(errors.KindValidation, "cpu count must be at least 1, got %d", bc.CPUCount)
	}
	bc.CPUCount = cpu.Resolve(bc.CPUCount)

	if bc.Logger == nil {
		bc.Logger = logging.WithComponent("runmode")
	}
	if bc.NewDecoder == nil {
		bc.NewDecoder = func() pipeline.Decoder { return packet.NewDecoder() }
	}
	if bc.NewTracker == nil {
		logger := bc.Logger
		bc.NewTracker = func() pipeline.StreamTracker { return stream.New(stream.DefaultConfig(), logger) }
	}
	if bc.Responder == nil {
		bc.Responder = pipeline.NopResponder{}
	}
	if bc.Output == nil {
		bc.Output = pipeline.NopOutput{}
	}
	if bc.Hash == nil {
		bc.Hash = packet.FlowHash
	}
	return nil
}

// graph collects stages while a builder wires them. Nothing runs until
// the whole graph is wired; on any failure every created stage is closed.
type graph struct {
	mode    string
	bc      *BuildContext
	factory *pipeline.Factory
	stages  []*pipeline.Stage
	errs    []error
}

func newGraph(mode string, bc *BuildContext) *graph {
	return &graph{
		mode:    mode,
		bc:      bc,
		factory: pipeline.NewFactory(bc.Logger.WithComponent("pipeline"), bc.Metrics, bc.Probe),
	}
}

func (g *graph) channel(name string) *pipeline.Channel {
	return pipeline.NewChannel(name, g.bc.ChannelDepth)
}

func (g *graph) add(spec pipeline.StageSpec, c pipeline.Collaborators) {
	s, err := g.factory.Create(spec, c)
	if err != nil {
		g.errs = append(g.errs, err)
		if c.Queue != nil {
			c.Queue.Close()
		}
		return
	}
	g.stages = append(g.stages, s)
}

// receive opens queue index and adds its Receive stage.
func (g *graph) receive(index int, spec pipeline.StageSpec) {
	spec.Role = pipeline.RoleReceive
	var q queue.Queue
	if g.bc.Queues != nil {
		var err error
		if q, err = g.bc.Queues(index); err != nil {
			err = errors.Wrapf(err, errors.KindStageInit, "receive: open queue %d", index)
			g.errs = append(g.errs, errors.Attr(errors.Attr(err, "role", "receive"), "stage", pipeline.StageName(spec)))
			return
		}
	}
	g.add(spec, pipeline.Collaborators{Queue: q})
}

// finish starts the topology, or rolls everything back and reports every
// stage failure as one construction error.
func (g *graph) finish() (*Topology, error) {
	if len(g.errs) > 0 {
		for _, s := range g.stages {
			if err := s.Close(); err != nil {
				g.bc.Logger.Warn("Rollback close failed", "stage", s.Name(), "error", err)
			}
		}
		g.bc.Metrics.TopologyBuilt(g.mode, false)
		err := errors.Join(errors.KindConstruction, fmt.Sprintf("failed to build %s topology", g.mode), g.errs...)
		return nil, errors.Attr(err, "mode", g.mode)
	}

	t := newTopology(g.mode, g.stages, g.bc.Probe, g.bc.Logger)
	t.start()
	g.bc.Metrics.TopologyBuilt(g.mode, true)
	t.logger.Info("Topology started", "stages", len(g.stages), "cpus", g.bc.CPUCount)
	return t, nil
}
