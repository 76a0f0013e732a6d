// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package runmode

import (
	"fmt"

	"grimm.is/ipsd/internal/affinity"
	"grimm.is/ipsd/internal/pipeline"
)

// BuildAuto builds one shared pipeline whose Detect instances all read
// from a single channel. Packets of one flow may be inspected out of
// order when they land on different instances.
func BuildAuto(bc BuildContext) (*Topology, error) {
	return buildShared(ModeAuto, bc, false)
}

// BuildAutoFp builds the auto pipeline with flow pinning: StreamTrack
// routes each packet through the routing table to the channel of one
// Detect instance, so a flow is always inspected by the same instance in
// arrival order.
func BuildAutoFp(bc BuildContext) (*Topology, error) {
	return buildShared(ModeAutoFp, bc, true)
}

func buildShared(mode string, bc BuildContext, pinFlows bool) (*Topology, error) {
	if err := bc.setDefaults(); err != nil {
		return nil, err
	}
	plan, err := affinity.PlanRoles(map[pipeline.Role]int{
		pipeline.RoleReceive: bc.NumQueues,
		pipeline.RoleDetect:  bc.DetectThreads,
	}, bc.CPUCount)
	if err != nil {
		return nil, err
	}
	detectors := plan.For(pipeline.RoleDetect)
	table, err := pipeline.NewRoutingTable(len(detectors), bc.Hash)
	if err != nil {
		return nil, err
	}
	cpuOf := func(role pipeline.Role) int { return plan.For(role)[0].CPU }

	bc.Logger = bc.Logger.With("mode", mode)
	g := newGraph(mode, &bc)

	toDecode := g.channel("receive->decode")
	toStream := g.channel("decode->stream")
	toVerdict := g.channel("detect->verdict")
	toRespond := g.channel("verdict->respond")
	toOutput := g.channel("respond->output")

	for _, pl := range plan.For(pipeline.RoleReceive) {
		g.receive(pl.Instance, pipeline.StageSpec{CPU: pl.CPU, Instance: pl.Instance, Outputs: []*pipeline.Channel{toDecode}})
	}
	g.add(pipeline.StageSpec{Role: pipeline.RoleDecode, CPU: cpuOf(pipeline.RoleDecode), Input: toDecode, Outputs: []*pipeline.Channel{toStream}},
		pipeline.Collaborators{Decoder: bc.NewDecoder()})

	// auto: one channel shared by every Detect instance.
	// autofp: one channel per Detect instance, chosen by the routing table.
	streamSpec := pipeline.StageSpec{Role: pipeline.RoleStreamTrack, CPU: cpuOf(pipeline.RoleStreamTrack), Input: toStream}
	detectIn := make([]*pipeline.Channel, len(detectors))
	if pinFlows {
		for i := range detectIn {
			detectIn[i] = g.channel(fmt.Sprintf("stream->detect#%d", i))
		}
		streamSpec.Outputs = detectIn
		streamSpec.Router = table.Route
	} else {
		shared := g.channel("stream->detect")
		for i := range detectIn {
			detectIn[i] = shared
		}
		streamSpec.Outputs = []*pipeline.Channel{shared}
	}
	g.add(streamSpec, pipeline.Collaborators{Tracker: bc.NewTracker()})

	for i, pl := range detectors {
		g.add(pipeline.StageSpec{
			Role:     pipeline.RoleDetect,
			CPU:      pl.CPU,
			Instance: pl.Instance,
			Input:    detectIn[i],
			Outputs:  []*pipeline.Channel{toVerdict},
			Table:    table,
		}, pipeline.Collaborators{Engine: bc.Engine})
	}

	g.add(pipeline.StageSpec{Role: pipeline.RoleVerdict, CPU: cpuOf(pipeline.RoleVerdict), Input: toVerdict, Outputs: []*pipeline.Channel{toRespond}},
		pipeline.Collaborators{})
	g.add(pipeline.StageSpec{Role: pipeline.RoleRespond, CPU: cpuOf(pipeline.RoleRespond), Input: toRespond, Outputs: []*pipeline.Channel{toOutput}},
		pipeline.Collaborators{Responder: bc.Responder})
	g.add(pipeline.StageSpec{Role: pipeline.RoleOutput, CPU: cpuOf(pipeline.RoleOutput), Input: toOutput},
		pipeline.Collaborators{Output: bc.Output})

	return g.finish()
}
