// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package runmode

import (
	"fmt"

	"grimm.is/ipsd/internal/affinity"
	"grimm.is/ipsd/internal/pipeline"
)

// BuildWorkers builds one private pipeline per queue. Workers share only
// the detect engine; no packet ever crosses from one worker to another.
// Worker i runs every stage on the CPU affinity.PlanWorkers gives it and
// reports pipeline index i+1.
func BuildWorkers(bc BuildContext) (*Topology, error) {
	if err := bc.setDefaults(); err != nil {
		return nil, err
	}
	cpus, err := affinity.PlanWorkers(bc.NumQueues, bc.CPUCount)
	if err != nil {
		return nil, err
	}
	table, err := pipeline.NewRoutingTable(1, bc.Hash)
	if err != nil {
		return nil, err
	}

	bc.Logger = bc.Logger.With("mode", ModeWorkers)
	g := newGraph(ModeWorkers, &bc)

	for i, cpuIndex := range cpus {
		w := i + 1
		link := func(from, to pipeline.Role) *pipeline.Channel {
			return g.channel(fmt.Sprintf("w%d/%s->%s", w, from, to))
		}
		base := pipeline.StageSpec{CPU: cpuIndex, Instance: i, Pipeline: w}
		spec := func(role pipeline.Role, in, out *pipeline.Channel) pipeline.StageSpec {
			s := base
			s.Role = role
			s.Input = in
			if out != nil {
				s.Outputs = []*pipeline.Channel{out}
			}
			return s
		}

		toDecode := link(pipeline.RoleReceive, pipeline.RoleDecode)
		toStream := link(pipeline.RoleDecode, pipeline.RoleStreamTrack)
		toDetect := link(pipeline.RoleStreamTrack, pipeline.RoleDetect)
		toVerdict := link(pipeline.RoleDetect, pipeline.RoleVerdict)
		toRespond := link(pipeline.RoleVerdict, pipeline.RoleRespond)
		toOutput := link(pipeline.RoleRespond, pipeline.RoleOutput)

		g.receive(i, spec(pipeline.RoleReceive, nil, toDecode))
		g.add(spec(pipeline.RoleDecode, toDecode, toStream), pipeline.Collaborators{Decoder: bc.NewDecoder()})
		g.add(spec(pipeline.RoleStreamTrack, toStream, toDetect), pipeline.Collaborators{Tracker: bc.NewTracker()})

		detect := spec(pipeline.RoleDetect, toDetect, toVerdict)
		detect.Table = table
		g.add(detect, pipeline.Collaborators{Engine: bc.Engine})

		g.add(spec(pipeline.RoleVerdict, toVerdict, toRespond), pipeline.Collaborators{})
		g.add(spec(pipeline.RoleRespond, toRespond, toOutput), pipeline.Collaborators{Responder: bc.Responder})
		g.add(spec(pipeline.RoleOutput, toOutput, nil), pipeline.Collaborators{Output: bc.Output})
	}

	return g.finish()
}
