// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package affinity decides which CPU each pipeline stage runs on.
//
// CPU 0 is the house-keeping CPU: every role except Detect lives there.
// Detect instances get CPUs 1..n-1, one each, wrapping round-robin when
// more instances are requested than CPUs remain. A single-CPU host runs
// everything on CPU 0 with exactly one Detect instance.
package affinity

import (
	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/pipeline"
)

// HousekeepingCPU hosts every non-Detect stage.
const HousekeepingCPU = 0

// Placement assigns one stage instance to a CPU.
type Placement struct {
	Role     pipeline.Role
	CPU      int
	Instance int
}

// Plan is an ordered list of placements, grouped by role in packet order
// and by instance within a role.
type Plan []Placement

// For returns the placements of role in instance order.
func (p Plan) For(role pipeline.Role) []Placement {
	var out []Placement
	for _, pl := range p {
		if pl.Role == role {
			out = append(out, pl)
		}
	}
	return out
}

// Count returns the number of instances planned for role.
func (p Plan) Count(role pipeline.Role) int {
	n := 0
	for _, pl := range p {
		if pl.Role == role {
			n++
		}
	}
	return n
}

// CPUs returns the CPUs used by role's instances, in instance order.
func (p Plan) CPUs(role pipeline.Role) []int {
	var out []int
	for _, pl := range p.For(role) {
		out = append(out, pl.CPU)
	}
	return out
}

// DefaultDetectCount is the number of Detect instances used when none is
// requested.
func DefaultDetectCount(cpuCount int) int {
	return max(1, cpuCount-1)
}

// PlanRoles places role instances on cpuCount CPUs. A role absent from
// counts, or requested with 0 instances, gets one instance; Detect gets
// DefaultDetectCount instead. It fails with a validation error when
// cpuCount < 1 or a count is negative.
func PlanRoles(counts map[pipeline.Role]int, cpuCount int) (Plan, error) {
	if cpuCount < 1 {
		return nil, errors.Attr(errors.Errorf(errors.KindValidation, "cpu count must be at least 1, got %d", cpuCount), "cpu_count", cpuCount)
	}
	for role, n := range counts {
		if !role.Valid() {
			return nil, errors.Errorf(errors.KindValidation, "unknown role %s", role)
		}
		if n < 0 {
			return nil, errors.Attr(errors.Errorf(errors.KindValidation, "%s count must not be negative, got %d", role, n), "role", role.String())
		}
	}

	var plan Plan
	for _, role := range pipeline.Roles {
		n := counts[role]
		if role == pipeline.RoleDetect {
			if n == 0 {
				n = DefaultDetectCount(cpuCount)
			}
			if cpuCount == 1 {
				n = 1
			}
		} else if n == 0 {
			n = 1
		}

		for i := 0; i < n; i++ {
			plan = append(plan, Placement{Role: role, CPU: cpuFor(role, i, cpuCount), Instance: i})
		}
	}
	return plan, nil
}

func cpuFor(role pipeline.Role, instance, cpuCount int) int {
	if role != pipeline.RoleDetect || cpuCount == 1 {
		return HousekeepingCPU
	}
	return 1 + instance%(cpuCount-1)
}

// PlanWorkers places whole worker pipelines, one per CPU, wrapping
// round-robin over all CPUs when workers outnumber them. The returned
// slice holds the CPU of each worker.
func PlanWorkers(workers, cpuCount int) ([]int, error) {
	if cpuCount < 1 {
		return nil, errors.Attr(errors.Errorf(errors.KindValidation, "cpu count must be at least 1, got %d", cpuCount), "cpu_count", cpuCount)
	}
	if workers < 1 {
		return nil, errors.Errorf(errors.KindValidation, "workers mode needs at least one queue, got %d", workers)
	}

	cpus := make([]int, workers)
	for i := range cpus {
		cpus[i] = i % cpuCount
	}
	return cpus, nil
}
