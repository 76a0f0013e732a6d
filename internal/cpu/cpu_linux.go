// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package cpu

import (
	"golang.org/x/sys/unix"

	"grimm.is/ipsd/internal/errors"
)

// PinSupported reports whether Pin can restrict thread affinity.
const PinSupported = true

// processMask reads the affinity of the main thread. Threads spawned by
// an already pinned thread inherit its mask, so the calling thread's own
// mask cannot be trusted.
func processMask() (unix.CPUSet, error) {
	var set unix.CPUSet
	err := unix.SchedGetaffinity(unix.Getpid(), &set)
	return set, err
}

func usable() int {
	set, err := processMask()
	if err != nil {
		return 0
	}
	return set.Count()
}

// cpuIDs returns the kernel CPU ids in the process affinity mask, in order.
func cpuIDs() []int {
	set, err := processMask()
	if err != nil {
		return nil
	}
	n := set.Count()
	ids := make([]int, 0, n)
	for i := 0; len(ids) < n; i++ {
		if set.IsSet(i) {
			ids = append(ids, i)
		}
	}
	return ids
}

// pin maps the logical index onto the process's allowed CPUs, so index 0 is
// the first CPU available to the process rather than kernel CPU 0.
func pin(index int) error {
	ids := cpuIDs()
	if len(ids) == 0 {
		return errors.New(errors.KindUnavailable, "no CPUs in affinity mask")
	}
	if index < 0 {
		return errors.Errorf(errors.KindValidation, "invalid cpu index %d", index)
	}

	var set unix.CPUSet
	set.Set(ids[index%len(ids)])
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return errors.Wrapf(err, errors.KindPermission, "set affinity to cpu %d", ids[index%len(ids)])
	}
	return nil
}
