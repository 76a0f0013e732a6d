// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cpu discovers usable CPUs and pins threads to them.
// On Linux it uses sched_getaffinity/sched_setaffinity; elsewhere pinning
// is unsupported and Usable falls back to runtime.NumCPU.
package cpu

import "runtime"

// Usable returns the number of CPUs this process may run on. Never below 1.
func Usable() int {
	n := usable()
	if n < 1 {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Resolve returns requested if positive, otherwise the usable CPU count.
func Resolve(requested int) int {
	if requested > 0 {
		return requested
	}
	return Usable()
}

// Pin locks the calling goroutine to its OS thread and restricts that
// thread to the given CPU. The goroutine stays locked until it exits.
func Pin(index int) error {
	runtime.LockOSThread()
	return pin(index)
}
