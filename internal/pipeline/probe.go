// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import "sync/atomic"

// ActiveCounter counts stages whose Run loop is executing. A nil counter
// is valid and always reports zero.
type ActiveCounter struct {
	n atomic.Int64
}

// Active returns the number of running stages.
func (c *ActiveCounter) Active() int {
	if c == nil {
		return 0
	}
	return int(c.n.Load())
}

func (c *ActiveCounter) inc() {
	if c != nil {
		c.n.Add(1)
	}
}

func (c *ActiveCounter) dec() {
	if c != nil {
		c.n.Add(-1)
	}
}
