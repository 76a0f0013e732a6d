// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import "fmt"

// Role is the job of a pipeline stage.
type Role int

const (
	RoleReceive Role = iota
	RoleDecode
	RoleStreamTrack
	RoleDetect
	RoleVerdict
	RoleRespond
	RoleOutput
)

// Roles lists every role in packet order.
var Roles = []Role{
	RoleReceive,
	RoleDecode,
	RoleStreamTrack,
	RoleDetect,
	RoleVerdict,
	RoleRespond,
	RoleOutput,
}

func (r Role) String() string {
	switch r {
	case RoleReceive:
		return "receive"
	case RoleDecode:
		return "decode"
	case RoleStreamTrack:
		return "stream"
	case RoleDetect:
		return "detect"
	case RoleVerdict:
		return "verdict"
	case RoleRespond:
		return "respond"
	case RoleOutput:
		return "output"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r >= RoleReceive && r <= RoleOutput
}
