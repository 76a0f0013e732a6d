// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package cpu

import "grimm.is/ipsd/internal/errors"

// PinSupported reports whether Pin can restrict thread affinity.
const PinSupported = false

func usable() int { return 0 }

func pin(index int) error {
	return errors.New(errors.KindUnavailable, "cpu pinning is only supported on Linux")
}
