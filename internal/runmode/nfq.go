// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package runmode

// NFQ mode names.
const (
	ModeAuto    = "auto"
	ModeAutoFp  = "autofp"
	ModeWorkers = "workers"
)

// RegisterNFQ registers the NFQUEUE modes and makes autofp the default.
func RegisterNFQ(r *Registry) error {
	modes := []struct {
		name, desc string
		build      Builder
	}{
		{ModeAuto, "Multi threaded NFQ IPS mode", BuildAuto},
		{ModeAutoFp, "Multi threaded NFQ IPS mode with respect to flow", BuildAutoFp},
		{ModeWorkers, "Multi queue NFQ IPS mode with one thread per queue", BuildWorkers},
	}
	for _, m := range modes {
		if err := r.Register(TransportNFQ, m.name, m.desc, m.build); err != nil {
			return err
		}
	}
	return r.SetDefault(TransportNFQ, ModeAutoFp)
}
