// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package runmode maps (transport, mode) names to topology builders and
// builds the running stage graph.
package runmode

import (
	"sync"

	"grimm.is/ipsd/internal/errors"
)

// Transport names the packet source a mode is built on.
type Transport string

// TransportNFQ is the Linux NFQUEUE transport.
const TransportNFQ Transport = "nfq"

// Builder constructs and starts a topology.
type Builder func(bc BuildContext) (*Topology, error)

// Mode is a registered topology.
type Mode struct {
	Transport   Transport `json:"transport"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Default     bool      `json:"default"`
	Build       Builder   `json:"-"`
}

type modeKey struct {
	transport Transport
	name      string
}

// Registry holds the modes known to the process. Modes are registered
// once at startup; lookups afterwards are read-only.
type Registry struct {
	mu        sync.RWMutex
	available map[Transport]bool
	modes     map[modeKey]Mode
	order     map[Transport][]string
	defaults  map[Transport]string
}

// NewRegistry creates an empty registry. Only modes of the available
// transports can be looked up; the others register but stay hidden, the
// way a build without NFQUEUE support still knows the mode names.
func NewRegistry(available ...Transport) *Registry {
	r := &Registry{
		available: make(map[Transport]bool),
		modes:     make(map[modeKey]Mode),
		order:     make(map[Transport][]string),
		defaults:  make(map[Transport]string),
	}
	for _, t := range available {
		r.available[t] = true
	}
	return r
}

// Register adds a mode. Registering the same (transport, name) twice is a
// conflict.
func (r *Registry) Register(transport Transport, name, description string, build Builder) error {
	if name == "" || build == nil {
		return errors.Errorf(errors.KindValidation, "mode %s/%q needs a name and a builder", transport, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := modeKey{transport, name}
	if _, ok := r.modes[key]; ok {
		err := errors.Errorf(errors.KindConflict, "mode %s/%s already registered", transport, name)
		return errors.Attr(errors.Attr(err, "transport", string(transport)), "mode", name)
	}
	r.modes[key] = Mode{Transport: transport, Name: name, Description: description, Build: build}
	r.order[transport] = append(r.order[transport], name)
	return nil
}

// Lookup returns the mode registered under (transport, name).
func (r *Registry) Lookup(transport Transport, name string) (Mode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modes[modeKey{transport, name}]
	if !ok || !r.available[transport] {
		return Mode{}, notFound(transport, name)
	}
	m.Default = r.defaults[transport] == name
	return m, nil
}

// SetDefault marks an already registered mode as the transport default.
func (r *Registry) SetDefault(transport Transport, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.modes[modeKey{transport, name}]; !ok {
		return notFound(transport, name)
	}
	r.defaults[transport] = name
	return nil
}

// Default returns the default mode of a transport.
func (r *Registry) Default(transport Transport) (Mode, error) {
	r.mu.RLock()
	name, ok := r.defaults[transport]
	r.mu.RUnlock()
	if !ok {
		return Mode{}, errors.Attr(errors.Errorf(errors.KindNotFound, "no default mode for transport %s", transport), "transport", string(transport))
	}
	return r.Lookup(transport, name)
}

// Modes lists the modes of an available transport in registration order.
func (r *Registry) Modes(transport Transport) []Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.available[transport] {
		return nil
	}
	out := make([]Mode, 0, len(r.order[transport]))
	for _, name := range r.order[transport] {
		m := r.modes[modeKey{transport, name}]
		m.Default = r.defaults[transport] == name
		out = append(out, m)
	}
	return out
}

// Available reports whether a transport can be used in this process.
func (r *Registry) Available(transport Transport) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available[transport]
}

func notFound(transport Transport, name string) error {
	err := errors.Errorf(errors.KindNotFound, "unknown mode %s/%s", transport, name)
	return errors.Attr(errors.Attr(err, "transport", string(transport)), "mode", name)
}
