// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"context"
	"reflect"

	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/metrics"
)

// Factory materializes stages. Stages are created idle; nothing runs
// until the caller invokes Stage.Run.
type Factory struct {
	logger  *logging.Logger
	metrics *metrics.Metrics
	probe   *ActiveCounter
}

// NewFactory creates a stage factory. metrics and probe may be nil.
func NewFactory(logger *logging.Logger, m *metrics.Metrics, probe *ActiveCounter) *Factory {
	if logger == nil {
		logger = logging.WithComponent("pipeline")
	}
	return &Factory{logger: logger, metrics: m, probe: probe}
}

// Create validates spec against the role contract and returns an idle
// stage attached as a producer to its outputs. Validation failures are
// KindStageInit errors carrying "stage" and "role" attributes.
func (f *Factory) Create(spec StageSpec, c Collaborators) (*Stage, error) {
	name := StageName(spec)
	if err := validate(spec, c); err != nil {
		err = errors.Attr(err, "stage", name)
		return nil, errors.Attr(err, "role", spec.Role.String())
	}

	for _, out := range spec.Outputs {
		out.attach()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Stage{
		spec:       spec,
		collab:     c,
		name:       name,
		logger:     f.logger.With("stage", name, "role", spec.Role.String()),
		metrics:    f.metrics,
		probe:      f.probe,
		recvCtx:    ctx,
		recvCancel: cancel,
	}
	return s, nil
}

func validate(spec StageSpec, c Collaborators) error {
	if !spec.Role.Valid() {
		return errors.Errorf(errors.KindStageInit, "unknown stage role %d", int(spec.Role))
	}
	if spec.CPU < 0 {
		return errors.Errorf(errors.KindStageInit, "%s: invalid cpu %d", spec.Role, spec.CPU)
	}

	if spec.Role == RoleReceive {
		if spec.Input != nil {
			return errors.New(errors.KindStageInit, "receive: stage takes no input channel")
		}
	} else if spec.Input == nil {
		return errors.Errorf(errors.KindStageInit, "%s: missing input channel", spec.Role)
	}
	if spec.Role != RoleOutput && len(spec.Outputs) == 0 {
		return errors.Errorf(errors.KindStageInit, "%s: missing output channel", spec.Role)
	}
	for i, out := range spec.Outputs {
		if out == nil {
			return errors.Errorf(errors.KindStageInit, "%s: output %d is nil", spec.Role, i)
		}
	}

	var missing string
	switch spec.Role {
	case RoleReceive:
		if isNil(c.Queue) {
			missing = "queue"
		}
	case RoleDecode:
		if isNil(c.Decoder) {
			missing = "decoder"
		}
	case RoleStreamTrack:
		if isNil(c.Tracker) {
			missing = "stream tracker"
		}
	case RoleDetect:
		if isNil(c.Engine) {
			missing = "detect engine"
		}
	case RoleRespond:
		if isNil(c.Responder) {
			missing = "responder"
		}
	case RoleOutput:
		if isNil(c.Output) {
			missing = "output writer"
		}
	}
	if missing != "" {
		return errors.Errorf(errors.KindStageInit, "%s: no %s", spec.Role, missing)
	}
	return nil
}

// isNil reports whether v is nil or an interface holding a nil pointer,
// which would otherwise pass the check and panic on first use.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
