// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package runmode

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/pipeline"
)

// Topology is a running stage graph.
type Topology struct {
	ID   string
	Mode string

	stages []*pipeline.Stage
	probe  *pipeline.ActiveCounter
	logger *logging.Logger

	cancel context.CancelFunc
	done   chan struct{}
	err    error

	shutdownOnce sync.Once
	shutdownErr  error
}

func newTopology(mode string, stages []*pipeline.Stage, probe *pipeline.ActiveCounter, logger *logging.Logger) *Topology {
	id := uuid.New().String()
	return &Topology{
		ID:     id,
		Mode:   mode,
		stages: stages,
		probe:  probe,
		logger: logger.With("topology", id),
		done:   make(chan struct{}),
	}
}

// start runs every stage under one errgroup. A stage failing cancels the
// others.
func (t *Topology) start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range t.stages {
		g.Go(func() error {
			if err := s.Run(gctx); err != nil {
				return errors.Attr(err, "stage", s.Name())
			}
			return nil
		})
	}

	go func() {
		t.err = g.Wait()
		cancel()
		close(t.done)
	}()
}

// Stages describes every stage of the topology.
func (t *Topology) Stages() []pipeline.StageInfo {
	out := make([]pipeline.StageInfo, 0, len(t.stages))
	for _, s := range t.stages {
		out = append(out, s.Info())
	}
	return out
}

// ActiveStages returns the number of stage loops still running. It is 0
// when the topology was built without a probe.
func (t *Topology) ActiveStages() int {
	return t.probe.Active()
}

// Done is closed once every stage has exited.
func (t *Topology) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until every stage has exited and returns the first stage
// error, if any.
func (t *Topology) Wait() error {
	<-t.done
	return t.err
}

// Shutdown stops the Receive stages and waits for the rest of the graph
// to drain, so every packet already received still gets its verdict.
// Packets a queue buffered but no stage had received yet are drained into
// the graph as well (see queue.Drainer). If ctx ends first, the remaining
// stages are cancelled and in-flight packets are abandoned to the queue's
// fail-open policy. Queues are closed last.
func (t *Topology) Shutdown(ctx context.Context) error {
	t.shutdownOnce.Do(func() {
		t.shutdownErr = t.shutdown(ctx)
	})
	return t.shutdownErr
}

func (t *Topology) shutdown(ctx context.Context) error {
	t.logger.Info("Topology shutting down")
	for _, s := range t.stages {
		if s.Role() == pipeline.RoleReceive {
			s.Stop()
		}
	}

	var errs []error
	select {
	case <-t.done:
	case <-ctx.Done():
		t.logger.Warn("Drain timed out, cancelling stages")
		t.cancel()
		<-t.done
		errs = append(errs, errors.Wrap(ctx.Err(), errors.KindTimeout, "topology drain"))
	}
	if t.err != nil {
		errs = append(errs, t.err)
	}

	for _, s := range t.stages {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errors.KindInternal, "topology shutdown", errs...)
	if len(errs) == 1 {
		err = errs[0]
	}
	t.logger.Info("Topology stopped")
	return err
}
