// Package engine implements the event loop that turns source adapter
// output into Core mutations: it enumerates every
// adapter at startup, then fans in their event streams, applying each
// Start/Stop under the Core's own locking.
package engine

import (
	"context"
	"sync"

	"github.com/lionelnicolas/dalidock/pkg/core"
	"github.com/lionelnicolas/dalidock/pkg/log"
	"github.com/lionelnicolas/dalidock/pkg/source"
	"github.com/lionelnicolas/dalidock/pkg/types"
)

// Engine drives Core from one or more source adapters.
type Engine struct {
	core     *core.Core
	adapters []source.Adapter
}

// New creates an Engine over the given Core and adapters. Adapter
// order doesn't matter: each is enumerated and then streamed
// independently.
func New(c *core.Core, adapters ...source.Adapter) *Engine {
	return &Engine{core: c, adapters: adapters}
}

// Run enumerates every adapter's current workloads, registers them
// with Core, then streams lifecycle events from all adapters until ctx
// is canceled. It returns once every adapter's event stream has
// closed (normally, when ctx is canceled).
func (e *Engine) Run(ctx context.Context) error {
	for _, a := range e.adapters {
		if err := e.bootstrap(ctx, a); err != nil {
			log.WithComponent("engine").Error().Err(err).Str("adapter", a.Name()).Msg("enumeration failed, continuing")
		}
	}

	var wg sync.WaitGroup
	for _, a := range e.adapters {
		a := a
		events, err := a.Events(ctx)
		if err != nil {
			log.WithComponent("engine").Error().Err(err).Str("adapter", a.Name()).Msg("failed to subscribe to events")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.consume(ctx, a.Name(), events)
		}()
	}
	wg.Wait()
	return nil
}

func (e *Engine) bootstrap(ctx context.Context, a source.Adapter) error {
	workloads, err := a.Enumerate(ctx)
	if err != nil {
		return err
	}
	for _, ws := range workloads {
		if err := e.core.Start(ctx, ws); err != nil {
			log.WithComponent("engine").Warn().Err(err).Str("source_id", ws.SourceID).Msg("failed to register workload during enumeration")
		}
	}
	return nil
}

func (e *Engine) consume(ctx context.Context, adapterName string, events <-chan types.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			e.apply(ctx, adapterName, evt)
		}
	}
}

func (e *Engine) apply(ctx context.Context, adapterName string, evt types.Event) {
	switch evt.Kind {
	case types.EventStart:
		if evt.Workload == nil {
			log.WithComponent("engine").Warn().Str("source_id", evt.SourceID).Msg("start event with no workload, ignoring")
			return
		}
		if err := e.core.Start(ctx, *evt.Workload); err != nil {
			log.WithComponent("engine").Warn().Err(err).Str("source_id", evt.SourceID).Msg("failed to apply start event")
		}
	case types.EventStop:
		if err := e.core.Stop(ctx, evt.SourceID); err != nil {
			log.WithComponent("engine").Warn().Err(err).Str("source_id", evt.SourceID).Msg("failed to apply stop event")
		}
	default:
		log.WithComponent("engine").Warn().Str("adapter", adapterName).Str("kind", string(evt.Kind)).Msg("unknown event kind")
	}
}
