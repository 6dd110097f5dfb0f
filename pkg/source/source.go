// Package source defines the uniform capability every workload source
// adapter exposes to the event loop: enumerate what's running now,
// then stream Start/Stop events.
package source

import (
	"context"

	"github.com/lionelnicolas/dalidock/pkg/types"
)

// Adapter is satisfied by both the container and the VM source. Each
// adapter is optional: when its underlying socket doesn't exist, it
// becomes a no-op that still satisfies this interface (Enumerate
// returns nothing, Events never fires).
type Adapter interface {
	// Name identifies the adapter for logs and metrics ("container" or "vm").
	Name() string
	// Enumerate lists every workload currently running.
	Enumerate(ctx context.Context) ([]types.Workload, error)
	// Events streams lifecycle events until ctx is canceled. It must
	// only be called once per adapter instance.
	Events(ctx context.Context) (<-chan types.Event, error)
}

// Noop is the Adapter used when a source's backing socket is absent;
// this must not prevent the daemon from starting.
type Noop struct {
	name string
}

// NewNoop returns a no-op Adapter identifying itself as name.
func NewNoop(name string) *Noop {
	return &Noop{name: name}
}

func (n *Noop) Name() string { return n.name }

func (n *Noop) Enumerate(ctx context.Context) ([]types.Workload, error) {
	return nil, nil
}

func (n *Noop) Events(ctx context.Context) (<-chan types.Event, error) {
	return make(chan types.Event), nil
}
