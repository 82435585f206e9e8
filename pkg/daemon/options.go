package daemon

import (
    "context"
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/consensus"
    "github.com/amirimatin/go-clustersync/pkg/reconcile"
    "github.com/amirimatin/go-clustersync/pkg/registry"
)

// Runner runs reconciliation cycles; *reconcile.Checker implements it.
type Runner interface {
    Run(ctx context.Context) (reconcile.Result, error)
    Phase() reconcile.Phase
    Last() (reconcile.Result, bool)
    LastErr() error
}

// LivenessSyncer refreshes the Alive flags of registered nodes;
// *liveness.Tracker implements it.
type LivenessSyncer interface {
    Sync() int
}

// Imager dumps the registry; *registry.Memory implements it.
type Imager interface {
    Image() registry.Image
}

// Options wires the daemon. Only Checker is required.
type Options struct {
    Checker  Runner
    Interval time.Duration

    // Consensus, when set, gates cycles: only the leader runs them.
    Consensus consensus.Consensus
    // Liveness, when set, is synced before every cycle so published
    // metrics see fresh Alive flags.
    Liveness LivenessSyncer
    // Registry, when set, backs the registry dump endpoint.
    Registry Imager

    // RunOnStart runs the first cycle right away instead of after one
    // interval.
    RunOnStart bool

    Logger *log.Logger
}

const DefaultInterval = 10 * time.Second

func (o Options) Validate() error {
    if o.Checker == nil { return errors.New("daemon: nil Checker") }
    if o.Interval < 0 { return errors.New("daemon: negative Interval") }
    return nil
}
