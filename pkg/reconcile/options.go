package reconcile

import (
    "context"
    "errors"
    "log"

    "github.com/amirimatin/go-clustersync/pkg/editlog"
    "github.com/amirimatin/go-clustersync/pkg/endpoint"
    "github.com/amirimatin/go-clustersync/pkg/metaservice"
    "github.com/amirimatin/go-clustersync/pkg/registry"
    "github.com/amirimatin/go-clustersync/pkg/topology"
)

// Decommissioner receives nodes that just entered decommissioning so that a
// watershed transaction can be registered for them.
type Decommissioner interface {
    RegisterWatershedTxn(ctx context.Context, n *registry.Node) error
}

// NopDecommissioner accepts every node and does nothing.
type NopDecommissioner struct{}

func (NopDecommissioner) RegisterWatershedTxn(context.Context, *registry.Node) error { return nil }

// MetricsPublisher exports per-node liveness after each cycle. Best effort.
// Flush ends a round: series not published since the previous Flush are
// removed.
type MetricsPublisher interface {
    PublishNode(groupID, groupName, address string, alive bool)
    PublishGroup(groupID, groupName string, aliveTotal int)
    Flush()
}

// LivenessSyncer refreshes the Alive flags of registered nodes. It runs
// right before metrics are published so nodes added by the cycle carry
// their current state.
type LivenessSyncer interface {
    Sync() int
}

// Options carries the collaborators of a Checker. Registry, IDs and
// Snapshots are required.
type Options struct {
    Registry registry.Registry
    // Observers is the control-plane pool. Nil disables the observer phase.
    Observers registry.Observers
    // ObserverFilter selects the control-plane group in the observer fetch.
    ObserverFilter topology.Filter

    IDs       registry.IDAllocator
    Snapshots metaservice.Client

    // EditLog defaults to editlog.Discard.
    EditLog editlog.Log
    // Decommissioner defaults to NopDecommissioner.
    Decommissioner Decommissioner
    // Metrics is optional.
    Metrics MetricsPublisher
    // Liveness is optional.
    Liveness LivenessSyncer

    // Mode selects the address field used to identify nodes.
    Mode endpoint.Mode
    // Parallelism bounds concurrent per-group content reconciliation.
    // Values below 1 mean sequential.
    Parallelism int

    Logger *log.Logger
}

func (o Options) Validate() error {
    if o.Registry == nil {
        return errors.New("reconcile: nil Registry")
    }
    if o.IDs == nil {
        return errors.New("reconcile: nil IDs")
    }
    if o.Snapshots == nil {
        return errors.New("reconcile: nil Snapshots")
    }
    return nil
}

func (o *Options) defaults() {
    if o.EditLog == nil { o.EditLog = editlog.Discard{} }
    if o.Decommissioner == nil { o.Decommissioner = NopDecommissioner{} }
    if o.Parallelism < 1 { o.Parallelism = 1 }
    if o.Logger == nil { o.Logger = log.Default() }
}
