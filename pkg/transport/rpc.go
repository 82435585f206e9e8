package transport

import (
    "context"

    "github.com/amirimatin/go-clustersync/pkg/topology"
)

// GetClusterRequest selects groups on the meta service. Both fields empty
// selects every group.
type GetClusterRequest struct {
    GroupName string `json:"cluster_name,omitempty"`
    GroupID   string `json:"cluster_id,omitempty"`
}

// Filter converts the request into a topology filter.
func (r GetClusterRequest) Filter() topology.Filter {
    return topology.Filter{GroupName: r.GroupName, GroupID: r.GroupID}
}

// SnapshotFunc answers a meta-service request.
type SnapshotFunc func(ctx context.Context, f topology.Filter) (*topology.Snapshot, error)

// StatusFunc returns a JSON-encoded payload for a management endpoint.
// Using []byte keeps this package free of daemon types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// TriggerFunc runs one reconciliation cycle on demand and returns its
// JSON-encoded result.
type TriggerFunc func(ctx context.Context) ([]byte, error)

// Handlers are the callbacks behind the management endpoints. Nil handlers
// answer 501.
type Handlers struct {
    Status   StatusFunc
    Registry StatusFunc
    Trigger  TriggerFunc
    // Healthy reports readiness for /healthz; nil means always healthy.
    Healthy func() bool
}

// Bound is a server that knows the address it listens on. A server started
// on port 0 reports the port it was given.
type Bound interface {
    Addr() string
}

// MetaServer serves topology snapshots to reconcilers.
type MetaServer interface {
    Bound
    Start(ctx context.Context, snap SnapshotFunc) error
    Stop(ctx context.Context) error
}

// ManagementServer exposes status, registry dump, trigger, health and
// metrics endpoints of a running daemon.
type ManagementServer interface {
    Bound
    Start(ctx context.Context, h Handlers) error
    Stop(ctx context.Context) error
}

// ManagementClient talks to a ManagementServer.
type ManagementClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    GetRegistry(ctx context.Context, addr string) ([]byte, error)
    PostTrigger(ctx context.Context, addr string) ([]byte, error)
}
