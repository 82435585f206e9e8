// Package membership abstracts the gossip layer worker nodes announce
// themselves on. The reconciler joins it as a passive member and derives node
// liveness from it (see pkg/liveness).
package membership

import (
    "context"
    "time"
)

// Meta keys a worker publishes with its gossip identity.
const (
    // MetaHeartbeat is the host:heartbeatPort the worker is registered under.
    MetaHeartbeat = "heartbeat"
    // MetaRole is "worker" for data nodes and "observer" for reconcilers.
    MetaRole = "role"
)

// Roles carried in MetaRole.
const (
    RoleWorker   = "worker"
    RoleObserver = "observer"
)

// MemberInfo describes a gossip member.
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

// Heartbeat returns the registry address the member announces, or "".
func (m MemberInfo) Heartbeat() string { return m.Meta[MetaHeartbeat] }

type EventType string

const (
    // EventJoin indicates a member joined or became visible.
    EventJoin EventType = "join"
    // EventUpdate indicates a member changed its metadata.
    EventUpdate EventType = "update"
    // EventLeave indicates a member left or was declared dead.
    EventLeave EventType = "leave"
)

// Event is the translated membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the gossip layer as seen by the liveness tracker.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}

// HealthReporter is implemented by gossip layers that score their own view
// of the network. Zero is healthy, higher is worse, -1 means not started.
type HealthReporter interface {
    HealthScore() int
}

// Degraded reports whether m scores at or above limit. Layers without a
// score never count as degraded.
func Degraded(m Membership, limit int) bool {
    h, ok := m.(HealthReporter)
    return ok && h.HealthScore() >= limit
}
