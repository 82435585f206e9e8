// Package metaservice defines how the reconciler obtains topology snapshots
// from the remote metadata authority, plus two local sources used for
// development and tests. The gRPC client lives in pkg/transport/grpc.
package metaservice

import (
    "context"
    "errors"
    "sync"

    "github.com/amirimatin/go-clustersync/pkg/topology"
)

// Client fetches a topology snapshot. A transport failure is an error; a
// non-OK answer is returned as a snapshot carrying its status code.
type Client interface {
    GetCluster(ctx context.Context, f topology.Filter) (*topology.Snapshot, error)
}

// ErrNoSnapshot is returned by sources that have nothing to serve yet.
var ErrNoSnapshot = errors.New("metaservice: no snapshot")

// Static serves a snapshot held in memory. It is safe for concurrent use;
// Set swaps the snapshot between cycles.
type Static struct {
    mu   sync.RWMutex
    snap *topology.Snapshot
    err  error
}

func NewStatic(s *topology.Snapshot) *Static { return &Static{snap: s} }

// Set replaces the served snapshot and clears any injected error.
func (s *Static) Set(snap *topology.Snapshot) {
    s.mu.Lock(); defer s.mu.Unlock()
    s.snap, s.err = snap, nil
}

// Fail makes every subsequent call return err until the next Set.
func (s *Static) Fail(err error) {
    s.mu.Lock(); defer s.mu.Unlock()
    s.err = err
}

func (s *Static) GetCluster(ctx context.Context, f topology.Filter) (*topology.Snapshot, error) {
    if err := ctx.Err(); err != nil { return nil, err }
    s.mu.RLock(); defer s.mu.RUnlock()
    if s.err != nil { return nil, s.err }
    if s.snap == nil { return nil, ErrNoSnapshot }
    return Select(s.snap, f), nil
}

// Select applies a filter to a full snapshot the way the meta service does:
// an empty filter returns every group; otherwise the groups matching the id
// or the name are returned, and CLUSTER_NOT_FOUND when none match.
func Select(s *topology.Snapshot, f topology.Filter) *topology.Snapshot {
    out := &topology.Snapshot{Status: s.Status}
    if f.GroupID == "" && f.GroupName == "" {
        out.Groups = append(out.Groups, s.Groups...)
        return out
    }
    if s.Code() != topology.CodeOK {
        return out
    }
    for _, g := range s.Groups {
        if (f.GroupID != "" && g.ID == f.GroupID) || (f.GroupID == "" && g.Name == f.GroupName) {
            out.Groups = append(out.Groups, g)
        }
    }
    if len(out.Groups) == 0 {
        out.Status = &topology.ResponseStatus{Code: topology.CodeClusterNotFound, Message: "no cluster matches filter"}
    }
    return out
}

var _ Client = (*Static)(nil)
