package editlog

import (
    "context"
    "encoding/json"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/consensus"
    "github.com/amirimatin/go-clustersync/pkg/observability/metrics"
    "github.com/amirimatin/go-clustersync/pkg/registry"
)

// DefaultRaftTimeout bounds an apply when Timeout is unset.
const DefaultRaftTimeout = 5 * time.Second

// Raft writes records through a consensus engine. Only the leader can write;
// followers receive them through the FSM.
type Raft struct {
    C       consensus.Consensus
    Timeout time.Duration
}

func (r *Raft) LogModifyNode(ctx context.Context, n *registry.Node) error {
    payload, err := json.Marshal(Record{Op: OpModifyNode, Node: n, At: time.Now().UTC()})
    if err != nil { return err }
    t := r.Timeout
    if t <= 0 { t = DefaultRaftTimeout }
    if dl, ok := ctx.Deadline(); ok {
        rem := time.Until(dl)
        if rem <= 0 {
            observe("raft", context.DeadlineExceeded)
            return context.DeadlineExceeded
        }
        if rem < t { t = rem }
    }
    err = r.C.Apply(consensus.Command{Op: OpModifyNode, Payload: payload}, t)
    observe("raft", err)
    return err
}

func observe(backend string, err error) {
    res := "ok"
    if err != nil { res = "error" }
    metrics.EditLogWrites.WithLabelValues(backend, res).Inc()
}

var _ Log = (*Raft)(nil)
