package editlog

import (
    "encoding/json"
    "fmt"
    "sort"
    "sync"

    "github.com/amirimatin/go-clustersync/pkg/registry"
)

// State is the replicated side of the edit log: whatever consumes the records
// on followers.
type State interface {
    ApplyModifyNode(n *registry.Node) error
    Snapshot() ([]byte, error)
    Restore(buf []byte) error
}

// Replica keeps the last modification seen for every node id.
type Replica struct {
    mu      sync.RWMutex
    nodes   map[int64]*registry.Node
    applied uint64
}

func NewReplica() *Replica { return &Replica{nodes: make(map[int64]*registry.Node)} }

func (r *Replica) ApplyModifyNode(n *registry.Node) error {
    if n == nil || n.ID == 0 { return fmt.Errorf("editlog: node without id") }
    r.mu.Lock(); defer r.mu.Unlock()
    r.nodes[n.ID] = n.Clone()
    r.applied++
    return nil
}

// Node returns a copy of the last modification recorded for id.
func (r *Replica) Node(id int64) (*registry.Node, bool) {
    r.mu.RLock(); defer r.mu.RUnlock()
    n, ok := r.nodes[id]
    if !ok { return nil, false }
    return n.Clone(), true
}

// Applied returns the number of records applied since start or restore.
func (r *Replica) Applied() uint64 {
    r.mu.RLock(); defer r.mu.RUnlock()
    return r.applied
}

// MaxID returns the highest node id ever recorded, 0 when empty.
func (r *Replica) MaxID() int64 {
    r.mu.RLock(); defer r.mu.RUnlock()
    var max int64
    for id := range r.nodes {
        if id > max { max = id }
    }
    return max
}

type replicaImage struct {
    Version int              `json:"version"`
    Applied uint64           `json:"applied"`
    Nodes   []*registry.Node `json:"nodes"`
}

// Snapshot encodes state as a stable JSON for ease of debugging/migration.
func (r *Replica) Snapshot() ([]byte, error) {
    r.mu.RLock(); defer r.mu.RUnlock()
    arr := make([]*registry.Node, 0, len(r.nodes))
    for _, v := range r.nodes { arr = append(arr, v) }
    sort.Slice(arr, func(i, j int) bool { return arr[i].ID < arr[j].ID })
    return json.Marshal(replicaImage{Version: 1, Applied: r.applied, Nodes: arr})
}

func (r *Replica) Restore(buf []byte) error {
    var img replicaImage
    if err := json.Unmarshal(buf, &img); err != nil { return err }
    if img.Version != 1 { return fmt.Errorf("editlog: unsupported snapshot version %d", img.Version) }
    r.mu.Lock(); defer r.mu.Unlock()
    r.nodes = make(map[int64]*registry.Node, len(img.Nodes))
    for _, n := range img.Nodes {
        if n == nil || n.ID == 0 { continue }
        r.nodes[n.ID] = n
    }
    r.applied = img.Applied
    return nil
}

var _ State = (*Replica)(nil)
