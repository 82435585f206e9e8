package reconcile

import (
    "context"
    "errors"
    "io"
    "log"
    "sort"
    "sync"
    "sync/atomic"
    "testing"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-clustersync/pkg/metaservice"
    "github.com/amirimatin/go-clustersync/pkg/registry"
    "github.com/amirimatin/go-clustersync/pkg/topology"
)

// countingRegistry wraps the in-memory registry and counts write calls. It
// can inject a failure or a panic on one operation.
type countingRegistry struct {
    *registry.Memory
    writes  atomic.Int64
    failOn  string
    panicOn string
}

func (r *countingRegistry) hit(op string) error {
    r.writes.Add(1)
    if r.panicOn == op { panic("injected panic in " + op) }
    if r.failOn == op { return errors.New("injected failure in " + op) }
    return nil
}

func (r *countingRegistry) MutateNodes(id string, toAdd, toDel []*registry.Node) error {
    if err := r.hit("MutateNodes"); err != nil { return err }
    return r.Memory.MutateNodes(id, toAdd, toDel)
}

func (r *countingRegistry) DropGroup(id, name string) error {
    if err := r.hit("DropGroup"); err != nil { return err }
    return r.Memory.DropGroup(id, name)
}

func (r *countingRegistry) UpdateNameMapping(newName, oldName, id string) error {
    if err := r.hit("UpdateNameMapping"); err != nil { return err }
    return r.Memory.UpdateNameMapping(newName, oldName, id)
}

func (r *countingRegistry) SetGroupLabel(id, k, v string) ([]*registry.Node, error) {
    if err := r.hit("SetGroupLabel"); err != nil { return nil, err }
    return r.Memory.SetGroupLabel(id, k, v)
}

func (r *countingRegistry) SetDecommissioned(id int64, v bool) (*registry.Node, bool) {
    _ = r.hit("SetDecommissioned")
    return r.Memory.SetDecommissioned(id, v)
}

func (r *countingRegistry) RemoveGroup(id string) bool {
    _ = r.hit("RemoveGroup")
    return r.Memory.RemoveGroup(id)
}

func (r *countingRegistry) RemoveNameMapping(name string) bool {
    _ = r.hit("RemoveNameMapping")
    return r.Memory.RemoveNameMapping(name)
}

type recordingLog struct {
    mu    sync.Mutex
    nodes []*registry.Node
    err   error
}

func (l *recordingLog) LogModifyNode(_ context.Context, n *registry.Node) error {
    l.mu.Lock()
    defer l.mu.Unlock()
    l.nodes = append(l.nodes, n.Clone())
    return l.err
}

func (l *recordingLog) count() int {
    l.mu.Lock()
    defer l.mu.Unlock()
    return len(l.nodes)
}

type recordingDecommissioner struct {
    mu    sync.Mutex
    nodes []int64
    err   error
}

func (d *recordingDecommissioner) RegisterWatershedTxn(_ context.Context, n *registry.Node) error {
    d.mu.Lock()
    defer d.mu.Unlock()
    d.nodes = append(d.nodes, n.ID)
    return d.err
}

type publishedNode struct {
    group, name, addr string
    alive             bool
}

// recordingPublisher keeps the nodes and totals of the last flushed round.
type recordingPublisher struct {
    flushes       int
    nodes         []publishedNode
    totals        map[string]int
    pendingNodes  []publishedNode
    pendingTotals map[string]int
}

func (p *recordingPublisher) PublishNode(groupID, groupName, address string, alive bool) {
    p.pendingNodes = append(p.pendingNodes, publishedNode{groupID, groupName, address, alive})
}

func (p *recordingPublisher) PublishGroup(groupID, _ string, aliveTotal int) {
    if p.pendingTotals == nil { p.pendingTotals = map[string]int{} }
    p.pendingTotals[groupID] = aliveTotal
}

func (p *recordingPublisher) Flush() {
    p.flushes++
    p.nodes, p.pendingNodes = p.pendingNodes, nil
    p.totals, p.pendingTotals = p.pendingTotals, nil
    if p.totals == nil { p.totals = map[string]int{} }
}

type harness struct {
    mem  *registry.Memory
    reg  *countingRegistry
    src  *metaservice.Static
    elog *recordingLog
    dec  *recordingDecommissioner
    pub  *recordingPublisher
    chk  *Checker
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newHarness(t *testing.T, snap *topology.Snapshot, mods ...func(*Options)) *harness {
    t.Helper()
    h := &harness{
        mem:  registry.NewMemory(),
        src:  metaservice.NewStatic(snap),
        elog: &recordingLog{},
        dec:  &recordingDecommissioner{},
        pub:  &recordingPublisher{},
    }
    h.reg = &countingRegistry{Memory: h.mem}
    opts := Options{
        Registry:       h.reg,
        IDs:            registry.NewSequence(0),
        Snapshots:      h.src,
        EditLog:        h.elog,
        Decommissioner: h.dec,
        Metrics:        h.pub,
        Logger:         quietLogger(),
    }
    for _, m := range mods { m(&opts) }
    chk, err := New(opts)
    require.NoError(t, err)
    h.chk = chk
    return h
}

// run executes one cycle and returns the result with the registry write
// count of that cycle.
func (h *harness) run(t *testing.T) (Result, int64) {
    t.Helper()
    before := h.reg.writes.Load()
    res, err := h.chk.Run(context.Background())
    require.NoError(t, err)
    return res, h.reg.writes.Load() - before
}

func node(ip string, port int) topology.NodeDescriptor {
    return topology.NodeDescriptor{Host: "host-" + ip, IP: ip, HeartbeatPort: port, UniqueID: "uid-" + ip}
}

func group(id, name string, nodes ...topology.NodeDescriptor) topology.GroupDescriptor {
    return topology.GroupDescriptor{ID: id, Name: name, Kind: topology.KindCompute, Nodes: nodes,
        PublicEndpoint: "pub-" + id, PrivateEndpoint: "priv-" + id}
}

func okSnapshot(groups ...topology.GroupDescriptor) *topology.Snapshot {
    return &topology.Snapshot{Status: &topology.ResponseStatus{Code: topology.CodeOK}, Groups: groups}
}

func addrsOf(nodes []*registry.Node) []string {
    out := addresses(nodes)
    sort.Strings(out)
    return out
}

// requireInvariants checks that the three registry indices agree.
func requireInvariants(t *testing.T, mem *registry.Memory) {
    t.Helper()
    groups := mem.GroupNodes()
    names := mem.NameToID()

    primary := map[string]struct{}{}
    labelNames := map[string]struct{}{}
    for id, nodes := range groups {
        require.NotEmpty(t, nodes, "group %s has no nodes", id)
        primary[id] = struct{}{}
        for _, n := range nodes {
            require.Equal(t, id, n.GroupID(), "node %d carries a foreign group id", n.ID)
            labelNames[n.GroupName()] = struct{}{}
        }
    }
    mapped := map[string]struct{}{}
    nameKeys := map[string]struct{}{}
    for name, id := range names {
        mapped[id] = struct{}{}
        nameKeys[name] = struct{}{}
    }
    require.Equal(t, primary, mapped, "primary ids vs name index values")
    require.Equal(t, nameKeys, labelNames, "name index keys vs node labels")
}
