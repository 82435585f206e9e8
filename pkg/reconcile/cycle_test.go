package reconcile

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-clustersync/pkg/endpoint"
    "github.com/amirimatin/go-clustersync/pkg/registry"
    "github.com/amirimatin/go-clustersync/pkg/topology"
)

func TestCycle_GroupLifecycle(t *testing.T) {
    h := newHarness(t, okSnapshot(group("g1", "alpha", node("10.0.0.1", 9050), node("10.0.0.2", 9050))))

    res, writes := h.run(t)
    assert.Equal(t, []string{"g1"}, res.GroupsAdded)
    assert.Equal(t, 2, res.NodesAdded)
    assert.Equal(t, int64(1), writes, "one bulk add for the new group")

    nodes := h.mem.GroupNodes()["g1"]
    require.Len(t, nodes, 2)
    assert.Equal(t, []string{"10.0.0.1:9050", "10.0.0.2:9050"}, addrsOf(nodes))
    assert.NotEqual(t, nodes[0].ID, nodes[1].ID)
    for _, n := range nodes {
        assert.Positive(t, n.ID)
        assert.Equal(t, "alpha", n.GroupName())
        assert.Equal(t, "g1", n.GroupID())
        assert.Equal(t, "pub-g1", n.PublicEndpoint())
        assert.Equal(t, "priv-g1", n.PrivateEndpoint())
        assert.Equal(t, string(topology.StatusNormal), n.GroupStatus())
        assert.Equal(t, registry.DefaultLocation, n.Tags[registry.TagLocation])
        assert.Equal(t, "uid-"+n.Host, n.UniqueID())
    }
    assert.Equal(t, map[string]string{"alpha": "g1"}, h.mem.NameToID())
    requireInvariants(t, h.mem)

    // unchanged snapshot: nothing to do
    res, writes = h.run(t)
    assert.Zero(t, writes)
    assert.Zero(t, res.Mutations)
    assert.Zero(t, h.elog.count())
}

func TestCycle_GroupDrop(t *testing.T) {
    h := newHarness(t, okSnapshot())
    n := &registry.Node{ID: 40, Host: "10.0.0.9", HeartbeatPort: 9050, Tags: groupTags(group("g2", "beta"))}
    require.NoError(t, h.mem.MutateNodes("g2", []*registry.Node{n}, nil))

    res, _ := h.run(t)
    assert.Equal(t, []string{"g2"}, res.GroupsDropped)
    assert.Equal(t, 1, res.NodesRemoved)
    assert.Empty(t, h.mem.GroupNodes())
    assert.Empty(t, h.mem.NameToID())
    assert.True(t, res.Audit.Clean())
}

func TestCycle_ClusterNotFoundDropsEverything(t *testing.T) {
    h := newHarness(t, okSnapshot(group("g1", "alpha", node("10.0.0.1", 9050))))
    h.run(t)
    require.Len(t, h.mem.GroupNodes(), 1)

    h.src.Set(&topology.Snapshot{Status: &topology.ResponseStatus{Code: topology.CodeClusterNotFound}})
    res, _ := h.run(t)
    assert.Equal(t, []string{"g1"}, res.GroupsDropped)
    assert.Empty(t, h.mem.GroupNodes())
    assert.Empty(t, h.mem.NameToID())
}

func TestCycle_DropWithoutNameMapping(t *testing.T) {
    h := newHarness(t, okSnapshot())
    h.mem.Restore(registry.Image{Groups: map[string][]*registry.Node{
        "g9": {{ID: 1, Host: "10.0.0.1", HeartbeatPort: 9050, Tags: groupTags(group("g9", ""))}},
    }})

    res, _ := h.run(t)
    assert.Equal(t, []string{"g9"}, res.GroupsDropped)
    assert.Empty(t, h.mem.GroupNodes())
    assert.Positive(t, res.Warnings)
}

func TestCycle_SnapshotFailureIsNoop(t *testing.T) {
    h := newHarness(t, okSnapshot(group("g1", "alpha", node("10.0.0.1", 9050))))
    h.run(t)
    before := h.mem.Image()
    writes := h.reg.writes.Load()

    h.src.Fail(errors.New("connection refused"))
    _, err := h.chk.Run(context.Background())
    require.ErrorIs(t, err, ErrSnapshot)

    for _, code := range []topology.Code{topology.CodeInternalError, topology.CodeInvalidArgument, ""} {
        h.src.Set(&topology.Snapshot{Status: &topology.ResponseStatus{Code: code}})
        _, err = h.chk.Run(context.Background())
        require.ErrorIs(t, err, ErrSnapshot, "code %q", code)
        var ce *CycleError
        assert.False(t, errors.As(err, &ce))
    }
    h.src.Set(&topology.Snapshot{})
    _, err = h.chk.Run(context.Background())
    require.ErrorIs(t, err, ErrSnapshot, "missing status block")

    assert.Equal(t, writes, h.reg.writes.Load())
    assert.Equal(t, before, h.mem.Image())
    assert.Equal(t, PhaseIdle, h.chk.Phase())
}

func TestCycle_RemoteFiltering(t *testing.T) {
    sql := group("fe", "sql", node("10.1.0.1", 9050))
    sql.Kind = topology.KindSQL
    noID := group("", "nameless", node("10.2.0.1", 9050))
    first := group("g1", "old", node("10.0.0.1", 9050))
    second := group("g1", "alpha", node("10.0.0.2", 9050))
    empty := group("g2", "empty")
    h := newHarness(t, okSnapshot(sql, noID, first, second, empty))

    res, _ := h.run(t)
    assert.Equal(t, 1, res.RemoteGroups)
    assert.Equal(t, []string{"g1"}, res.GroupsAdded)
    nodes := h.mem.GroupNodes()["g1"]
    assert.Equal(t, []string{"10.0.0.2:9050"}, addrsOf(nodes), "last duplicate wins")
    assert.Equal(t, map[string]string{"alpha": "g1"}, h.mem.NameToID())
    assert.GreaterOrEqual(t, res.Warnings, 3)
    requireInvariants(t, h.mem)
}

func TestCycle_UnresolvableNodesExcluded(t *testing.T) {
    noIP := node("", 9050)
    noIP.Host = "fqdn-only"
    h := newHarness(t, okSnapshot(group("g1", "alpha", node("10.0.0.1", 9050), noIP)))

    res, _ := h.run(t)
    assert.Equal(t, []string{"10.0.0.1:9050"}, addrsOf(h.mem.GroupNodes()["g1"]))
    assert.Positive(t, res.Warnings)

    // the excluded node neither triggers removal nor addition later on
    _, writes := h.run(t)
    assert.Zero(t, writes)
}

func TestCycle_FQDNMode(t *testing.T) {
    h := newHarness(t, okSnapshot(group("g1", "alpha", node("10.0.0.1", 9050))), func(o *Options) {
        o.Mode = endpoint.ModeFQDN
    })
    h.run(t)
    assert.Equal(t, []string{"host-10.0.0.1:9050"}, addrsOf(h.mem.GroupNodes()["g1"]))
}

func TestCycle_PanicBecomesCycleError(t *testing.T) {
    h := newHarness(t, okSnapshot(group("g1", "alpha", node("10.0.0.1", 9050))))
    h.reg.panicOn = "MutateNodes"

    res, err := h.chk.Run(context.Background())
    var ce *CycleError
    require.ErrorAs(t, err, &ce)
    assert.Equal(t, PhaseAddGroups, ce.Phase)
    assert.Equal(t, res.CycleID, ce.CycleID)
    assert.Contains(t, ce.Error(), "injected panic")
    assert.Equal(t, PhaseIdle, h.chk.Phase())

    last, ok := h.chk.Last()
    require.True(t, ok)
    assert.Equal(t, res.CycleID, last.CycleID)
    assert.Equal(t, err, h.chk.LastErr())

    // the next tick retries from a fresh snapshot
    h.reg.panicOn = ""
    h.run(t)
    assert.Len(t, h.mem.GroupNodes()["g1"], 1)
    assert.NoError(t, h.chk.LastErr())
}

func TestCycle_ErrorInContentPhase(t *testing.T) {
    h := newHarness(t, okSnapshot(group("g1", "alpha", node("10.0.0.1", 9050))))
    h.run(t)
    h.src.Set(okSnapshot(group("g1", "renamed", node("10.0.0.1", 9050))))
    h.reg.failOn = "SetGroupLabel"

    _, err := h.chk.Run(context.Background())
    var ce *CycleError
    require.ErrorAs(t, err, &ce)
    assert.Equal(t, PhaseReconcileContent, ce.Phase)
    assert.Equal(t, map[string]string{"alpha": "g1"}, h.mem.NameToID())
}

func TestCycle_WorkerFailureStillConvergesObservers(t *testing.T) {
    self := registry.Observer{Name: "self", Host: "10.9.0.1", EditLogPort: 9010}
    pool := registry.NewObserverPool(self.Ident(), self)
    snap := okSnapshot(controlGroup(fe("10.9.0.2", 7)), group("g1", "alpha", node("10.0.0.1", 9050)))
    h := newHarness(t, snap, withObservers(pool))
    h.reg.failOn = "MutateNodes"

    res, err := h.chk.Run(context.Background())
    var ce *CycleError
    require.ErrorAs(t, err, &ce)
    assert.Equal(t, PhaseAddGroups, ce.Phase, "the worker error is reported")
    assert.Equal(t, 1, res.ObserversAdded)
    assert.Len(t, pool.List(), 2)
    assert.Equal(t, 1, h.pub.flushes, "metrics are published after a worker failure")
    assert.Zero(t, res.Audit, "the audit only runs after clean worker phases")
}

type blockingSource struct {
    entered chan struct{}
    release chan struct{}
    once    sync.Once
}

func (b *blockingSource) GetCluster(ctx context.Context, _ topology.Filter) (*topology.Snapshot, error) {
    b.once.Do(func() { close(b.entered) })
    select {
    case <-b.release:
    case <-ctx.Done():
        return nil, ctx.Err()
    }
    return okSnapshot(), nil
}

func TestCycle_NeverOverlaps(t *testing.T) {
    src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
    chk, err := New(Options{
        Registry:  registry.NewMemory(),
        IDs:       registry.NewSequence(0),
        Snapshots: src,
        Logger:    quietLogger(),
    })
    require.NoError(t, err)

    done := make(chan error, 1)
    go func() {
        _, err := chk.Run(context.Background())
        done <- err
    }()
    select {
    case <-src.entered:
    case <-time.After(2 * time.Second):
        t.Fatalf("first cycle did not start")
    }
    assert.Equal(t, PhaseFetching, chk.Phase())

    _, err = chk.Run(context.Background())
    assert.ErrorIs(t, err, ErrCycleInProgress)

    close(src.release)
    require.NoError(t, <-done)
}

func TestNew_Validates(t *testing.T) {
    _, err := New(Options{})
    assert.Error(t, err)
    _, err = New(Options{Registry: registry.NewMemory(), IDs: registry.NewSequence(0)})
    assert.Error(t, err)
}

func TestCycle_PublishesLiveness(t *testing.T) {
    h := newHarness(t, okSnapshot(group("g1", "alpha", node("10.0.0.1", 9050), node("10.0.0.2", 9050))))
    h.run(t)
    var alive int64
    for _, n := range h.mem.GroupNodes()["g1"] {
        if n.Host == "10.0.0.1" { alive = n.ID }
    }
    require.True(t, h.mem.SetAlive(alive, true))

    h.run(t)
    assert.Equal(t, 2, h.pub.flushes)
    require.Len(t, h.pub.nodes, 2)
    for _, pn := range h.pub.nodes {
        assert.Equal(t, "g1", pn.group)
        assert.Equal(t, "alpha", pn.name)
        assert.Equal(t, pn.addr == "10.0.0.1:9050", pn.alive)
    }
    assert.Equal(t, map[string]int{"g1": 1}, h.pub.totals)
}

func TestPublish_SkipsNamesWithoutNodes(t *testing.T) {
    h := newHarness(t, okSnapshot())
    h.mem.Restore(registry.Image{
        Groups:   map[string][]*registry.Node{"g1": {{ID: 1, Host: "10.0.0.1", HeartbeatPort: 9050, Tags: groupTags(group("g1", "alpha"))}}},
        NameToID: map[string]string{"alpha": "g1", "ghost": "g7"},
    })
    h.chk.publish()
    require.Len(t, h.pub.nodes, 1)
    assert.Equal(t, map[string]int{"g1": 0}, h.pub.totals)
}

type markAlive struct {
    mem   *registry.Memory
    calls int
}

func (m *markAlive) Sync() int {
    m.calls++
    changed := 0
    for _, nodes := range m.mem.GroupNodes() {
        for _, rn := range nodes {
            if m.mem.SetAlive(rn.ID, true) { changed++ }
        }
    }
    return changed
}

func TestPublish_SyncsLivenessOfNewNodes(t *testing.T) {
    h := newHarness(t, okSnapshot(group("g1", "alpha", node("10.0.0.1", 9050))))
    live := &markAlive{mem: h.mem}
    h.chk.opts.Liveness = live

    h.run(t)
    assert.Equal(t, 1, live.calls)
    require.Len(t, h.pub.nodes, 1)
    assert.True(t, h.pub.nodes[0].alive, "a node added this cycle is published with its current liveness")
    assert.Equal(t, map[string]int{"g1": 1}, h.pub.totals)
}

func TestCheckCounts_Advisory(t *testing.T) {
    h := newHarness(t, okSnapshot())
    p := &pass{remote: map[string]topology.GroupDescriptor{"g1": group("g1", "a")}}
    h.chk.checkCounts(p)
    assert.Equal(t, 1, p.res.Warnings)
}
