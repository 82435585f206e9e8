// Package raftcons replicates the edit log with HashiCorp Raft. Only the
// leader runs reconciliation cycles and appends node modifications; every
// member replays committed records into its editlog.State.
package raftcons

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "log"
    "os"
    "path/filepath"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    c "github.com/amirimatin/go-clustersync/pkg/consensus"
    "github.com/amirimatin/go-clustersync/pkg/editlog"
    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
)

// ErrNotStarted is returned by calls that need a running raft instance.
var ErrNotStarted = errors.New("raftcons: not started")

// Node implements consensus.Consensus on HashiCorp Raft.
type Node struct {
    opts Options
    log  *log.Logger
    st   editlog.State
    lch  chan c.LeaderInfo

    mu      sync.RWMutex
    r       *raft.Raft
    addr    raft.ServerAddress
    trans   raft.Transport
    lb      raft.LoopbackTransport
    store   io.Closer
    obs     *raft.Observer
    obsCh   chan raft.Observation
    watchWG sync.WaitGroup
    stopped bool
}

func New(opts Options) (*Node, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts.defaults()
    return &Node{opts: opts, log: opts.Logger, st: opts.State, lch: make(chan c.LeaderInfo, 16)}, nil
}

// Start creates the raft instance and, when asked to, bootstraps it. The
// node stops when ctx is canceled.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.r != nil { return nil }
    if n.stopped { return fmt.Errorf("raftcons: node %s was stopped", n.opts.NodeID) }

    logs, stable, snaps, err := n.stores()
    if err != nil { return err }
    if err := n.transport(); err != nil { return err }

    r, err := raft.NewRaft(n.config(), newEditLogFSM(n.st), logs, stable, snaps, n.trans)
    if err != nil {
        n.closeStore()
        return err
    }
    n.r = r

    n.obsCh = make(chan raft.Observation, 32)
    n.obs = raft.NewObserver(n.obsCh, false, func(o *raft.Observation) bool {
        _, ok := o.Data.(raft.LeaderObservation)
        return ok
    })
    r.RegisterObserver(n.obs)
    n.watchWG.Add(1)
    go n.watchLeadership(r, n.obsCh)

    if n.opts.Bootstrap {
        cfg := raft.Configuration{Servers: []raft.Server{{ID: raft.ServerID(n.opts.NodeID), Address: n.addr}}}
        if err := r.BootstrapCluster(cfg).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
            return err
        }
    }
    logutil.Infof(n.log, "raft started: id=%s addr=%s data_dir=%q bootstrap=%t", n.opts.NodeID, n.addr, n.opts.DataDir, n.opts.Bootstrap)

    go func() {
        <-ctx.Done()
        _ = n.Stop()
    }()
    return nil
}

func (n *Node) config() *raft.Config {
    cfg := raft.DefaultConfig()
    cfg.LocalID = raft.ServerID(n.opts.NodeID)
    cfg.LogOutput = n.log.Writer()
    if d := n.opts.HeartbeatTimeout; d > 0 {
        cfg.HeartbeatTimeout = d
        // the leader lease may not exceed the heartbeat timeout
        if cfg.LeaderLeaseTimeout > d { cfg.LeaderLeaseTimeout = d }
    }
    if d := n.opts.ElectionTimeout; d > 0 { cfg.ElectionTimeout = d }
    if d := n.opts.CommitTimeout; d > 0 { cfg.CommitTimeout = d }
    return cfg
}

func (n *Node) stores() (raft.LogStore, raft.StableStore, raft.SnapshotStore, error) {
    if n.opts.DataDir == "" {
        return raft.NewInmemStore(), raft.NewInmemStore(), raft.NewInmemSnapshotStore(), nil
    }
    if err := os.MkdirAll(n.opts.DataDir, 0o755); err != nil { return nil, nil, nil, err }
    bolt, err := raftboltdb.NewBoltStore(filepath.Join(n.opts.DataDir, "raft.db"))
    if err != nil { return nil, nil, nil, fmt.Errorf("raftcons: open log store: %w", err) }
    snaps, err := raft.NewFileSnapshotStore(n.opts.DataDir, n.opts.SnapshotsRetained, n.log.Writer())
    if err != nil {
        _ = bolt.Close()
        return nil, nil, nil, err
    }
    n.store = bolt
    return bolt, bolt, snaps, nil
}

func (n *Node) transport() error {
    if n.opts.BindAddr == "" {
        n.addr, n.trans = raft.NewInmemTransport(raft.ServerAddress(n.opts.NodeID))
        n.lb, _ = n.trans.(raft.LoopbackTransport)
        return nil
    }
    nt, err := raft.NewTCPTransport(n.opts.BindAddr, nil, 3, 10*time.Second, n.log.Writer())
    if err != nil { return fmt.Errorf("raftcons: listen %s: %w", n.opts.BindAddr, err) }
    n.addr, n.trans = nt.LocalAddr(), nt
    return nil
}

// watchLeadership forwards leader observations to LeaderCh. A first check
// shortly after start covers a leader elected before the observer saw it.
func (n *Node) watchLeadership(r *raft.Raft, ch <-chan raft.Observation) {
    defer n.watchWG.Done()
    settle := time.NewTimer(50 * time.Millisecond)
    defer settle.Stop()
    for {
        select {
        case _, ok := <-ch:
            if !ok { return }
        case <-settle.C:
        }
        addr, id := r.LeaderWithID()
        if id == "" { continue }
        li := c.LeaderInfo{ID: string(id), Addr: string(addr), Term: termOf(r)}
        select {
        case n.lch <- li:
        default:
            // a slow reader only needs the latest leader
        }
    }
}

// Apply replicates cmd through the log. Only the leader accepts writes.
func (n *Node) Apply(cmd c.Command, timeout time.Duration) error {
    r := n.raft()
    if r == nil { return ErrNotStarted }
    if timeout <= 0 { timeout = n.opts.ApplyTimeout }
    b, err := json.Marshal(cmd)
    if err != nil { return err }
    f := r.Apply(b, timeout)
    if err := f.Error(); err != nil { return err }
    if err, ok := f.Response().(error); ok && err != nil { return err }
    return nil
}

func (n *Node) IsLeader() bool {
    r := n.raft()
    return r != nil && r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
    r := n.raft()
    if r == nil { return "", "", false }
    a, sid := r.LeaderWithID()
    if sid == "" { return "", "", false }
    return string(sid), string(a), true
}

func (n *Node) Term() uint64 {
    r := n.raft()
    if r == nil { return 0 }
    return termOf(r)
}

func termOf(r *raft.Raft) uint64 {
    u, _ := strconv.ParseUint(r.Stats()["term"], 10, 64)
    return u
}

// Stop shuts raft down and closes LeaderCh. A stopped node cannot restart.
func (n *Node) Stop() error {
    n.mu.Lock()
    r := n.r
    n.r = nil
    first := !n.stopped
    n.stopped = true
    n.mu.Unlock()
    if r == nil {
        if first { close(n.lch) }
        return nil
    }

    r.DeregisterObserver(n.obs)
    err := r.Shutdown().Error()
    close(n.obsCh)
    n.watchWG.Wait()
    close(n.lch)
    n.closeStore()
    if err != nil { return err }
    logutil.Infof(n.log, "raft stopped: id=%s", n.opts.NodeID)
    return nil
}

func (n *Node) closeStore() {
    if n.store == nil { return }
    if err := n.store.Close(); err != nil { logutil.Warnf(n.log, "raft log store close: %v", err) }
    n.store = nil
}

func (n *Node) raft() *raft.Raft {
    n.mu.RLock()
    defer n.mu.RUnlock()
    return n.r
}

// LeaderCh delivers leadership observations; it is closed by Stop.
func (n *Node) LeaderCh() <-chan c.LeaderInfo { return n.lch }

// StateSnapshot returns the encoded edit log state.
func (n *Node) StateSnapshot() ([]byte, error) { return n.st.Snapshot() }

// Addr returns the transport address peers use to reach this node.
func (n *Node) Addr() string {
    n.mu.RLock()
    defer n.mu.RUnlock()
    return string(n.addr)
}

// AddVoter adds a voter, replacing an entry with the same id and another
// address. Re-adding an identical voter is a no-op.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
    r := n.raft()
    if r == nil { return ErrNotStarted }
    if f := r.GetConfiguration(); f.Error() == nil {
        for _, srv := range f.Configuration().Servers {
            if string(srv.ID) != id { continue }
            if string(srv.Address) == addr { return nil }
            if err := r.RemoveServer(srv.ID, 0, timeout).Error(); err != nil { return err }
            break
        }
    }
    return r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

func (n *Node) RemoveServer(id string, timeout time.Duration) error {
    r := n.raft()
    if r == nil { return ErrNotStarted }
    return r.RemoveServer(raft.ServerID(id), 0, timeout).Error()
}

var (
    _ c.Consensus      = (*Node)(nil)
    _ c.Reconfigurer   = (*Node)(nil)
    _ c.LeaderNotifier = (*Node)(nil)
)
