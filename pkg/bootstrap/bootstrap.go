// Package bootstrap assembles a reconciler node from a Config: registry,
// checker, cycle daemon, and the optional consensus, edit log, gossip and
// management layers around them.
package bootstrap

import (
    "context"
    "crypto/tls"
    "errors"
    "io"
    "log"
    "sync"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/consensus"
    raftcons "github.com/amirimatin/go-clustersync/pkg/consensus/raft"
    "github.com/amirimatin/go-clustersync/pkg/daemon"
    "github.com/amirimatin/go-clustersync/pkg/discovery"
    dDNS "github.com/amirimatin/go-clustersync/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-clustersync/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-clustersync/pkg/discovery/static"
    "github.com/amirimatin/go-clustersync/pkg/editlog"
    "github.com/amirimatin/go-clustersync/pkg/endpoint"
    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    "github.com/amirimatin/go-clustersync/pkg/liveness"
    "github.com/amirimatin/go-clustersync/pkg/membership"
    ml "github.com/amirimatin/go-clustersync/pkg/membership/memberlist"
    "github.com/amirimatin/go-clustersync/pkg/metaservice"
    obsmetrics "github.com/amirimatin/go-clustersync/pkg/observability/metrics"
    "github.com/amirimatin/go-clustersync/pkg/observability/tracing"
    "github.com/amirimatin/go-clustersync/pkg/reconcile"
    "github.com/amirimatin/go-clustersync/pkg/registry"
    "github.com/amirimatin/go-clustersync/pkg/topology"
    "github.com/amirimatin/go-clustersync/pkg/transport"
    metagrpc "github.com/amirimatin/go-clustersync/pkg/transport/grpc"
    "github.com/amirimatin/go-clustersync/pkg/transport/httpjson"
)

// App is an assembled node. Build returns it stopped; Start runs it.
type App struct {
    cfg Config
    log *log.Logger

    Registry *registry.Memory
    Checker  *reconcile.Checker
    Daemon   *daemon.Daemon
    // Replica mirrors every edit log record seen by this node.
    Replica *editlog.Replica

    raft     *raftcons.Node
    etcd     *editlog.Etcd
    gossip   *ml.Gossip
    tracker  *liveness.Tracker
    mgmt     *httpjson.Server
    snapshot metaservice.Client

    mu       sync.Mutex
    cancel   context.CancelFunc
    wg       sync.WaitGroup
    shutdown func(context.Context) error
}

// replicaIDs hands out ids above anything the replicated edit log has seen,
// so a newly elected leader never reuses an id of its predecessor.
type replicaIDs struct {
    seq     *registry.Sequence
    replica *editlog.Replica
}

func (r replicaIDs) NextID() int64 {
    r.seq.Observe(r.replica.MaxID())
    return r.seq.NextID()
}

// Build assembles an App from cfg without starting it.
func Build(cfg Config) (*App, error) {
    cfg.Defaults()
    if err := cfg.Validate(); err != nil { return nil, err }

    a := &App{cfg: cfg, log: cfg.Logger, Registry: registry.NewMemory(), Replica: editlog.NewReplica()}

    var srvTLS, cliTLS *tls.Config
    if cfg.TLS.Enable {
        var err error
        if srvTLS, err = cfg.TLS.ServerHotReload(); err != nil { return nil, err }
        if cliTLS, err = cfg.TLS.ClientHotReload(); err != nil { return nil, err }
    }

    // Snapshot source
    switch cfg.Meta.Protocol {
    case ProtoFile:
        a.snapshot = metaservice.NewFileSource(cfg.Meta.SnapshotFile)
    default:
        c := metagrpc.NewClient(metaDiscovery(cfg.Meta, cfg.Logger), cfg.Meta.Timeout).WithLogger(cfg.Logger)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        a.snapshot = c
    }

    // Consensus (Raft)
    var cons consensus.Consensus
    if cfg.Raft.Bind != "" {
        node, err := raftcons.New(raftcons.Options{
            NodeID:    cfg.NodeID,
            Logger:    cfg.Logger,
            Bootstrap: cfg.Raft.Bootstrap,
            BindAddr:  cfg.Raft.Bind,
            DataDir:   cfg.Raft.DataDir,
            State:     a.Replica,
        })
        if err != nil { return nil, err }
        a.raft, cons = node, node
    }

    // Edit log
    var elog editlog.Log = editlog.Discard{}
    switch cfg.EditLog.Backend {
    case EditLogRaft:
        elog = &editlog.Raft{C: a.raft, Timeout: cfg.EditLog.Timeout}
    case EditLogEtcd:
        e, err := editlog.NewEtcd(editlog.EtcdOptions{
            Endpoints:   cfg.EditLog.Etcd.Endpoints,
            Prefix:      cfg.EditLog.Etcd.Prefix,
            DialTimeout: cfg.EditLog.Etcd.DialTimeout,
        })
        if err != nil { return nil, err }
        a.etcd, elog = e, e
    }

    // Observers
    var (
        observers registry.Observers
        obsFilter topology.Filter
    )
    if o := cfg.Observers; o.Enable {
        self := registry.Observer{Name: o.SelfName, Host: o.SelfHost, EditLogPort: o.SelfEditLogPort}
        if self.Name == "" { self.Name = cfg.NodeID }
        observers = registry.NewObserverPool(self.Ident(), self)
        obsFilter = topology.Filter{GroupID: o.GroupID, GroupName: o.GroupName}
    }

    // Liveness (memberlist)
    var live daemon.LivenessSyncer
    if cfg.Gossip.Bind != "" {
        g, err := ml.New(ml.Options{
            NodeID:    cfg.NodeID,
            Bind:      cfg.Gossip.Bind,
            Advertise: cfg.Gossip.Advertise,
            Meta:      map[string]string{membership.MetaRole: membership.RoleObserver},
            Logger:    cfg.Logger,
        })
        if err != nil { return nil, err }
        t, err := liveness.New(liveness.Options{Membership: g, Registry: a.Registry, Logger: cfg.Logger})
        if err != nil { return nil, err }
        a.gossip, a.tracker, live = g, t, t
    }

    mode := endpoint.ModeIP
    if cfg.FQDNMode { mode = endpoint.ModeFQDN }

    checker, err := reconcile.New(reconcile.Options{
        Registry:       a.Registry,
        Observers:      observers,
        ObserverFilter: obsFilter,
        IDs:            replicaIDs{seq: registry.NewSequence(0), replica: a.Replica},
        Snapshots:      a.snapshot,
        EditLog:        elog,
        Decommissioner: cfg.Decommissioner,
        Metrics:        &obsmetrics.Publisher{},
        Liveness:       live,
        Mode:           mode,
        Parallelism:    cfg.Parallelism,
        Logger:         cfg.Logger,
    })
    if err != nil { return nil, err }
    a.Checker = checker

    d, err := daemon.New(daemon.Options{
        Checker:    checker,
        Interval:   cfg.Interval,
        Consensus:  cons,
        Liveness:   live,
        Registry:   a.Registry,
        RunOnStart: cfg.RunOnStart,
        Logger:     cfg.Logger,
    })
    if err != nil { return nil, err }
    a.Daemon = d

    // Management API
    if cfg.Management.Addr != "" {
        s := httpjson.NewServer(cfg.Management.Addr, cfg.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        a.mgmt = s
    }
    return a, nil
}

func metaDiscovery(m MetaConfig, logger *log.Logger) discovery.Discovery {
    if len(m.EndpointsDNS) > 0 {
        return dDNS.New(dDNS.Options{Names: m.EndpointsDNS, Port: m.DNSPort, Refresh: m.Refresh, Logger: logger})
    }
    if m.EndpointsFile != "" || m.EndpointsEnv != "" {
        return dFile.New(dFile.Options{Path: m.EndpointsFile, Env: m.EndpointsEnv, Refresh: m.Refresh})
    }
    return dStatic.New(m.Endpoints...)
}

// Start brings the node up: consensus, gossip, edit log follower, management
// endpoint, then the cycle loop. Everything stops when ctx is canceled or
// Stop is called.
func (a *App) Start(ctx context.Context) error {
    a.mu.Lock()
    defer a.mu.Unlock()
    if a.cancel != nil { return daemon.ErrAlreadyRunning }

    shutdown, err := tracing.Setup(a.cfg.Tracing)
    if err != nil {
        logutil.Warnf(a.log, "tracing setup error: %v", err)
        shutdown = func(context.Context) error { return nil }
    }
    a.shutdown = shutdown

    ctx, cancel := context.WithCancel(ctx)
    a.cancel = cancel
    fail := func(err error) error {
        cancel()
        a.wg.Wait()
        a.cancel = nil
        return err
    }

    if a.raft != nil {
        if err := a.raft.Start(ctx); err != nil { return fail(err) }
        if peers, _ := parsePeers(a.cfg.Raft.Peers); len(peers) > 0 {
            a.wg.Add(1)
            go func() { defer a.wg.Done(); a.addPeers(ctx, peers) }()
        }
    }
    if a.etcd != nil {
        a.wg.Add(1)
        go func() { defer a.wg.Done(); a.etcd.Follow(ctx, a.Replica) }()
    }
    if a.gossip != nil {
        if err := a.gossip.Start(ctx); err != nil { return fail(err) }
        if len(a.cfg.Gossip.Seeds) > 0 {
            if err := a.gossip.Join(a.cfg.Gossip.Seeds); err != nil {
                logutil.Warnf(a.log, "gossip join failed: seeds=%v err=%v", a.cfg.Gossip.Seeds, err)
            }
        }
        a.wg.Add(1)
        go func() { defer a.wg.Done(); a.tracker.Run(ctx) }()
    }
    if a.mgmt != nil {
        if err := a.mgmt.Start(ctx, a.handlers()); err != nil { return fail(err) }
    }
    if err := a.Daemon.Start(ctx); err != nil { return fail(err) }
    logutil.Infof(a.log, "node started: id=%s meta=%s edit_log=%s raft=%t gossip=%t", a.cfg.NodeID, a.cfg.Meta.Protocol, a.cfg.EditLog.Backend, a.raft != nil, a.gossip != nil)
    return nil
}

// gossipDegraded is the memberlist awareness score at which /healthz fails.
const gossipDegraded = 4

func (a *App) handlers() transport.Handlers {
    h := a.Daemon.Handlers()
    if a.gossip == nil { return h }
    running := h.Healthy
    h.Healthy = func() bool { return running() && !membership.Degraded(a.gossip, gossipDegraded) }
    return h
}

// addPeers adds the configured voters once this node leads. It retries until
// every peer is in or ctx is done.
func (a *App) addPeers(ctx context.Context, peers []peer) {
    pending := peers
    t := time.NewTicker(time.Second)
    defer t.Stop()
    for len(pending) > 0 {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
        }
        if !a.raft.IsLeader() { continue }
        var left []peer
        for _, p := range pending {
            if err := a.raft.AddVoter(p.id, p.addr, 5*time.Second); err != nil {
                logutil.Warnf(a.log, "raft add voter failed: id=%s addr=%s err=%v", p.id, p.addr, err)
                left = append(left, p)
                continue
            }
            logutil.Infof(a.log, "raft voter added: id=%s addr=%s", p.id, p.addr)
        }
        pending = left
    }
}

// Stop shuts every component down in reverse start order.
func (a *App) Stop(ctx context.Context) error {
    a.mu.Lock()
    cancel := a.cancel
    a.cancel = nil
    a.mu.Unlock()
    if cancel == nil { return daemon.ErrNotRunning }

    var errs []error
    if err := a.Daemon.Stop(ctx); err != nil && !errors.Is(err, daemon.ErrNotRunning) {
        errs = append(errs, err)
    }
    if a.mgmt != nil {
        if err := a.mgmt.Stop(ctx); err != nil { errs = append(errs, err) }
    }
    if a.gossip != nil {
        if err := a.gossip.Leave(); err != nil { logutil.Debugf(a.log, "gossip leave: %v", err) }
        if err := a.gossip.Stop(); err != nil { errs = append(errs, err) }
    }
    if a.raft != nil {
        if err := a.raft.Stop(); err != nil { errs = append(errs, err) }
    }
    cancel()
    a.wg.Wait()
    if a.etcd != nil {
        if err := a.etcd.Close(); err != nil { errs = append(errs, err) }
    }
    if c, ok := a.snapshot.(io.Closer); ok {
        if err := c.Close(); err != nil { errs = append(errs, err) }
    }
    if a.shutdown != nil {
        if err := a.shutdown(ctx); err != nil { errs = append(errs, err) }
    }
    return errors.Join(errs...)
}

// ManagementAddr returns the bound management address, or "" when disabled.
func (a *App) ManagementAddr() string {
    if a.mgmt == nil { return "" }
    return a.mgmt.Addr()
}

// Run builds and starts a node. The caller is responsible for calling Stop.
func Run(ctx context.Context, cfg Config) (*App, error) {
    a, err := Build(cfg)
    if err != nil { return nil, err }
    if err := a.Start(ctx); err != nil { return nil, err }
    return a, nil
}
