package memberlist

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    base "github.com/amirimatin/go-clustersync/pkg/membership"
)

// Options configures the memberlist-based membership implementation.
type Options struct {
    // NodeID is the unique gossip name.
    NodeID string

    // Bind is the bind address in host:port form (e.g. ":7946"). Port 0
    // picks a free port.
    Bind string

    // Advertise is the address peers use to reach this node. Empty derives
    // it from Bind.
    Advertise string

    // Meta is published with the gossip identity (role, heartbeat address).
    Meta map[string]string

    Logger *log.Logger

    // Tuning parameters. Zero keeps memberlist's LAN defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

func (o Options) Validate() error {
    if o.NodeID == "" { return fmt.Errorf("memberlist: empty NodeID") }
    if o.Bind == "" { return fmt.Errorf("memberlist: empty Bind address") }
    if _, _, err := splitAddr(o.Bind); err != nil { return err }
    if o.Advertise != "" {
        if _, _, err := splitAddr(o.Advertise); err != nil { return err }
    }
    return nil
}

// Gossip implements base.Membership on HashiCorp memberlist.
type Gossip struct {
    opts Options

    mu     sync.RWMutex
    ml     *memberlist.Memberlist
    evts   chan base.Event
    closed bool
}

func New(opts Options) (*Gossip, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Logger == nil { opts.Logger = log.Default() }
    return &Gossip{opts: opts, evts: make(chan base.Event, 64)}, nil
}

// Start creates the memberlist instance. It stops when ctx is canceled.
func (g *Gossip) Start(ctx context.Context) error {
    g.mu.Lock()
    defer g.mu.Unlock()
    if g.ml != nil { return nil }
    if g.closed { return fmt.Errorf("memberlist: stopped") }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = g.opts.NodeID
    cfg.BindAddr, cfg.BindPort, _ = splitAddr(g.opts.Bind)
    if g.opts.Advertise != "" {
        cfg.AdvertiseAddr, cfg.AdvertisePort, _ = splitAddr(g.opts.Advertise)
    }
    if g.opts.ProbeInterval > 0 { cfg.ProbeInterval = g.opts.ProbeInterval }
    if g.opts.ProbeTimeout > 0 { cfg.ProbeTimeout = g.opts.ProbeTimeout }
    if g.opts.SuspicionMult > 0 { cfg.SuspicionMult = g.opts.SuspicionMult }
    cfg.LogOutput = g.opts.Logger.Writer()

    meta, err := json.Marshal(g.opts.Meta)
    if err != nil { return fmt.Errorf("memberlist: encode meta: %w", err) }
    if len(meta) > memberlist.MetaMaxSize {
        return fmt.Errorf("memberlist: meta is %d bytes, limit %d", len(meta), memberlist.MetaMaxSize)
    }
    cfg.Events = &eventDelegate{emit: g.emit}
    cfg.Delegate = &metaDelegate{meta: meta}

    ml, err := memberlist.Create(cfg)
    if err != nil { return err }
    g.ml = ml
    logutil.Infof(g.opts.Logger, "gossip started: id=%s addr=%s", g.opts.NodeID, memberAddr(ml.LocalNode()))

    go func() {
        <-ctx.Done()
        _ = g.Stop()
    }()
    return nil
}

func (g *Gossip) Join(seeds []string) error {
    g.mu.RLock()
    ml := g.ml
    g.mu.RUnlock()
    if ml == nil { return fmt.Errorf("memberlist: not started") }
    if len(seeds) == 0 { return nil }
    n, err := ml.Join(seeds)
    if err != nil { return fmt.Errorf("memberlist: join %v: %w", seeds, err) }
    logutil.Infof(g.opts.Logger, "gossip joined: contacted=%d seeds=%v", n, seeds)
    return nil
}

func (g *Gossip) Local() base.MemberInfo {
    g.mu.RLock()
    defer g.mu.RUnlock()
    if g.ml == nil { return base.MemberInfo{} }
    return memberInfo(g.ml.LocalNode())
}

func (g *Gossip) Members() []base.MemberInfo {
    g.mu.RLock()
    defer g.mu.RUnlock()
    if g.ml == nil { return nil }
    nodes := g.ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes {
        out = append(out, memberInfo(n))
    }
    return out
}

func (g *Gossip) Events() <-chan base.Event { return g.evts }

// Leave broadcasts an intent to leave and waits up to a second for it to
// propagate.
func (g *Gossip) Leave() error {
    g.mu.RLock()
    ml := g.ml
    g.mu.RUnlock()
    if ml == nil { return nil }
    return ml.Leave(time.Second)
}

// Stop shuts memberlist down and closes the event channel.
func (g *Gossip) Stop() error {
    g.mu.Lock()
    if g.closed {
        g.mu.Unlock()
        return nil
    }
    g.closed = true
    ml := g.ml
    g.ml = nil
    close(g.evts)
    g.mu.Unlock()
    if ml == nil { return nil }
    return ml.Shutdown()
}

// HealthScore exposes memberlist's awareness score.
func (g *Gossip) HealthScore() int {
    g.mu.RLock()
    defer g.mu.RUnlock()
    if g.ml == nil { return -1 }
    return g.ml.GetHealthScore()
}

// emit never blocks the memberlist delegate goroutine. It holds the read
// lock so it cannot race with Stop closing the channel.
func (g *Gossip) emit(e base.Event) {
    g.mu.RLock()
    defer g.mu.RUnlock()
    if g.closed { return }
    select {
    case g.evts <- e:
    default:
        logutil.Warnf(g.opts.Logger, "gossip event dropped, channel full: type=%s member=%s", e.Type, e.Member.ID)
    }
}

type eventDelegate struct {
    emit func(e base.Event)
}

func (d *eventDelegate) notify(t base.EventType, n *memberlist.Node) {
    if n == nil { return }
    d.emit(base.Event{Type: t, Member: memberInfo(n), At: time.Now()})
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node)   { d.notify(base.EventJoin, n) }
func (d *eventDelegate) NotifyLeave(n *memberlist.Node)  { d.notify(base.EventLeave, n) }
func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) { d.notify(base.EventUpdate, n) }

// metaDelegate publishes the static node metadata.
type metaDelegate struct{ meta []byte }

func (d *metaDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) <= limit { return d.meta }
    return nil
}

func (d *metaDelegate) NotifyMsg([]byte)                       {}
func (d *metaDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *metaDelegate) LocalState(join bool) []byte            { return nil }
func (d *metaDelegate) MergeRemoteState(buf []byte, join bool) {}

func memberInfo(n *memberlist.Node) base.MemberInfo {
    meta := map[string]string{}
    if len(n.Meta) > 0 { _ = json.Unmarshal(n.Meta, &meta) }
    return base.MemberInfo{ID: n.Name, Addr: memberAddr(n), Meta: meta}
}

func memberAddr(n *memberlist.Node) string {
    return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

func splitAddr(addr string) (string, int, error) {
    host, portStr, err := net.SplitHostPort(addr)
    if err != nil { return "", 0, fmt.Errorf("memberlist: invalid address %q: %w", addr, err) }
    port, err := strconv.Atoi(portStr)
    if err != nil || port < 0 || port > 65535 {
        return "", 0, fmt.Errorf("memberlist: invalid port in %q", addr)
    }
    return host, port, nil
}

var (
    _ base.Membership     = (*Gossip)(nil)
    _ base.HealthReporter = (*Gossip)(nil)
)
