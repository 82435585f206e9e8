package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"

    obsmetrics "github.com/amirimatin/go-clustersync/pkg/observability/metrics"
)

// Dialer opens a client connection to target.
type Dialer func(ctx context.Context, target string) (*grpc.ClientConn, error)

// ConnManager keeps one client connection per meta-service endpoint and
// closes connections nobody used for ttl.
type ConnManager struct {
    ttl  time.Duration
    dial Dialer

    mu    sync.Mutex
    conns map[string]*managedConn
    done  chan struct{}
    once  sync.Once
}

type managedConn struct {
    cc       *grpc.ClientConn
    lastUsed time.Time
    ref      int
}

// NewConnManager starts the eviction loop; call Close to stop it.
func NewConnManager(ttl time.Duration, dial Dialer) *ConnManager {
    if ttl <= 0 { ttl = 30 * time.Second }
    m := &ConnManager{ttl: ttl, dial: dial, conns: make(map[string]*managedConn), done: make(chan struct{})}
    go m.evictLoop()
    return m
}

// Get returns a connection for target and a release func to be called when
// the call is done.
func (m *ConnManager) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    if cc, ok := m.acquire(target); ok {
        obsmetrics.GRPCConnReuse.Inc()
        return cc, m.releaser(target), nil
    }
    cc, err := m.dial(ctx, target)
    if err != nil { return nil, func() {}, err }

    m.mu.Lock()
    defer m.mu.Unlock()
    if mc, ok := m.conns[target]; ok {
        // lost a dial race; keep the winner
        _ = cc.Close()
        mc.ref++
        mc.lastUsed = time.Now()
        obsmetrics.GRPCConnReuse.Inc()
        return mc.cc, m.releaser(target), nil
    }
    m.conns[target] = &managedConn{cc: cc, lastUsed: time.Now(), ref: 1}
    obsmetrics.GRPCConnDials.Inc()
    obsmetrics.GRPCConnActive.Inc()
    return cc, m.releaser(target), nil
}

// Drop closes the cached connection to target, if any. The client drops an
// endpoint after a failed call so the next attempt dials fresh.
func (m *ConnManager) Drop(target string) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if mc, ok := m.conns[target]; ok {
        _ = mc.cc.Close()
        delete(m.conns, target)
        obsmetrics.GRPCConnActive.Dec()
    }
}

// Len returns the number of cached connections.
func (m *ConnManager) Len() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.conns)
}

func (m *ConnManager) acquire(target string) (*grpc.ClientConn, bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    mc, ok := m.conns[target]
    if !ok { return nil, false }
    mc.ref++
    mc.lastUsed = time.Now()
    return mc.cc, true
}

func (m *ConnManager) releaser(target string) func() {
    return func() {
        m.mu.Lock()
        defer m.mu.Unlock()
        if mc, ok := m.conns[target]; ok {
            if mc.ref > 0 { mc.ref-- }
            mc.lastUsed = time.Now()
        }
    }
}

// Close closes all cached connections and stops the eviction loop.
func (m *ConnManager) Close() {
    m.once.Do(func() { close(m.done) })
    m.mu.Lock()
    defer m.mu.Unlock()
    for target, mc := range m.conns {
        _ = mc.cc.Close()
        delete(m.conns, target)
        obsmetrics.GRPCConnActive.Dec()
    }
}

func (m *ConnManager) evictLoop() {
    ticker := time.NewTicker(m.ttl / 2)
    defer ticker.Stop()
    for {
        select {
        case <-m.done:
            return
        case <-ticker.C:
            m.evictIdle(time.Now().Add(-m.ttl))
        }
    }
}

func (m *ConnManager) evictIdle(cutoff time.Time) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for target, mc := range m.conns {
        if mc.ref == 0 && mc.lastUsed.Before(cutoff) {
            _ = mc.cc.Close()
            delete(m.conns, target)
            obsmetrics.GRPCConnEvictions.Inc()
            obsmetrics.GRPCConnActive.Dec()
        }
    }
}
