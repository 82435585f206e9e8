// Package liveness turns gossip membership into the Alive flag of registered
// worker nodes.
package liveness

import (
    "context"
    "errors"
    "log"
    "sync"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    "github.com/amirimatin/go-clustersync/pkg/membership"
    "github.com/amirimatin/go-clustersync/pkg/observability/metrics"
    "github.com/amirimatin/go-clustersync/pkg/registry"
)

// Options configures a Tracker.
type Options struct {
    Membership membership.Membership
    Registry   registry.Registry
    // Debounce coalesces bursts of gossip events into one sync.
    Debounce time.Duration
    Logger   *log.Logger
}

func (o Options) Validate() error {
    if o.Membership == nil { return errors.New("liveness: membership is required") }
    if o.Registry == nil { return errors.New("liveness: registry is required") }
    return nil
}

// Tracker marks a registered node alive when a gossip member announces the
// node's heartbeat address, and dead otherwise.
type Tracker struct {
    opts Options
    log  *log.Logger

    mu    sync.Mutex
    alive map[string]struct{}
}

func New(opts Options) (*Tracker, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Debounce <= 0 { opts.Debounce = 200 * time.Millisecond }
    if opts.Logger == nil { opts.Logger = log.Default() }
    return &Tracker{opts: opts, log: opts.Logger, alive: map[string]struct{}{}}, nil
}

// Sync recomputes the alive set from the current member list and applies it
// to every registered node. It returns the number of flags it changed.
func (t *Tracker) Sync() int {
    alive := map[string]struct{}{}
    for _, m := range t.opts.Membership.Members() {
        if hb := m.Heartbeat(); hb != "" {
            alive[hb] = struct{}{}
        }
    }
    metrics.LivenessMembers.Set(float64(len(alive)))

    t.mu.Lock()
    t.alive = alive
    t.mu.Unlock()

    changed := 0
    for gid, nodes := range t.opts.Registry.GroupNodes() {
        for _, n := range nodes {
            _, up := alive[n.Address()]
            if n.Alive == up {
                continue
            }
            if t.opts.Registry.SetAlive(n.ID, up) {
                changed++
                logutil.Debugf(t.log, "node liveness changed: group=%s node=%d addr=%s alive=%t", gid, n.ID, n.Address(), up)
            }
        }
    }
    if changed > 0 {
        logutil.Infof(t.log, "liveness synced: members=%d changed=%d", len(alive), changed)
    }
    return changed
}

// Alive reports whether addr was announced at the last Sync.
func (t *Tracker) Alive(addr string) bool {
    t.mu.Lock()
    defer t.mu.Unlock()
    _, ok := t.alive[addr]
    return ok
}

// Run syncs once, then again after each burst of gossip events, until ctx
// is done or the event channel closes.
func (t *Tracker) Run(ctx context.Context) {
    t.Sync()
    events := t.opts.Membership.Events()
    var timer *time.Timer
    var fire <-chan time.Time
    defer func() {
        if timer != nil { timer.Stop() }
    }()
    for {
        select {
        case <-ctx.Done():
            return
        case ev, ok := <-events:
            if !ok { return }
            logutil.Debugf(t.log, "gossip event: type=%s member=%s heartbeat=%s", ev.Type, ev.Member.ID, ev.Member.Heartbeat())
            if timer == nil {
                timer = time.NewTimer(t.opts.Debounce)
                fire = timer.C
            }
        case <-fire:
            timer, fire = nil, nil
            t.Sync()
        }
    }
}
