// Package daemon runs reconciliation cycles on a fixed interval, on the
// consensus leader only, and exposes their outcome to the management API.
package daemon

import (
    "context"
    "encoding/json"
    "errors"
    "log"
    "sync"
    "sync/atomic"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/consensus"
    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-clustersync/pkg/observability/metrics"
    "github.com/amirimatin/go-clustersync/pkg/reconcile"
    "github.com/amirimatin/go-clustersync/pkg/transport"
)

// Daemon owns the cycle loop. A single worker goroutine runs cycles; ticks
// that arrive while a cycle runs are dropped, never queued.
type Daemon struct {
    opts Options
    log  *log.Logger
    eb   eventBus

    trigger chan struct{}
    cycles  atomic.Uint64
    leader  atomic.Bool

    mu      sync.Mutex
    running bool
    cancel  context.CancelFunc
    done    chan struct{}
}

func New(opts Options) (*Daemon, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Interval == 0 { opts.Interval = DefaultInterval }
    if opts.Logger == nil { opts.Logger = log.Default() }
    return &Daemon{opts: opts, log: opts.Logger, trigger: make(chan struct{}, 1)}, nil
}

// Start launches the cycle loop. It returns immediately; the loop runs until
// Stop is called or ctx is canceled.
func (d *Daemon) Start(ctx context.Context) error {
    d.mu.Lock()
    defer d.mu.Unlock()
    if d.running { return ErrAlreadyRunning }
    obsmetrics.Register()

    ctx, cancel := context.WithCancel(ctx)
    d.running, d.cancel, d.done = true, cancel, make(chan struct{})

    var wg sync.WaitGroup
    if ln, ok := d.opts.Consensus.(consensus.LeaderNotifier); ok {
        wg.Add(1)
        go func() { defer wg.Done(); d.watchLeader(ctx, ln.LeaderCh()) }()
    }
    wg.Add(1)
    go func() { defer wg.Done(); d.loop(ctx) }()
    done := d.done
    go func() {
        wg.Wait()
        d.mu.Lock()
        d.running = false
        d.mu.Unlock()
        close(done)
    }()
    logutil.Infof(d.log, "daemon started: interval=%s gated=%t", d.opts.Interval, d.opts.Consensus != nil)
    return nil
}

// Stop ends the loop and waits for an in-flight cycle to finish, or for ctx.
func (d *Daemon) Stop(ctx context.Context) error {
    d.mu.Lock()
    if !d.running {
        d.mu.Unlock()
        return ErrNotRunning
    }
    cancel, done := d.cancel, d.done
    d.mu.Unlock()
    cancel()
    select {
    case <-done:
        logutil.Infof(d.log, "daemon stopped: cycles=%d", d.cycles.Load())
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

// Running reports whether the loop is active.
func (d *Daemon) Running() bool {
    d.mu.Lock()
    defer d.mu.Unlock()
    return d.running
}

// TriggerNow asks the loop to run a cycle as soon as it is idle. Requests
// made while one is already pending collapse into it.
func (d *Daemon) TriggerNow() error {
    if !d.Running() { return ErrNotRunning }
    select {
    case d.trigger <- struct{}{}:
    default:
    }
    return nil
}

// RunOnce runs one gated cycle synchronously. It returns ErrNotLeader on a
// follower and reconcile.ErrCycleInProgress when the loop is mid-cycle.
func (d *Daemon) RunOnce(ctx context.Context) (reconcile.Result, error) {
    if !d.isLeader() {
        return reconcile.Result{}, ErrNotLeader
    }
    if d.opts.Liveness != nil {
        d.opts.Liveness.Sync()
    }
    res, err := d.opts.Checker.Run(ctx)
    if errors.Is(err, reconcile.ErrCycleInProgress) {
        return res, err
    }
    d.cycles.Add(1)
    d.publishResult(res, err)
    return res, err
}

func (d *Daemon) loop(ctx context.Context) {
    ticker := time.NewTicker(d.opts.Interval)
    defer ticker.Stop()
    if d.opts.RunOnStart {
        d.tick(ctx)
    }
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
        case <-d.trigger:
        }
        d.tick(ctx)
    }
}

func (d *Daemon) tick(ctx context.Context) {
    _, err := d.RunOnce(ctx)
    switch {
    case errors.Is(err, ErrNotLeader):
        logutil.Debugf(d.log, "cycle skipped: not leader")
    case errors.Is(err, reconcile.ErrCycleInProgress):
        logutil.Debugf(d.log, "cycle skipped: previous cycle still running")
    }
}

// isLeader reports whether cycles may run here, and keeps the leadership
// gauge current.
func (d *Daemon) isLeader() bool {
    lead := d.opts.Consensus == nil || d.opts.Consensus.IsLeader()
    if d.leader.Swap(lead) != lead {
        logutil.Infof(d.log, "cycle leadership changed: leader=%t", lead)
    }
    if lead {
        obsmetrics.IsLeader.Set(1)
    } else {
        obsmetrics.IsLeader.Set(0)
    }
    return lead
}

func (d *Daemon) watchLeader(ctx context.Context, ch <-chan consensus.LeaderInfo) {
    for {
        select {
        case <-ctx.Done():
            return
        case li, ok := <-ch:
            if !ok { return }
            obsmetrics.LeaderChanges.Inc()
            logutil.Infof(d.log, "leader change observed: id=%s term=%d", li.ID, li.Term)
            d.isLeader()
            d.eb.publish(Event{Type: EventLeaderChanged, Leader: &li})
        }
    }
}

func (d *Daemon) publishResult(res reconcile.Result, err error) {
    if err != nil {
        d.eb.publish(Event{Type: EventCycleFailed, CycleID: res.CycleID, Err: err.Error()})
        return
    }
    for _, id := range res.GroupsAdded {
        d.eb.publish(Event{Type: EventGroupAdded, CycleID: res.CycleID, GroupID: id})
    }
    for _, id := range res.GroupsDropped {
        d.eb.publish(Event{Type: EventGroupDropped, CycleID: res.CycleID, GroupID: id})
    }
    if res.ObserverError != "" {
        d.eb.publish(Event{Type: EventObserverError, CycleID: res.CycleID, Err: res.ObserverError})
    }
    d.eb.publish(Event{Type: EventCycleFinished, CycleID: res.CycleID})
}

// Status returns the daemon's view of itself and of the last cycle.
func (d *Daemon) Status() Status {
    s := Status{
        Running:  d.Running(),
        Leader:   d.opts.Consensus == nil || d.opts.Consensus.IsLeader(),
        Phase:    d.opts.Checker.Phase().String(),
        Interval: d.opts.Interval.String(),
        Cycles:   d.cycles.Load(),
    }
    if c := d.opts.Consensus; c != nil {
        s.Term = c.Term()
        if id, _, ok := c.Leader(); ok { s.LeaderID = id }
    }
    if res, ok := d.opts.Checker.Last(); ok {
        s.LastCycle = &res
    }
    if err := d.opts.Checker.LastErr(); err != nil {
        s.LastError = err.Error()
    }
    return s
}

// Handlers exposes the daemon on the management endpoints.
func (d *Daemon) Handlers() transport.Handlers {
    h := transport.Handlers{
        Status: func(context.Context) ([]byte, error) { return json.Marshal(d.Status()) },
        Trigger: func(ctx context.Context) ([]byte, error) {
            res, err := d.RunOnce(ctx)
            if err != nil && !errors.As(err, new(*reconcile.CycleError)) {
                return nil, err
            }
            return json.Marshal(res)
        },
        Healthy: d.Running,
    }
    if d.opts.Registry != nil {
        h.Registry = func(context.Context) ([]byte, error) { return json.Marshal(d.opts.Registry.Image()) }
    }
    return h
}
