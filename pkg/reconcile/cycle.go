// Package reconcile converges the local registry with the snapshot served by
// the remote metadata authority.
//
// One call to Checker.Run is one cycle:
//
//	IDLE -> FETCHING -> ADD_GROUPS -> DROP_GROUPS -> RECONCILE_CONTENT ->
//	RECONCILE_OBSERVERS -> AUDIT -> PUBLISH -> IDLE
//
// A failed fetch ends the cycle before any mutation. A failure or panic in a
// later phase ends the cycle at that phase and is returned as *CycleError.
package reconcile

import (
    "context"
    "errors"
    "fmt"
    "log"
    "runtime/debug"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/go-clustersync/pkg/diff"
    "github.com/amirimatin/go-clustersync/pkg/endpoint"
    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    "github.com/amirimatin/go-clustersync/pkg/observability/metrics"
    "github.com/amirimatin/go-clustersync/pkg/observability/tracing"
    "github.com/amirimatin/go-clustersync/pkg/topology"
)

// Checker runs reconciliation cycles. Cycles never overlap.
type Checker struct {
    opts Options
    log  *log.Logger

    run   sync.Mutex
    phase atomic.Int32

    mu      sync.RWMutex
    last    *Result
    lastErr error
}

func New(opts Options) (*Checker, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts.defaults()
    return &Checker{opts: opts, log: opts.Logger}, nil
}

// Phase returns the phase of the cycle in flight, or PhaseIdle.
func (c *Checker) Phase() Phase { return Phase(c.phase.Load()) }

// Last returns the result of the most recent finished cycle.
func (c *Checker) Last() (Result, bool) {
    c.mu.RLock()
    defer c.mu.RUnlock()
    if c.last == nil { return Result{}, false }
    return *c.last, true
}

// LastErr returns the error of the most recent finished cycle.
func (c *Checker) LastErr() error {
    c.mu.RLock()
    defer c.mu.RUnlock()
    return c.lastErr
}

// Run executes one cycle. It returns ErrCycleInProgress without doing
// anything when another cycle is running.
func (c *Checker) Run(ctx context.Context) (Result, error) {
    if !c.run.TryLock() {
        metrics.CyclesTotal.WithLabelValues("skipped").Inc()
        return Result{}, ErrCycleInProgress
    }
    defer c.run.Unlock()
    defer c.phase.Store(int32(PhaseIdle))

    p := &pass{res: Result{CycleID: uuid.NewString(), Started: time.Now()}}
    ctx, end := tracing.StartSpan(ctx, "reconcile.cycle", "cycle_id", p.res.CycleID)
    defer end()

    err := c.cycle(ctx, p)
    tracing.Fail(ctx, err)
    p.tally(func(r *Result) { r.Duration = time.Since(r.Started) })
    res := p.result()

    outcome := "ok"
    switch {
    case err == nil:
        logutil.Infof(c.log, "cycle done: id=%s groups=%d added=%d dropped=%d mutations=%d warnings=%d took=%s",
            res.CycleID, res.RemoteGroups, len(res.GroupsAdded), len(res.GroupsDropped), res.Mutations, res.Warnings, res.Duration)
    case isSnapshotErr(err):
        outcome = "snapshot_error"
        logutil.Warnf(c.log, "cycle skipped: id=%s err=%v", res.CycleID, err)
    default:
        outcome = "failed"
        logutil.Errorf(c.log, "cycle failed: id=%s err=%v", res.CycleID, err)
    }
    metrics.CyclesTotal.WithLabelValues(outcome).Inc()

    c.mu.Lock()
    c.last, c.lastErr = &res, err
    c.mu.Unlock()
    return res, err
}

func (c *Checker) cycle(ctx context.Context, p *pass) error {
    c.phase.Store(int32(PhaseFetching))
    start := time.Now()
    snap, err := c.fetch(ctx)
    metrics.PhaseDuration.WithLabelValues(PhaseFetching.String()).Observe(time.Since(start).Seconds())
    if err != nil {
        return err
    }
    p.remote = c.collectRemote(p, snap.Groups)
    p.local = c.opts.Registry.GroupNodes()
    p.tally(func(r *Result) { r.RemoteGroups = len(p.remote) })

    addIDs, dropIDs := diff.Keyed(idSet(p.local), idSet(p.remote))
    var common []string
    for _, id := range diff.Keys(p.remote) {
        if _, ok := p.local[id]; ok { common = append(common, id) }
    }

    // Worker phases stop at the first failure and gate the audit. The
    // observer and publish phases always run; the first error is returned
    // once they are done.
    workers := []struct {
        phase Phase
        fn    func(context.Context) error
    }{
        {PhaseAddGroups, func(ctx context.Context) error { return c.addGroups(ctx, p, addIDs) }},
        {PhaseDropGroups, func(ctx context.Context) error {
            if err := c.dropGroups(ctx, p, dropIDs); err != nil { return err }
            c.checkCounts(p)
            return nil
        }},
        {PhaseReconcileContent, func(ctx context.Context) error { return c.reconcileContent(ctx, p, common) }},
    }
    var first error
    for _, s := range workers {
        if first = c.runPhase(ctx, p, s.phase, s.fn); first != nil { break }
    }

    errs := []error{first}
    errs = append(errs, c.runPhase(ctx, p, PhaseReconcileObservers, func(ctx context.Context) error {
        if c.opts.Observers == nil { return nil }
        return c.reconcileObservers(ctx, p)
    }))
    if first == nil {
        errs = append(errs, c.runPhase(ctx, p, PhaseAudit, func(context.Context) error {
            rep := Audit(c.opts.Registry, c.log)
            p.tally(func(r *Result) {
                r.Audit = rep
                r.Warnings += len(rep.EmptyGroups) + len(rep.OrphanNames) + len(rep.Asymmetries)
                r.Mutations += len(rep.EmptyGroups) + len(rep.OrphanNames)
            })
            return nil
        }))
    }
    errs = append(errs, c.runPhase(ctx, p, PhasePublish, func(context.Context) error { c.publish(); return nil }))
    for _, err := range errs {
        if err != nil { return err }
    }
    return nil
}

func (c *Checker) fetch(ctx context.Context) (*topology.Snapshot, error) {
    ctx, end := tracing.StartSpan(ctx, "reconcile.fetching")
    defer end()
    snap, err := c.opts.Snapshots.GetCluster(ctx, topology.Filter{})
    if err != nil {
        return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
    }
    switch snap.Code() {
    case topology.CodeOK:
        return snap, nil
    case topology.CodeClusterNotFound:
        logutil.Infof(c.log, "meta service reports no cluster, every local group will be dropped")
        return &topology.Snapshot{Status: snap.Status}, nil
    default:
        return nil, fmt.Errorf("%w: code=%q msg=%q", ErrSnapshot, snap.Code(), statusMessage(snap))
    }
}

// collectRemote indexes the worker groups of a snapshot by id. Control-plane
// groups, groups without id and nodes without a usable address are left out;
// a group left with no node is left out entirely. Duplicate ids keep the last
// descriptor.
func (c *Checker) collectRemote(p *pass, groups []topology.GroupDescriptor) map[string]topology.GroupDescriptor {
    out := make(map[string]topology.GroupDescriptor, len(groups))
    for _, g := range groups {
        if g.IsControlPlane() {
            continue
        }
        if g.ID == "" {
            logutil.Warnf(c.log, "remote group without id skipped: name=%s", g.Name)
            p.warn()
            continue
        }
        if _, dup := out[g.ID]; dup {
            logutil.Warnf(c.log, "remote group listed twice, keeping the last: id=%s", g.ID)
            p.warn()
        }
        nodes := make([]topology.NodeDescriptor, 0, len(g.Nodes))
        for _, d := range g.Nodes {
            if _, ok := endpoint.Resolve(d, c.opts.Mode); !ok {
                logutil.Warnf(c.log, "node without %s address skipped: group=%s host=%q ip=%q port=%d",
                    c.opts.Mode, g.ID, d.Host, d.IP, d.HeartbeatPort)
                p.warn()
                continue
            }
            nodes = append(nodes, d)
        }
        if len(nodes) == 0 {
            logutil.Warnf(c.log, "remote group has no usable node, ignored this cycle: id=%s name=%s", g.ID, g.Name)
            p.warn()
            delete(out, g.ID)
            continue
        }
        g.Nodes = nodes
        out[g.ID] = g
    }
    return out
}

func (c *Checker) runPhase(ctx context.Context, p *pass, ph Phase, fn func(context.Context) error) error {
    c.phase.Store(int32(ph))
    ctx, end := tracing.StartSpan(ctx, "reconcile."+strings.ToLower(ph.String()), "cycle_id", p.res.CycleID)
    defer end()
    start := time.Now()
    err := safely(func() error { return fn(ctx) })
    metrics.PhaseDuration.WithLabelValues(ph.String()).Observe(time.Since(start).Seconds())
    if err != nil {
        tracing.Fail(ctx, err)
        return &CycleError{CycleID: p.res.CycleID, Phase: ph, Err: err}
    }
    return nil
}

// safely turns a panic into an error.
func safely(fn func() error) (err error) {
    defer func() {
        if r := recover(); r != nil {
            err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
        }
    }()
    return fn()
}

func isSnapshotErr(err error) bool {
    var ce *CycleError
    return !errors.As(err, &ce) && errors.Is(err, ErrSnapshot)
}

func idSet[V any](m map[string]V) map[string]string {
    out := make(map[string]string, len(m))
    for k := range m {
        out[k] = k
    }
    return out
}
