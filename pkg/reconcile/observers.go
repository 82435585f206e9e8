package reconcile

import (
    "context"
    "fmt"
    "strconv"

    "github.com/amirimatin/go-clustersync/pkg/diff"
    "github.com/amirimatin/go-clustersync/pkg/endpoint"
    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    "github.com/amirimatin/go-clustersync/pkg/observability/metrics"
    "github.com/amirimatin/go-clustersync/pkg/registry"
    "github.com/amirimatin/go-clustersync/pkg/topology"
)

// ObserverName is the name given to an observer created from the snapshot:
// host_editLogPort_ctimeMillis.
func ObserverName(host string, editLogPort int, ctimeMillis int64) string {
    return endpoint.Observer(host, editLogPort) + "_" + strconv.FormatInt(ctimeMillis, 10)
}

// reconcileObservers converges the control-plane observer pool. Nothing in
// here fails the cycle: fetch problems and mutation errors are logged and
// recorded in the result.
func (c *Checker) reconcileObservers(ctx context.Context, p *pass) error {
    obs := c.opts.Observers
    snap, err := c.opts.Snapshots.GetCluster(ctx, c.opts.ObserverFilter)
    switch {
    case err != nil:
        return c.observerFailure(p, fmt.Errorf("%w: %w", ErrSnapshot, err))
    case snap.Code() != topology.CodeOK:
        return c.observerFailure(p, fmt.Errorf("%w: code=%q msg=%q", ErrSnapshot, snap.Code(), statusMessage(snap)))
    case len(snap.Groups) == 0:
        return c.observerFailure(p, fmt.Errorf("%w: control-plane group missing from response", ErrSnapshot))
    }
    g := controlPlane(snap.Groups)

    self := obs.Self()
    current := diff.Index(obs.List(), func(o registry.Observer) (string, bool) {
        id := o.Ident()
        return id, id != self
    })
    desired := map[string]registry.Observer{}
    for _, d := range g.Nodes {
        id, ok := endpoint.ForObserverDescriptor(d, c.opts.Mode)
        if !ok {
            logutil.Warnf(c.log, "observer without address skipped: group=%s node=%+v", g.ID, d)
            p.warn()
            continue
        }
        if id == self {
            continue
        }
        host, _ := endpoint.Resolve(d, c.opts.Mode)
        desired[id] = registry.Observer{
            Name:        ObserverName(host, d.EditLogPort, d.CTime*1000),
            Host:        host,
            EditLogPort: d.EditLogPort,
        }
    }

    toAdd, toDel := diff.Keyed(current, desired)
    if len(toAdd) == 0 && len(toDel) == 0 {
        logutil.Debugf(c.log, "observers unchanged: count=%d", len(current))
        return nil
    }
    logutil.Infof(c.log, "observers changed: added=%v removed=%v", idents(toAdd), idents(toDel))
    if err := obs.Mutate(toAdd, toDel); err != nil {
        return c.observerFailure(p, fmt.Errorf("update observers: %w", err))
    }
    metrics.Mutations.WithLabelValues("observers").Inc()
    p.tally(func(r *Result) {
        r.ObserversAdded += len(toAdd)
        r.ObserversRemoved += len(toDel)
        r.Mutations++
    })
    return nil
}

func (c *Checker) observerFailure(p *pass, err error) error {
    logutil.Warnf(c.log, "observer reconciliation skipped: %v", err)
    p.tally(func(r *Result) {
        r.ObserverError = err.Error()
        r.Warnings++
    })
    return nil
}

// controlPlane picks the control-plane group of a filtered response, falling
// back to the first group.
func controlPlane(groups []topology.GroupDescriptor) topology.GroupDescriptor {
    for _, g := range groups {
        if g.IsControlPlane() {
            return g
        }
    }
    return groups[0]
}

func statusMessage(s *topology.Snapshot) string {
    if s == nil || s.Status == nil { return "" }
    return s.Status.Message
}

func idents(obs []registry.Observer) []string {
    out := make([]string, 0, len(obs))
    for _, o := range obs {
        out = append(out, o.Ident())
    }
    return out
}
