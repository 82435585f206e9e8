package reconcile

import (
    "context"
    "fmt"

    "golang.org/x/sync/errgroup"

    "github.com/amirimatin/go-clustersync/pkg/diff"
    "github.com/amirimatin/go-clustersync/pkg/endpoint"
    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    "github.com/amirimatin/go-clustersync/pkg/observability/metrics"
    "github.com/amirimatin/go-clustersync/pkg/registry"
    "github.com/amirimatin/go-clustersync/pkg/topology"
)

// reconcileContent runs the per-group checks for every group present on both
// sides at the start of the pass. Groups are independent and may run in
// parallel; each registry call is atomic on its own.
func (c *Checker) reconcileContent(ctx context.Context, p *pass, ids []string) error {
    eg, ctx := errgroup.WithContext(ctx)
    eg.SetLimit(c.opts.Parallelism)
    for _, id := range ids {
        eg.Go(func() error {
            return safely(func() error { return c.reconcileGroup(ctx, p, id) })
        })
    }
    return eg.Wait()
}

func (c *Checker) reconcileGroup(ctx context.Context, p *pass, id string) error {
    g := p.remote[id]
    local := p.local[id]
    if err := c.checkRename(ctx, p, g, local); err != nil { return err }
    if err := c.checkStatus(ctx, p, g, local); err != nil { return err }
    c.checkDecommission(ctx, p, g, local)
    return c.checkMembers(p, g, local)
}

func (c *Checker) checkRename(ctx context.Context, p *pass, g topology.GroupDescriptor, local []*registry.Node) error {
    cur := ""
    for _, n := range local {
        if name := n.GroupName(); name != "" {
            cur = name
            break
        }
    }
    if cur == g.Name {
        return nil
    }
    if len(local) == 0 {
        logutil.Warnf(c.log, "group has no local nodes, rename skipped: id=%s remote_name=%s", g.ID, g.Name)
        p.warn()
        return nil
    }
    if g.Name == "" {
        logutil.Warnf(c.log, "remote group has no name, rename skipped: id=%s local_name=%s", g.ID, cur)
        p.warn()
        return nil
    }

    reg := c.opts.Registry
    mod, err := reg.SetGroupLabel(g.ID, registry.TagGroupName, g.Name)
    if err != nil { return fmt.Errorf("rename group %s: %w", g.ID, err) }
    if err := reg.UpdateNameMapping(g.Name, cur, g.ID); err != nil {
        return fmt.Errorf("rename group %s: %w", g.ID, err)
    }
    metrics.Mutations.WithLabelValues("rename").Inc()
    logutil.Infof(c.log, "group renamed: id=%s old=%s new=%s nodes=%d", g.ID, cur, g.Name, len(mod))
    c.logModified(ctx, p, mod)
    p.tally(func(r *Result) {
        r.Renames++
        r.Mutations += 2
    })
    return nil
}

func (c *Checker) checkStatus(ctx context.Context, p *pass, g topology.GroupDescriptor, local []*registry.Node) error {
    if len(local) == 0 {
        return nil
    }
    reg := c.opts.Registry
    want := string(topology.ResolveStatus(g.Status))
    have := reg.StatusByID(g.ID)
    if have == want {
        return nil
    }
    mod, err := reg.SetGroupLabel(g.ID, registry.TagGroupStatus, want)
    if err != nil { return fmt.Errorf("status of group %s: %w", g.ID, err) }
    metrics.Mutations.WithLabelValues("status").Inc()
    logutil.Infof(c.log, "group status changed: id=%s name=%s old=%s new=%s", g.ID, g.Name, have, want)
    c.logModified(ctx, p, mod)
    p.tally(func(r *Result) {
        r.StatusChanges++
        r.Mutations++
    })
    return nil
}

// checkDecommission flags local nodes the remote side reports as
// decommissioning and hands them to the Decommissioner. The flag is set
// before the hand-off and stays set if the hand-off fails.
func (c *Checker) checkDecommission(ctx context.Context, p *pass, g topology.GroupDescriptor, local []*registry.Node) {
    byAddr := diff.Index(local, func(n *registry.Node) (string, bool) { return n.Address(), true })
    for _, d := range g.Nodes {
        if d.Status != topology.NodeStatusDecommissioning {
            continue
        }
        key, ok := endpoint.ForDescriptor(d, c.opts.Mode)
        if !ok {
            continue
        }
        ln, ok := byAddr[key]
        if !ok {
            logutil.Debugf(c.log, "decommissioning node not registered locally: group=%s addr=%s", g.ID, key)
            continue
        }
        if ln.Decommissioned {
            continue
        }
        n, ok := c.opts.Registry.SetDecommissioned(ln.ID, true)
        if !ok {
            logutil.Debugf(c.log, "decommissioning node vanished: group=%s node=%d", g.ID, ln.ID)
            continue
        }
        metrics.Mutations.WithLabelValues("decommission").Inc()
        logutil.Infof(c.log, "node decommissioning: group=%s node=%d addr=%s", g.ID, n.ID, key)
        if err := c.opts.Decommissioner.RegisterWatershedTxn(ctx, n); err != nil {
            logutil.Warnf(c.log, "watershed registration failed: node=%d addr=%s err=%v", n.ID, key, err)
            p.warn()
        }
        c.logModified(ctx, p, []*registry.Node{n})
        p.tally(func(r *Result) {
            r.Decommissions++
            r.Mutations++
        })
    }
}

// checkMembers diffs registered nodes against remote members by extended
// key and applies the result with a single mutation.
func (c *Checker) checkMembers(p *pass, g topology.GroupDescriptor, local []*registry.Node) error {
    current := diff.Index(local, func(n *registry.Node) (string, bool) { return n.ExtendedKey(), true })
    desired := diff.Index(g.Nodes, func(d topology.NodeDescriptor) (string, bool) {
        return endpoint.ForDescriptorExtended(d, g, c.opts.Mode)
    })
    toAdd, toDel := diff.Keyed(current, desired)
    if len(toAdd) == 0 && len(toDel) == 0 {
        logutil.Debugf(c.log, "group members unchanged: id=%s", g.ID)
        return nil
    }
    nodes := c.newNodes(g, toAdd)
    if err := c.opts.Registry.MutateNodes(g.ID, nodes, toDel); err != nil {
        return fmt.Errorf("members of group %s: %w", g.ID, err)
    }
    metrics.Mutations.WithLabelValues("members").Inc()
    logutil.Infof(c.log, "group members changed: id=%s name=%s added=%v removed=%v", g.ID, g.Name, addresses(nodes), addresses(toDel))
    p.tally(func(r *Result) {
        r.NodesAdded += len(nodes)
        r.NodesRemoved += len(toDel)
        r.Mutations++
    })
    return nil
}
