package reconcile

import (
    "context"
    "fmt"

    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    "github.com/amirimatin/go-clustersync/pkg/observability/metrics"
    "github.com/amirimatin/go-clustersync/pkg/topology"
)

// addGroups creates every remote group absent locally with one bulk
// mutation per group.
func (c *Checker) addGroups(_ context.Context, p *pass, ids []string) error {
    for _, id := range ids {
        g := p.remote[id]
        nodes := c.newNodes(g, g.Nodes)
        if err := c.opts.Registry.MutateNodes(id, nodes, nil); err != nil {
            return fmt.Errorf("add group %s: %w", id, err)
        }
        metrics.Mutations.WithLabelValues("add_group").Inc()
        logutil.Infof(c.log, "group added: id=%s name=%s status=%s nodes=%v", id, g.Name, topology.ResolveStatus(g.Status), addresses(nodes))
        p.tally(func(r *Result) {
            r.GroupsAdded = append(r.GroupsAdded, id)
            r.NodesAdded += len(nodes)
            r.Mutations++
        })
    }
    return nil
}

// dropGroups removes every local group absent remotely: first its nodes,
// then its name mapping. A group whose name cannot be resolved keeps the
// node removal and skips the mapping step; the auditor cleans up later.
func (c *Checker) dropGroups(_ context.Context, p *pass, ids []string) error {
    reg := c.opts.Registry
    for _, id := range ids {
        nodes := p.local[id]
        if err := reg.MutateNodes(id, nil, nodes); err != nil {
            return fmt.Errorf("drop nodes of group %s: %w", id, err)
        }
        metrics.Mutations.WithLabelValues("drop_group").Inc()
        p.tally(func(r *Result) {
            r.GroupsDropped = append(r.GroupsDropped, id)
            r.NodesRemoved += len(nodes)
            if len(nodes) > 0 { r.Mutations++ }
        })

        name := reg.GroupNameByID(id)
        if name == "" {
            logutil.Warnf(c.log, "group dropped without name mapping: id=%s nodes=%v", id, addresses(nodes))
            p.warn()
            continue
        }
        if err := reg.DropGroup(id, name); err != nil {
            return fmt.Errorf("drop group %s (%s): %w", id, name, err)
        }
        p.tally(func(r *Result) { r.Mutations++ })
        logutil.Infof(c.log, "group dropped: id=%s name=%s nodes=%v", id, name, addresses(nodes))
    }
    return nil
}

// checkCounts compares the number of remote and local groups once add and
// drop are done. A mismatch is advisory only.
func (c *Checker) checkCounts(p *pass) {
    local := len(c.opts.Registry.GroupNodes())
    if local != len(p.remote) {
        logutil.Warnf(c.log, "group count mismatch after add/drop: remote=%d local=%d", len(p.remote), local)
        p.warn()
    }
}
