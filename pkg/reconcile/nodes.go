package reconcile

import (
    "context"

    "github.com/amirimatin/go-clustersync/pkg/endpoint"
    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    "github.com/amirimatin/go-clustersync/pkg/registry"
    "github.com/amirimatin/go-clustersync/pkg/topology"
)

// groupTags returns the merged label set every worker of g carries.
func groupTags(g topology.GroupDescriptor) map[string]string {
    t := registry.DefaultTags()
    t[registry.TagGroupName] = g.Name
    t[registry.TagGroupID] = g.ID
    t[registry.TagGroupStatus] = string(topology.ResolveStatus(g.Status))
    t[registry.TagPublicEndpoint] = g.PublicEndpoint
    t[registry.TagPrivateEndpoint] = g.PrivateEndpoint
    return t
}

// newNode builds a registered node for descriptor d of group g. d must be
// resolvable under the configured mode.
func (c *Checker) newNode(g topology.GroupDescriptor, d topology.NodeDescriptor) *registry.Node {
    addr, _ := endpoint.Resolve(d, c.opts.Mode)
    n := &registry.Node{
        ID:            c.opts.IDs.NextID(),
        Host:          addr,
        HeartbeatPort: d.HeartbeatPort,
        Tags:          groupTags(g),
    }
    if d.UniqueID != "" {
        n.SetTag(registry.TagUniqueID, d.UniqueID)
    }
    if d.SmoothUpgrade != nil {
        n.SmoothUpgradeDst = *d.SmoothUpgrade
    }
    return n
}

func (c *Checker) newNodes(g topology.GroupDescriptor, ds []topology.NodeDescriptor) []*registry.Node {
    out := make([]*registry.Node, 0, len(ds))
    for _, d := range ds {
        out = append(out, c.newNode(g, d))
    }
    return out
}

// logModified writes one edit log record per node. Failures are logged and
// counted, never retried.
func (c *Checker) logModified(ctx context.Context, p *pass, nodes []*registry.Node) {
    for _, n := range nodes {
        if err := c.opts.EditLog.LogModifyNode(ctx, n); err != nil {
            logutil.Warnf(c.log, "edit log write failed: node=%d addr=%s err=%v", n.ID, n.Address(), err)
            p.tally(func(r *Result) { r.EditLogErrors++ })
        }
    }
}

// addresses renders node addresses for log lines.
func addresses(nodes []*registry.Node) []string {
    out := make([]string, 0, len(nodes))
    for _, n := range nodes {
        out = append(out, n.Address())
    }
    return out
}
