package reconcile

import (
    "github.com/amirimatin/go-clustersync/pkg/diff"
    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    "github.com/amirimatin/go-clustersync/pkg/observability/metrics"
)

// publish refreshes the registry gauges and hands per-node liveness to the
// configured MetricsPublisher. Names whose group has no node are skipped.
func (c *Checker) publish() {
    if c.opts.Liveness != nil { c.opts.Liveness.Sync() }
    reg := c.opts.Registry
    groups := reg.GroupNodes()
    total := 0
    for _, nodes := range groups {
        total += len(nodes)
    }
    metrics.Groups.Set(float64(len(groups)))
    metrics.Nodes.Set(float64(total))
    if c.opts.Observers != nil {
        metrics.Observers.Set(float64(len(c.opts.Observers.List())))
    }

    pub := c.opts.Metrics
    if pub == nil {
        return
    }
    names := reg.NameToID()
    for _, name := range diff.Keys(names) {
        id := names[name]
        nodes := groups[id]
        if len(nodes) == 0 {
            logutil.Debugf(c.log, "metrics: group has no nodes: id=%s name=%s", id, name)
            continue
        }
        alive := 0
        for _, n := range nodes {
            pub.PublishNode(id, name, n.Address(), n.Alive)
            if n.Alive { alive++ }
        }
        pub.PublishGroup(id, name, alive)
    }
    pub.Flush()
}
