package metrics

import "sync"

// Publisher exports per-node and per-group liveness gauges. Series are
// overwritten in place; Flush deletes only those not published in the round
// that just ended, so a scrape never sees the vectors empty. The zero value
// is ready to use.
type Publisher struct {
    mu                 sync.Mutex
    nodes, prevNodes   map[[3]string]struct{}
    groups, prevGroups map[[2]string]struct{}
}

func (p *Publisher) PublishNode(groupID, groupName, address string, alive bool) {
    v := 0.0
    if alive { v = 1 }
    BackendAlive.WithLabelValues(groupID, groupName, address).Set(v)
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.nodes == nil { p.nodes = map[[3]string]struct{}{} }
    p.nodes[[3]string{groupID, groupName, address}] = struct{}{}
}

func (p *Publisher) PublishGroup(groupID, groupName string, aliveTotal int) {
    BackendAliveTotal.WithLabelValues(groupID, groupName).Set(float64(aliveTotal))
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.groups == nil { p.groups = map[[2]string]struct{}{} }
    p.groups[[2]string{groupID, groupName}] = struct{}{}
}

// Flush ends a publishing round.
func (p *Publisher) Flush() {
    p.mu.Lock()
    defer p.mu.Unlock()
    for k := range p.prevNodes {
        if _, ok := p.nodes[k]; !ok { BackendAlive.DeleteLabelValues(k[0], k[1], k[2]) }
    }
    for k := range p.prevGroups {
        if _, ok := p.groups[k]; !ok { BackendAliveTotal.DeleteLabelValues(k[0], k[1]) }
    }
    p.prevNodes, p.nodes = p.nodes, nil
    p.prevGroups, p.groups = p.groups, nil
}
