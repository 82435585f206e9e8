package reconcile

import (
    "sync"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/registry"
    "github.com/amirimatin/go-clustersync/pkg/topology"
)

// Result summarises one cycle. Counters only cover what this checker did;
// Mutations counts every registry and observer-pool write call it issued.
type Result struct {
    CycleID  string        `json:"cycle_id"`
    Started  time.Time     `json:"started"`
    Duration time.Duration `json:"duration"`

    RemoteGroups  int      `json:"remote_groups"`
    GroupsAdded   []string `json:"groups_added,omitempty"`
    GroupsDropped []string `json:"groups_dropped,omitempty"`
    NodesAdded    int      `json:"nodes_added"`
    NodesRemoved  int      `json:"nodes_removed"`
    Renames       int      `json:"renames"`
    StatusChanges int      `json:"status_changes"`
    Decommissions int      `json:"decommissions"`

    ObserversAdded   int    `json:"observers_added"`
    ObserversRemoved int    `json:"observers_removed"`
    ObserverError    string `json:"observer_error,omitempty"`

    Mutations     int         `json:"mutations"`
    EditLogErrors int         `json:"edit_log_errors"`
    Warnings      int         `json:"warnings"`
    Audit         AuditReport `json:"audit"`
}

// pass is the working state of one cycle.
type pass struct {
    remote map[string]topology.GroupDescriptor
    local  map[string][]*registry.Node

    mu  sync.Mutex
    res Result
}

func (p *pass) tally(fn func(r *Result)) {
    p.mu.Lock()
    fn(&p.res)
    p.mu.Unlock()
}

func (p *pass) warn() { p.tally(func(r *Result) { r.Warnings++ }) }

func (p *pass) result() Result {
    p.mu.Lock()
    defer p.mu.Unlock()
    r := p.res
    r.GroupsAdded = append([]string(nil), p.res.GroupsAdded...)
    r.GroupsDropped = append([]string(nil), p.res.GroupsDropped...)
    return r
}
