package reconcile

import (
    "fmt"
    "log"

    "github.com/amirimatin/go-clustersync/pkg/diff"
    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    "github.com/amirimatin/go-clustersync/pkg/observability/metrics"
    "github.com/amirimatin/go-clustersync/pkg/registry"
)

// AuditReport lists what the auditor found and healed.
type AuditReport struct {
    // EmptyGroups were removed from the primary index.
    EmptyGroups []string `json:"empty_groups,omitempty"`
    // OrphanNames were removed from the name index.
    OrphanNames []string `json:"orphan_names,omitempty"`
    // Asymmetries were only logged.
    Asymmetries []string `json:"asymmetries,omitempty"`
}

// Clean reports whether the audit found nothing.
func (r AuditReport) Clean() bool {
    return len(r.EmptyGroups) == 0 && len(r.OrphanNames) == 0 && len(r.Asymmetries) == 0
}

// Audit checks the registry cross-indices, removes orphaned entries and logs
// any remaining asymmetry. It never fails.
func Audit(reg registry.Registry, logger *log.Logger) AuditReport {
    var rep AuditReport
    groups := reg.GroupNodes()
    for _, id := range diff.Keys(groups) {
        if len(groups[id]) > 0 {
            continue
        }
        if reg.RemoveGroup(id) {
            logutil.Warnf(logger, "audit: removed empty group: id=%s", id)
            metrics.ConsistencyWarnings.WithLabelValues("empty_group").Inc()
            rep.EmptyGroups = append(rep.EmptyGroups, id)
        }
        delete(groups, id)
    }

    names := reg.NameToID()
    for _, name := range diff.Keys(names) {
        id := names[name]
        if _, ok := groups[id]; ok {
            continue
        }
        if reg.RemoveNameMapping(name) {
            logutil.Warnf(logger, "audit: removed orphan name mapping: name=%s id=%s", name, id)
            metrics.ConsistencyWarnings.WithLabelValues("orphan_name").Inc()
            rep.OrphanNames = append(rep.OrphanNames, name)
        }
        delete(names, name)
    }

    labelIDs := map[string]struct{}{}
    labelNames := map[string]struct{}{}
    for _, nodes := range groups {
        for _, n := range nodes {
            if v := n.GroupID(); v != "" { labelIDs[v] = struct{}{} }
            if v := n.GroupName(); v != "" { labelNames[v] = struct{}{} }
        }
    }
    mappedIDs := map[string]struct{}{}
    for _, id := range names {
        mappedIDs[id] = struct{}{}
    }
    check := func(kind, what string, a, b map[string]struct{}, aName, bName string) {
        onlyB, onlyA := diff.Keyed(a, b)
        if len(onlyA) == 0 && len(onlyB) == 0 {
            return
        }
        msg := fmt.Sprintf("%s: %s=%v %s=%v", what, aName, diff.Keys(a), bName, diff.Keys(b))
        logutil.Warnf(logger, "audit: index asymmetry: %s", msg)
        metrics.ConsistencyWarnings.WithLabelValues(kind).Inc()
        rep.Asymmetries = append(rep.Asymmetries, msg)
    }
    check("names", "group names", labelNames, keySet(names), "labels", "name_index")
    check("ids", "group ids", labelIDs, mappedIDs, "labels", "name_index")
    check("primary", "group ids", labelIDs, keySet(groups), "labels", "primary_index")
    return rep
}

func keySet[V any](m map[string]V) map[string]struct{} {
    out := make(map[string]struct{}, len(m))
    for k := range m {
        out[k] = struct{}{}
    }
    return out
}
