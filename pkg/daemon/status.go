package daemon

import (
    "github.com/amirimatin/go-clustersync/pkg/reconcile"
)

// Status is the JSON document served on the management /status endpoint.
type Status struct {
    Running  bool   `json:"running"`
    Leader   bool   `json:"leader"`
    LeaderID string `json:"leader_id,omitempty"`
    Term     uint64 `json:"term,omitempty"`
    Phase    string `json:"phase"`
    Interval string `json:"interval"`
    // Cycles counts cycles this process ran, skipped ones excluded.
    Cycles    uint64            `json:"cycles"`
    LastCycle *reconcile.Result `json:"last_cycle,omitempty"`
    LastError string            `json:"last_error,omitempty"`
}
