// Package editlog replicates node modifications made by the reconciler. The
// reconciler treats every sink as fire-and-forget: errors are logged by the
// caller and never retried.
package editlog

import (
    "context"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/registry"
)

// OpModifyNode is the only operation the reconciler writes.
const OpModifyNode = "ModifyNode"

// Log is the durable replication hook for node modifications.
type Log interface {
    LogModifyNode(ctx context.Context, n *registry.Node) error
}

// Record is one entry of the edit log as it is stored by every backend.
type Record struct {
    Op   string         `json:"op"`
    Node *registry.Node `json:"node"`
    At   time.Time      `json:"at"`
}

// Discard drops every record.
type Discard struct{}

func (Discard) LogModifyNode(context.Context, *registry.Node) error { return nil }

var _ Log = Discard{}
