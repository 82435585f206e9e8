package registry

import (
    "maps"

    "github.com/amirimatin/go-clustersync/pkg/endpoint"
)

// Label keys carried by every registered worker node.
const (
    TagLocation        = "location"
    TagGroupName       = "cluster_name"
    TagGroupID         = "cluster_id"
    TagGroupStatus     = "cluster_status"
    TagPublicEndpoint  = "public_endpoint"
    TagPrivateEndpoint = "private_endpoint"
    TagUniqueID        = "unique_id"

    DefaultLocation = "default"
)

// DefaultTags returns a fresh copy of the base label set every worker starts
// with.
func DefaultTags() map[string]string {
    return map[string]string{TagLocation: DefaultLocation}
}

// Node is a worker node as registered locally. The registry owns the
// instances it stores; everything handed out by a Registry is a copy.
type Node struct {
    ID               int64             `json:"id"`
    Host             string            `json:"host"`
    HeartbeatPort    int               `json:"heartbeat_port"`
    Tags             map[string]string `json:"tags,omitempty"`
    Decommissioned   bool              `json:"decommissioned,omitempty"`
    Alive            bool              `json:"alive,omitempty"`
    SmoothUpgradeDst bool              `json:"smooth_upgrade_dst,omitempty"`
}

func (n *Node) tag(k string) string {
    if n == nil || n.Tags == nil { return "" }
    return n.Tags[k]
}

func (n *Node) GroupID() string         { return n.tag(TagGroupID) }
func (n *Node) GroupName() string       { return n.tag(TagGroupName) }
func (n *Node) GroupStatus() string     { return n.tag(TagGroupStatus) }
func (n *Node) PublicEndpoint() string  { return n.tag(TagPublicEndpoint) }
func (n *Node) PrivateEndpoint() string { return n.tag(TagPrivateEndpoint) }
func (n *Node) UniqueID() string        { return n.tag(TagUniqueID) }

// Address returns host:heartbeatPort.
func (n *Node) Address() string { return endpoint.Plain(n.Host, n.HeartbeatPort) }

// ExtendedKey returns the key used by the per-node membership diff.
func (n *Node) ExtendedKey() string {
    return endpoint.Extended(n.Host, n.HeartbeatPort, n.PublicEndpoint(), n.PrivateEndpoint())
}

// SetTag sets a single label, allocating the label map when needed.
func (n *Node) SetTag(k, v string) {
    if n.Tags == nil { n.Tags = map[string]string{} }
    n.Tags[k] = v
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
    if n == nil { return nil }
    c := *n
    c.Tags = maps.Clone(n.Tags)
    return &c
}
