// Package topology holds the read-only view of the cluster topology as
// reported by the remote metadata service. Values are decoded from the wire
// (gRPC JSON codec) or from snapshot files and are never mutated by the
// reconciler.
package topology

// Code is the result code carried by a meta-service response.
type Code string

const (
    CodeOK              Code = "OK"
    CodeClusterNotFound Code = "CLUSTER_NOT_FOUND"
    CodeInvalidArgument Code = "INVALID_ARGUMENT"
    CodeInternalError   Code = "INTERNAL_ERROR"
)

// GroupStatus is the operational status of a compute group.
type GroupStatus string

const (
    StatusNormal         GroupStatus = "NORMAL"
    StatusSuspended      GroupStatus = "SUSPENDED"
    StatusToResume       GroupStatus = "TO_RESUME"
    StatusManualShutdown GroupStatus = "MANUAL_SHUTDOWN"
    StatusUnknown        GroupStatus = "UNKNOWN"
)

// ResolveStatus returns the effective status of a group descriptor. Older
// snapshot producers omit the field entirely; those groups are NORMAL.
func ResolveStatus(s *GroupStatus) GroupStatus {
    if s == nil || *s == "" {
        return StatusNormal
    }
    return *s
}

// NodeStatus is the lifecycle status of a single node.
type NodeStatus string

const (
    NodeStatusUnknown         NodeStatus = "NODE_STATUS_UNKNOWN"
    NodeStatusRunning         NodeStatus = "NODE_STATUS_RUNNING"
    NodeStatusDecommissioning NodeStatus = "NODE_STATUS_DECOMMISSIONING"
    NodeStatusDecommissioned  NodeStatus = "NODE_STATUS_DECOMMISSIONED"
)

// GroupKind distinguishes worker-serving groups from the control-plane group.
type GroupKind string

const (
    KindCompute GroupKind = "COMPUTE"
    KindSQL     GroupKind = "SQL"
)

// NodeDescriptor describes one member of a group.
type NodeDescriptor struct {
    Host          string     `json:"host,omitempty" yaml:"host,omitempty"`
    IP            string     `json:"ip,omitempty" yaml:"ip,omitempty"`
    HeartbeatPort int        `json:"heartbeat_port,omitempty" yaml:"heartbeat_port,omitempty"`
    EditLogPort   int        `json:"edit_log_port,omitempty" yaml:"edit_log_port,omitempty"`
    UniqueID      string     `json:"unique_id,omitempty" yaml:"unique_id,omitempty"`
    SmoothUpgrade *bool      `json:"is_smooth_upgrade,omitempty" yaml:"is_smooth_upgrade,omitempty"`
    Status        NodeStatus `json:"status,omitempty" yaml:"status,omitempty"`
    // CTime is the creation time in seconds since the epoch.
    CTime int64 `json:"ctime,omitempty" yaml:"ctime,omitempty"`
}

// GroupDescriptor describes one compute group.
type GroupDescriptor struct {
    ID              string           `json:"cluster_id" yaml:"cluster_id"`
    Name            string           `json:"cluster_name" yaml:"cluster_name"`
    Status          *GroupStatus     `json:"cluster_status,omitempty" yaml:"cluster_status,omitempty"`
    Kind            GroupKind        `json:"type,omitempty" yaml:"type,omitempty"`
    Nodes           []NodeDescriptor `json:"nodes,omitempty" yaml:"nodes,omitempty"`
    PublicEndpoint  string           `json:"public_endpoint,omitempty" yaml:"public_endpoint,omitempty"`
    PrivateEndpoint string           `json:"private_endpoint,omitempty" yaml:"private_endpoint,omitempty"`
}

// IsControlPlane reports whether the group hosts control-plane nodes rather
// than workers.
func (g GroupDescriptor) IsControlPlane() bool { return g.Kind == KindSQL }

// ResponseStatus is the status block of a meta-service response.
type ResponseStatus struct {
    Code    Code   `json:"code" yaml:"code"`
    Message string `json:"msg,omitempty" yaml:"msg,omitempty"`
}

// Snapshot is the full answer of a GetCluster call.
type Snapshot struct {
    Status *ResponseStatus   `json:"status,omitempty" yaml:"status,omitempty"`
    Groups []GroupDescriptor `json:"cluster,omitempty" yaml:"cluster,omitempty"`
}

// Filter narrows a GetCluster call. The zero value asks for every group of
// the instance.
type Filter struct {
    GroupName string `json:"cluster_name,omitempty"`
    GroupID   string `json:"cluster_id,omitempty"`
}

// Code returns the response code, or the empty code when the status block is
// missing.
func (s *Snapshot) Code() Code {
    if s == nil || s.Status == nil {
        return ""
    }
    return s.Status.Code
}

// StatusPtr is a small helper for building descriptors in code and tests.
func StatusPtr(s GroupStatus) *GroupStatus { return &s }

// BoolPtr is the bool counterpart of StatusPtr.
func BoolPtr(b bool) *bool { return &b }
