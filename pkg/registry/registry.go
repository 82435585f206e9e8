// Package registry holds the local cache of the cluster topology: worker
// nodes indexed by group id, the group name to id mapping, and the
// control-plane observer pool.
//
// The indices are kept consistent by the reconciler. Each Registry method is
// atomic on its own; callers must not assume atomicity across calls.
package registry

// Registry is the worker-node view consumed by the reconciler. Implementations
// are shared with other subsystems and must be safe for concurrent use.
type Registry interface {
    // GroupNodes returns a copy of the group id -> nodes index.
    GroupNodes() map[string][]*Node
    // NameToID returns a copy of the group name -> group id index.
    NameToID() map[string]string
    // GroupNameByID resolves a group name through the name index. The empty
    // string means no mapping exists.
    GroupNameByID(groupID string) string
    // StatusByID returns the status label cached for a group, or "".
    StatusByID(groupID string) string

    // MutateNodes removes toDel and then adds toAdd under groupID. Both empty
    // is a no-op. A group whose node list becomes empty is removed from the
    // primary index.
    MutateNodes(groupID string, toAdd, toDel []*Node) error
    // DropGroup removes what is left of a group once its nodes are gone.
    DropGroup(groupID, groupName string) error
    // UpdateNameMapping replaces oldName with newName for groupID.
    UpdateNameMapping(newName, oldName, groupID string) error
    // SetGroupLabel sets one label on every node of a group and returns copies
    // of the modified nodes.
    SetGroupLabel(groupID, key, value string) ([]*Node, error)
    // SetDecommissioned flags a node and returns a copy of it.
    SetDecommissioned(nodeID int64, v bool) (*Node, bool)
    // SetAlive records the liveness of a node.
    SetAlive(nodeID int64, alive bool) bool

    // RemoveGroup deletes a group id from the primary index regardless of
    // its content. Used to heal orphaned entries.
    RemoveGroup(groupID string) bool
    // RemoveNameMapping deletes a name from the name index.
    RemoveNameMapping(name string) bool
}
