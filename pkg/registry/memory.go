package registry

import (
    "fmt"
    "maps"
    "slices"
    "sort"
    "sync"
)

// Memory is the in-process Registry. It is safe for concurrent use.
type Memory struct {
    mu     sync.RWMutex
    groups map[string][]*Node
    names  map[string]string
}

// NewMemory returns an empty registry.
func NewMemory() *Memory {
    return &Memory{groups: make(map[string][]*Node), names: make(map[string]string)}
}

func (m *Memory) GroupNodes() map[string][]*Node {
    m.mu.RLock()
    defer m.mu.RUnlock()
    out := make(map[string][]*Node, len(m.groups))
    for id, nodes := range m.groups {
        out[id] = cloneNodes(nodes)
    }
    return out
}

func (m *Memory) NameToID() map[string]string {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return maps.Clone(m.names)
}

func (m *Memory) GroupNameByID(groupID string) string {
    m.mu.RLock()
    defer m.mu.RUnlock()
    // several names may point at one id while an index is damaged; pick the
    // smallest for a stable answer
    var found []string
    for name, id := range m.names {
        if id == groupID { found = append(found, name) }
    }
    if len(found) == 0 { return "" }
    sort.Strings(found)
    return found[0]
}

func (m *Memory) StatusByID(groupID string) string {
    m.mu.RLock()
    defer m.mu.RUnlock()
    for _, n := range m.groups[groupID] {
        if s := n.GroupStatus(); s != "" { return s }
    }
    return ""
}

func (m *Memory) MutateNodes(groupID string, toAdd, toDel []*Node) error {
    if len(toAdd) == 0 && len(toDel) == 0 { return nil }
    if groupID == "" { return ErrEmptyGroupID }
    m.mu.Lock()
    defer m.mu.Unlock()

    cur := m.groups[groupID]
    if len(toDel) > 0 {
        gone := make(map[int64]struct{}, len(toDel))
        for _, n := range toDel {
            if n != nil { gone[n.ID] = struct{}{} }
        }
        cur = slices.DeleteFunc(cur, func(n *Node) bool { _, ok := gone[n.ID]; return ok })
    }
    for _, n := range toAdd {
        if n == nil { continue }
        c := n.Clone()
        // replace a node re-added under the same id
        cur = slices.DeleteFunc(cur, func(x *Node) bool { return x.ID == c.ID })
        cur = append(cur, c)
        if name := c.GroupName(); name != "" {
            m.names[name] = groupID
        }
    }
    if len(cur) == 0 {
        delete(m.groups, groupID)
        return nil
    }
    m.groups[groupID] = cur
    return nil
}

func (m *Memory) DropGroup(groupID, groupName string) error {
    if groupID == "" { return ErrEmptyGroupID }
    m.mu.Lock()
    defer m.mu.Unlock()
    delete(m.groups, groupID)
    if groupName == "" { return nil }
    if id, ok := m.names[groupName]; !ok || id != groupID {
        return fmt.Errorf("%w: name %q does not map to %s", ErrUnknownGroup, groupName, groupID)
    }
    delete(m.names, groupName)
    return nil
}

func (m *Memory) UpdateNameMapping(newName, oldName, groupID string) error {
    if groupID == "" { return ErrEmptyGroupID }
    m.mu.Lock()
    defer m.mu.Unlock()
    if oldName != "" {
        if id, ok := m.names[oldName]; ok && id == groupID {
            delete(m.names, oldName)
        }
    }
    if newName != "" {
        m.names[newName] = groupID
    }
    return nil
}

func (m *Memory) SetGroupLabel(groupID, key, value string) ([]*Node, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    nodes, ok := m.groups[groupID]
    if !ok { return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID) }
    for _, n := range nodes {
        n.SetTag(key, value)
    }
    return cloneNodes(nodes), nil
}

func (m *Memory) SetDecommissioned(nodeID int64, v bool) (*Node, bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    n := m.findLocked(nodeID)
    if n == nil { return nil, false }
    n.Decommissioned = v
    return n.Clone(), true
}

func (m *Memory) SetAlive(nodeID int64, alive bool) bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    n := m.findLocked(nodeID)
    if n == nil { return false }
    n.Alive = alive
    return true
}

func (m *Memory) RemoveGroup(groupID string) bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.groups[groupID]; !ok { return false }
    delete(m.groups, groupID)
    return true
}

func (m *Memory) RemoveNameMapping(name string) bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.names[name]; !ok { return false }
    delete(m.names, name)
    return true
}

func (m *Memory) findLocked(nodeID int64) *Node {
    for _, nodes := range m.groups {
        for _, n := range nodes {
            if n.ID == nodeID { return n }
        }
    }
    return nil
}

// Image is a serialisable copy of the registry indices.
type Image struct {
    Groups   map[string][]*Node `json:"groups"`
    NameToID map[string]string  `json:"name_to_id"`
}

// Image returns a deep copy of both indices with nodes ordered by id.
func (m *Memory) Image() Image {
    m.mu.RLock()
    defer m.mu.RUnlock()
    img := Image{Groups: make(map[string][]*Node, len(m.groups)), NameToID: maps.Clone(m.names)}
    for id, nodes := range m.groups {
        c := cloneNodes(nodes)
        sort.Slice(c, func(i, j int) bool { return c[i].ID < c[j].ID })
        img.Groups[id] = c
    }
    return img
}

// Restore replaces the registry content with img verbatim. No invariant is
// checked; an image may describe a damaged state.
func (m *Memory) Restore(img Image) {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.groups = make(map[string][]*Node, len(img.Groups))
    for id, nodes := range img.Groups {
        m.groups[id] = cloneNodes(nodes)
    }
    m.names = maps.Clone(img.NameToID)
    if m.names == nil { m.names = make(map[string]string) }
}

// MaxID returns the largest node id currently registered.
func (m *Memory) MaxID() int64 {
    m.mu.RLock()
    defer m.mu.RUnlock()
    var max int64
    for _, nodes := range m.groups {
        for _, n := range nodes {
            if n.ID > max { max = n.ID }
        }
    }
    return max
}

func cloneNodes(in []*Node) []*Node {
    out := make([]*Node, 0, len(in))
    for _, n := range in {
        out = append(out, n.Clone())
    }
    return out
}

var _ Registry = (*Memory)(nil)
