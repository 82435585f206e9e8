package registry

import (
    "fmt"
    "sort"
    "sync"

    "github.com/amirimatin/go-clustersync/pkg/endpoint"
)

// Observer is a control-plane node that replicates metadata without issuing
// writes.
type Observer struct {
    Name        string `json:"name"`
    Host        string `json:"host"`
    EditLogPort int    `json:"edit_log_port"`
}

// Ident returns host_editLogPort, the identity used to diff observers.
func (o Observer) Ident() string { return endpoint.Observer(o.Host, o.EditLogPort) }

// Observers is the control-plane observer pool.
type Observers interface {
    // List returns the current observers, self included.
    List() []Observer
    // Self returns the ident of the local process.
    Self() string
    // Mutate applies both lists atomically or not at all.
    Mutate(toAdd, toDel []Observer) error
}

// ObserverPool is the in-memory Observers implementation.
type ObserverPool struct {
    mu    sync.RWMutex
    self  string
    nodes map[string]Observer // by name
}

// NewObserverPool returns a pool that knows its own ident. initial is
// typically the local node itself.
func NewObserverPool(self string, initial ...Observer) *ObserverPool {
    p := &ObserverPool{self: self, nodes: make(map[string]Observer)}
    for _, o := range initial {
        p.nodes[o.Name] = o
    }
    return p
}

func (p *ObserverPool) Self() string { return p.self }

func (p *ObserverPool) List() []Observer {
    p.mu.RLock()
    defer p.mu.RUnlock()
    out := make([]Observer, 0, len(p.nodes))
    for _, o := range p.nodes {
        out = append(out, o)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
    return out
}

func (p *ObserverPool) Mutate(toAdd, toDel []Observer) error {
    p.mu.Lock()
    defer p.mu.Unlock()

    idents := make(map[string]string, len(p.nodes))
    for name, o := range p.nodes {
        idents[o.Ident()] = name
    }
    for _, o := range toDel {
        if o.Ident() == p.self {
            return fmt.Errorf("%w: refusing to drop self %s", ErrConfiguration, p.self)
        }
    }
    dropping := make(map[string]bool, len(toDel))
    for _, o := range toDel {
        if name, ok := idents[o.Ident()]; ok { dropping[name] = true }
    }
    seen := make(map[string]bool, len(toAdd))
    for _, o := range toAdd {
        if o.Name == "" {
            return fmt.Errorf("%w: observer %s has no name", ErrConfiguration, o.Ident())
        }
        if _, ok := p.nodes[o.Name]; (ok && !dropping[o.Name]) || seen[o.Name] {
            return fmt.Errorf("%w: observer name %q already in use", ErrConfiguration, o.Name)
        }
        if name, ok := idents[o.Ident()]; ok && !dropping[name] {
            return fmt.Errorf("%w: observer %s already registered as %q", ErrConfiguration, o.Ident(), name)
        }
        seen[o.Name] = true
    }

    for name := range dropping {
        delete(p.nodes, name)
    }
    for _, o := range toAdd {
        p.nodes[o.Name] = o
    }
    return nil
}

var _ Observers = (*ObserverPool)(nil)
