package daemon

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/consensus"
)

type EventType string

const (
    EventCycleFinished EventType = "cycle_finished"
    EventCycleFailed   EventType = "cycle_failed"
    EventGroupAdded    EventType = "group_added"
    EventGroupDropped  EventType = "group_dropped"
    EventObserverError EventType = "observer_error"
    EventLeaderChanged EventType = "leader_changed"
)

// Event describes something a cycle did. Only the fields relevant to Type
// are set.
type Event struct {
    Type    EventType
    At      time.Time
    CycleID string
    GroupID string
    Err     string
    Leader  *consensus.LeaderInfo
}

// Subscribe returns a buffered channel of events, closed when ctx is done.
// Delivery is best effort: a slow consumer misses events rather than
// stalling the cycle loop.
func (d *Daemon) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    d.eb.add(ch)
    go func() {
        <-ctx.Done()
        d.eb.remove(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    defer e.mu.Unlock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
}

// remove closes ch under the lock so publish never sends on a closed channel.
func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    defer e.mu.Unlock()
    if _, ok := e.subs[ch]; ok {
        delete(e.subs, ch)
        close(ch)
    }
}

func (e *eventBus) publish(ev Event) {
    if ev.At.IsZero() { ev.At = time.Now() }
    e.mu.Lock()
    defer e.mu.Unlock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
}
