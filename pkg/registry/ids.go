package registry

import "sync/atomic"

// IDAllocator hands out node ids.
type IDAllocator interface {
    NextID() int64
}

// Sequence is a monotonically increasing IDAllocator safe for concurrent use.
type Sequence struct {
    last atomic.Int64
}

// NewSequence returns a Sequence whose first id is start+1.
func NewSequence(start int64) *Sequence {
    s := &Sequence{}
    s.last.Store(start)
    return s
}

func (s *Sequence) NextID() int64 { return s.last.Add(1) }

// Observe raises the sequence so that ids up to v are never handed out again.
// Used after restoring a registry image.
func (s *Sequence) Observe(v int64) {
    for {
        cur := s.last.Load()
        if v <= cur || s.last.CompareAndSwap(cur, v) { return }
    }
}

var _ IDAllocator = (*Sequence)(nil)
