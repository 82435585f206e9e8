// Package consensus abstracts the leader election engine that decides which
// process may run reconciliation cycles and append to the edit log.
package consensus

import (
    "context"
    "time"
)

// Command is one edit log record as it travels through the replicated log.
// Op selects the handler on the replaying side; Payload is its encoded body.
type Command struct {
    Op      string
    Payload []byte
}

// Consensus gates cycles on leadership and carries the edit log write path.
type Consensus interface {
    Start(ctx context.Context) error
    // Apply appends cmd and waits until it is committed. Followers fail.
    Apply(cmd Command, timeout time.Duration) error
    IsLeader() bool
    Leader() (id string, addr string, ok bool)
    Term() uint64
    Stop() error
}

// LeaderInfo is a leadership observation.
type LeaderInfo struct {
    ID   string
    Addr string
    Term uint64
}

// LeaderNotifier is implemented by engines that push leadership changes.
// The channel is closed when the engine stops; slow readers may miss
// intermediate leaders but always see the latest.
type LeaderNotifier interface {
    LeaderCh() <-chan LeaderInfo
}

// Reconfigurer is implemented by engines whose voter set can change at
// runtime.
type Reconfigurer interface {
    AddVoter(id, addr string, timeout time.Duration) error
    RemoveServer(id string, timeout time.Duration) error
}
