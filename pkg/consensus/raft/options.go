package raftcons

import (
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/editlog"
)

// Options configure a Node.
type Options struct {
    NodeID string
    Logger *log.Logger

    // Bootstrap forms a single-voter cluster on first Start. A data dir that
    // already holds raft state is left as is.
    Bootstrap bool

    // Zero keeps the raft defaults.
    HeartbeatTimeout time.Duration
    ElectionTimeout  time.Duration
    CommitTimeout    time.Duration
    // ApplyTimeout bounds Apply calls that pass no timeout.
    ApplyTimeout time.Duration

    // BindAddr selects a TCP transport ("127.0.0.1:0" picks a port). Empty
    // uses an in-memory transport, for tests.
    BindAddr string

    // DataDir keeps the log in a bolt store and snapshots on disk. Empty
    // keeps everything in memory.
    DataDir           string
    SnapshotsRetained int

    // State receives committed edit log records. Defaults to a fresh
    // editlog.Replica.
    State editlog.State
}

func (o Options) Validate() error {
    if o.NodeID == "" { return errors.New("raftcons: empty NodeID") }
    if o.HeartbeatTimeout < 0 || o.ElectionTimeout < 0 || o.CommitTimeout < 0 || o.ApplyTimeout < 0 {
        return errors.New("raftcons: negative timeout")
    }
    return nil
}

func (o *Options) defaults() {
    if o.Logger == nil { o.Logger = log.Default() }
    if o.State == nil { o.State = editlog.NewReplica() }
    if o.ApplyTimeout == 0 { o.ApplyTimeout = 5 * time.Second }
    if o.SnapshotsRetained == 0 { o.SnapshotsRetained = 2 }
}
