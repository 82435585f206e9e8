package raftcons

import (
    "encoding/json"
    "fmt"
    "io"

    "github.com/hashicorp/raft"

    c "github.com/amirimatin/go-clustersync/pkg/consensus"
    "github.com/amirimatin/go-clustersync/pkg/editlog"
)

// editLogFSM replays committed commands into an editlog.State. Errors are
// returned as the Apply response so the writer sees them.
type editLogFSM struct {
    st editlog.State
}

func newEditLogFSM(st editlog.State) *editLogFSM { return &editLogFSM{st: st} }

func (f *editLogFSM) Apply(l *raft.Log) interface{} {
    if l.Type != raft.LogCommand { return nil }
    var cmd c.Command
    if err := json.Unmarshal(l.Data, &cmd); err != nil { return fmt.Errorf("raftcons: decode command at %d: %w", l.Index, err) }
    if cmd.Op != editlog.OpModifyNode {
        // records written by newer versions are skipped
        return nil
    }
    var rec editlog.Record
    if err := json.Unmarshal(cmd.Payload, &rec); err != nil { return fmt.Errorf("raftcons: decode record at %d: %w", l.Index, err) }
    if rec.Node == nil { return fmt.Errorf("raftcons: record at %d has no node", l.Index) }
    return f.st.ApplyModifyNode(rec.Node)
}

func (f *editLogFSM) Snapshot() (raft.FSMSnapshot, error) {
    blob, err := f.st.Snapshot()
    if err != nil { return nil, err }
    return &snapshot{blob: blob}, nil
}

func (f *editLogFSM) Restore(rc io.ReadCloser) error {
    defer rc.Close()
    data, err := io.ReadAll(rc)
    if err != nil { return err }
    return f.st.Restore(data)
}

// snapshot is an encoded State captured at Snapshot time.
type snapshot struct{ blob []byte }

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
    if _, err := sink.Write(s.blob); err != nil {
        _ = sink.Cancel()
        return err
    }
    return sink.Close()
}

func (s *snapshot) Release() {}

var _ raft.FSM = (*editLogFSM)(nil)
