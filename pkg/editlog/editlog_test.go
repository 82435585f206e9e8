package editlog

import (
    "context"
    "encoding/json"
    "errors"
    "testing"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/consensus"
    "github.com/amirimatin/go-clustersync/pkg/registry"
)

type fakeConsensus struct {
    cmds    []consensus.Command
    timeout time.Duration
    err     error
}

func (f *fakeConsensus) Start(context.Context) error { return nil }
func (f *fakeConsensus) Apply(cmd consensus.Command, t time.Duration) error {
    f.cmds = append(f.cmds, cmd)
    f.timeout = t
    return f.err
}
func (f *fakeConsensus) IsLeader() bool                  { return true }
func (f *fakeConsensus) Leader() (string, string, bool) { return "n1", "", true }
func (f *fakeConsensus) Term() uint64                    { return 1 }
func (f *fakeConsensus) Stop() error                     { return nil }

func TestReplica_SnapshotRestore(t *testing.T) {
    r := NewReplica()
    n := &registry.Node{ID: 4, Host: "10.0.0.4", HeartbeatPort: 9050}
    n.SetTag(registry.TagGroupName, "alpha")
    if err := r.ApplyModifyNode(n); err != nil { t.Fatalf("apply: %v", err) }
    if err := r.ApplyModifyNode(&registry.Node{}); err == nil { t.Fatalf("expected error for node without id") }

    // the replica keeps its own copy
    n.SetTag(registry.TagGroupName, "changed")
    got, ok := r.Node(4)
    if !ok || got.GroupName() != "alpha" { t.Fatalf("unexpected node %+v", got) }

    buf, err := r.Snapshot()
    if err != nil { t.Fatalf("snapshot: %v", err) }
    r2 := NewReplica()
    if err := r2.Restore(buf); err != nil { t.Fatalf("restore: %v", err) }
    if r2.Applied() != 1 { t.Fatalf("applied = %d, want 1", r2.Applied()) }
    if got, ok := r2.Node(4); !ok || got.Host != "10.0.0.4" { t.Fatalf("restored node %+v", got) }
    if err := r2.ApplyModifyNode(&registry.Node{ID: 2}); err != nil { t.Fatalf("apply: %v", err) }
    if r2.MaxID() != 4 { t.Fatalf("max id = %d, want 4", r2.MaxID()) }

    if err := r2.Restore([]byte(`{"version":9}`)); err == nil { t.Fatalf("expected version error") }
}

func TestRaft_LogModifyNodeEncodesRecord(t *testing.T) {
    fc := &fakeConsensus{}
    sink := &Raft{C: fc, Timeout: time.Second}
    n := &registry.Node{ID: 7, Host: "h", HeartbeatPort: 1}
    if err := sink.LogModifyNode(context.Background(), n); err != nil { t.Fatalf("log: %v", err) }
    if len(fc.cmds) != 1 || fc.cmds[0].Op != OpModifyNode { t.Fatalf("unexpected commands %+v", fc.cmds) }
    if fc.timeout != time.Second { t.Fatalf("timeout = %v", fc.timeout) }
    var rec Record
    if err := json.Unmarshal(fc.cmds[0].Payload, &rec); err != nil { t.Fatalf("decode: %v", err) }
    if rec.Node == nil || rec.Node.ID != 7 { t.Fatalf("unexpected record %+v", rec) }

    // a context deadline shortens the apply timeout
    ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
    defer cancel()
    _ = sink.LogModifyNode(ctx, n)
    if fc.timeout > 100*time.Millisecond { t.Fatalf("timeout not bounded by ctx: %v", fc.timeout) }

    fc.err = errors.New("not leader")
    if err := sink.LogModifyNode(context.Background(), n); err == nil { t.Fatalf("expected apply error") }
}

func TestRaft_DefaultTimeoutAndExpiredDeadline(t *testing.T) {
    fc := &fakeConsensus{}
    sink := &Raft{C: fc}
    n := &registry.Node{ID: 7, Host: "h", HeartbeatPort: 1}
    if err := sink.LogModifyNode(context.Background(), n); err != nil { t.Fatalf("log: %v", err) }
    if fc.timeout != DefaultRaftTimeout { t.Fatalf("timeout = %v, want %v", fc.timeout, DefaultRaftTimeout) }

    ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
    defer cancel()
    if err := sink.LogModifyNode(ctx, n); !errors.Is(err, context.DeadlineExceeded) {
        t.Fatalf("err = %v, want deadline exceeded", err)
    }
    if len(fc.cmds) != 1 { t.Fatalf("an expired context must not reach consensus, got %d applies", len(fc.cmds)) }
}

func TestEtcd_NodeKey(t *testing.T) {
    e := &Etcd{prefix: DefaultEtcdPrefix}
    if k := e.NodeKey(12); k != "/clustersync/editlog/nodes/12" { t.Fatalf("key = %q", k) }
    if err := (EtcdOptions{}).Validate(); err == nil { t.Fatalf("expected validation error") }
}
