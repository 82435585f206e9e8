package metaservice

import (
    "context"
    "errors"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/topology"
)

func sample() *topology.Snapshot {
    return &topology.Snapshot{
        Status: &topology.ResponseStatus{Code: topology.CodeOK},
        Groups: []topology.GroupDescriptor{
            {ID: "g1", Name: "alpha"},
            {ID: "fe", Name: "sql", Kind: topology.KindSQL},
        },
    }
}

func TestSelect(t *testing.T) {
    s := sample()
    if got := Select(s, topology.Filter{}); len(got.Groups) != 2 { t.Fatalf("empty filter: %d groups", len(got.Groups)) }
    if got := Select(s, topology.Filter{GroupID: "fe"}); len(got.Groups) != 1 || got.Groups[0].Name != "sql" { t.Fatalf("by id: %+v", got.Groups) }
    if got := Select(s, topology.Filter{GroupName: "alpha"}); len(got.Groups) != 1 || got.Groups[0].ID != "g1" { t.Fatalf("by name: %+v", got.Groups) }
    if got := Select(s, topology.Filter{GroupID: "nope"}); got.Code() != topology.CodeClusterNotFound { t.Fatalf("code = %q", got.Code()) }
}

func TestStatic_SetAndFail(t *testing.T) {
    s := NewStatic(nil)
    if _, err := s.GetCluster(context.Background(), topology.Filter{}); !errors.Is(err, ErrNoSnapshot) { t.Fatalf("err = %v", err) }
    s.Set(sample())
    if got, err := s.GetCluster(context.Background(), topology.Filter{}); err != nil || len(got.Groups) != 2 { t.Fatalf("got %v %v", got, err) }
    boom := errors.New("unavailable")
    s.Fail(boom)
    if _, err := s.GetCluster(context.Background(), topology.Filter{}); !errors.Is(err, boom) { t.Fatalf("err = %v", err) }
}

func TestFileSource_ReloadsOnChange(t *testing.T) {
    dir := t.TempDir()
    p := filepath.Join(dir, "snapshot.yaml")
    doc := `status: {code: OK}
cluster:
  - cluster_id: g1
    cluster_name: alpha
    cluster_status: SUSPENDED
    nodes:
      - {ip: 10.0.0.1, heartbeat_port: 9050, is_smooth_upgrade: true}
`
    if err := os.WriteFile(p, []byte(doc), 0o644); err != nil { t.Fatal(err) }
    fs := NewFileSource(p)
    got, err := fs.GetCluster(context.Background(), topology.Filter{})
    if err != nil { t.Fatalf("get: %v", err) }
    if len(got.Groups) != 1 || topology.ResolveStatus(got.Groups[0].Status) != topology.StatusSuspended {
        t.Fatalf("unexpected snapshot %+v", got)
    }
    n := got.Groups[0].Nodes[0]
    if n.IP != "10.0.0.1" || n.SmoothUpgrade == nil || !*n.SmoothUpgrade { t.Fatalf("unexpected node %+v", n) }

    if err := os.WriteFile(p, []byte("status: {code: CLUSTER_NOT_FOUND}\n"), 0o644); err != nil { t.Fatal(err) }
    future := time.Now().Add(time.Second)
    if err := os.Chtimes(p, future, future); err != nil { t.Fatal(err) }
    got, err = fs.GetCluster(context.Background(), topology.Filter{})
    if err != nil { t.Fatalf("get: %v", err) }
    if got.Code() != topology.CodeClusterNotFound || len(got.Groups) != 0 { t.Fatalf("reload not observed: %+v", got) }
}

func TestLoadSnapshot_JSON(t *testing.T) {
    p := filepath.Join(t.TempDir(), "snapshot.json")
    if err := os.WriteFile(p, []byte(`{"status":{"code":"OK"},"cluster":[{"cluster_id":"g1","cluster_name":"a","type":"SQL"}]}`), 0o644); err != nil { t.Fatal(err) }
    s, err := LoadSnapshot(p)
    if err != nil { t.Fatalf("load: %v", err) }
    if !s.Groups[0].IsControlPlane() { t.Fatalf("kind not decoded: %+v", s.Groups[0]) }
}
