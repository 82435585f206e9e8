package grpc

import (
    "context"
    "errors"
    "net"
    "strings"
    "testing"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/discovery/static"
    "github.com/amirimatin/go-clustersync/pkg/metaservice"
    "github.com/amirimatin/go-clustersync/pkg/topology"
)

func testSnapshot() *topology.Snapshot {
    return &topology.Snapshot{
        Status: &topology.ResponseStatus{Code: topology.CodeOK},
        Groups: []topology.GroupDescriptor{
            {ID: "g1", Name: "alpha", Kind: topology.KindCompute, Status: topology.StatusPtr(topology.StatusSuspended),
                Nodes: []topology.NodeDescriptor{{Host: "be1", IP: "10.0.0.1", HeartbeatPort: 9050, SmoothUpgrade: topology.BoolPtr(true)}}},
            {ID: "fe", Name: "sql", Kind: topology.KindSQL,
                Nodes: []topology.NodeDescriptor{{Host: "fe1", IP: "10.9.0.1", EditLogPort: 9010, CTime: 42}}},
        },
    }
}

func startServer(t *testing.T, fn func(context.Context, topology.Filter) (*topology.Snapshot, error)) *Server {
    t.Helper()
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    s := NewServer("127.0.0.1:0")
    if err := s.Start(ctx, fn); err != nil {
        t.Fatalf("start: %v", err)
    }
    return s
}

// deadAddr returns an address nothing listens on.
func deadAddr(t *testing.T) string {
    t.Helper()
    l, err := net.Listen("tcp", "127.0.0.1:0")
    if err != nil { t.Fatalf("listen: %v", err) }
    addr := l.Addr().String()
    _ = l.Close()
    return addr
}

func TestGetCluster_RoundTrip(t *testing.T) {
    src := metaservice.NewStatic(testSnapshot())
    s := startServer(t, src.GetCluster)
    c := NewClient(static.New(s.Addr()), 2*time.Second)
    defer c.Close()

    got, err := c.GetCluster(context.Background(), topology.Filter{})
    if err != nil { t.Fatalf("get: %v", err) }
    if got.Code() != topology.CodeOK || len(got.Groups) != 2 {
        t.Fatalf("unexpected snapshot: %+v", got)
    }
    g := got.Groups[0]
    if topology.ResolveStatus(g.Status) != topology.StatusSuspended || g.Nodes[0].SmoothUpgrade == nil || !*g.Nodes[0].SmoothUpgrade {
        t.Fatalf("group fields lost on the wire: %+v", g)
    }
    if got.Groups[1].Nodes[0].CTime != 42 || !got.Groups[1].IsControlPlane() {
        t.Fatalf("control plane fields lost on the wire: %+v", got.Groups[1])
    }

    got, err = c.GetCluster(context.Background(), topology.Filter{GroupID: "missing"})
    if err != nil { t.Fatalf("get filtered: %v", err) }
    if got.Code() != topology.CodeClusterNotFound {
        t.Fatalf("want CLUSTER_NOT_FOUND, got %s", got.Code())
    }
    if c.conns().Len() != 1 {
        t.Fatalf("want one cached connection, got %d", c.conns().Len())
    }
}

func TestGetCluster_HandlerErrorIsInternalStatus(t *testing.T) {
    s := startServer(t, func(context.Context, topology.Filter) (*topology.Snapshot, error) {
        return nil, errors.New("catalog offline")
    })
    c := NewClient(static.New(s.Addr()), 2*time.Second)
    defer c.Close()
    got, err := c.GetCluster(context.Background(), topology.Filter{})
    if err != nil { t.Fatalf("get: %v", err) }
    if got.Code() != topology.CodeInternalError || got.Status.Message != "catalog offline" {
        t.Fatalf("unexpected status: %+v", got.Status)
    }
}

func TestGetCluster_FailsOverAndPrefersLastGood(t *testing.T) {
    s := startServer(t, metaservice.NewStatic(testSnapshot()).GetCluster)
    dead := deadAddr(t)
    c := NewClient(static.New(dead, s.Addr()), 500*time.Millisecond)
    defer c.Close()

    if _, err := c.GetCluster(context.Background(), topology.Filter{}); err != nil {
        t.Fatalf("get with failover: %v", err)
    }
    order := c.order([]string{dead, s.Addr()})
    if order[0] != s.Addr() || order[1] != dead {
        t.Fatalf("last good endpoint should be tried first, got %v", order)
    }
}

func TestGetCluster_AllEndpointsFail(t *testing.T) {
    a, b := deadAddr(t), deadAddr(t)
    c := NewClient(static.New(a, b), 300*time.Millisecond)
    defer c.Close()
    _, err := c.GetCluster(context.Background(), topology.Filter{})
    if err == nil { t.Fatalf("want error") }
    if !strings.Contains(err.Error(), a) || !strings.Contains(err.Error(), b) {
        t.Fatalf("error should name every endpoint: %v", err)
    }

    empty := NewClient(static.New(), time.Second)
    if _, err := empty.GetCluster(context.Background(), topology.Filter{}); !errors.Is(err, ErrNoEndpoints) {
        t.Fatalf("want ErrNoEndpoints, got %v", err)
    }
}

func TestClient_OrderKeepsDiscoveryOrderWithoutPreference(t *testing.T) {
    c := NewClient(static.New(), time.Second)
    in := []string{"a:1", "b:1", "c:1"}
    if got := c.order(in); strings.Join(got, ",") != "a:1,b:1,c:1" {
        t.Fatalf("got %v", got)
    }
    c.prefer("gone:1")
    if got := c.order(in); strings.Join(got, ",") != "a:1,b:1,c:1" {
        t.Fatalf("unknown preference must be ignored, got %v", got)
    }
    c.prefer("c:1")
    if got := c.order(in); strings.Join(got, ",") != "c:1,a:1,b:1" {
        t.Fatalf("got %v", got)
    }
}
