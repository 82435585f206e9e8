package cli

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http/httptest"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-clustersync/pkg/bootstrap"
    "github.com/amirimatin/go-clustersync/pkg/reconcile"
    "github.com/amirimatin/go-clustersync/pkg/transport"
    "github.com/amirimatin/go-clustersync/pkg/transport/httpjson"
)

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
    t.Helper()
    var out bytes.Buffer
    cmd.SetOut(&out)
    cmd.SetErr(&out)
    cmd.SetArgs(args)
    err := cmd.ExecuteContext(context.Background())
    return out.String(), err
}

func TestAddAll(t *testing.T) {
    root := &cobra.Command{Use: "clustersync"}
    AddAll(root)
    var names []string
    for _, c := range root.Commands() {
        names = append(names, c.Name())
    }
    if got := strings.Join(names, ","); got != "dump,once,run,status,trigger" {
        t.Fatalf("commands = %s", got)
    }
}

func TestNodeFlags_FileThenFlags(t *testing.T) {
    p := filepath.Join(t.TempDir(), "c.yaml")
    doc := "node_id: from-file\ninterval: 1m\nmeta:\n  protocol: grpc\n  endpoints: [a:1]\n"
    if err := os.WriteFile(p, []byte(doc), 0o644); err != nil { t.Fatal(err) }

    var f nodeFlags
    cmd := &cobra.Command{Use: "x"}
    f.bind(cmd.Flags())
    if err := cmd.Flags().Parse([]string{"--config", p, "--meta-endpoints", "b:2, c:3", "--parallelism", "3", "--meta-dns", "_meta._tcp.example.com", "--edit-log-timeout", "2s"}); err != nil {
        t.Fatalf("parse: %v", err)
    }
    cfg, err := f.config(cmd.Flags())
    if err != nil { t.Fatalf("config: %v", err) }
    if cfg.NodeID != "from-file" || cfg.Interval != time.Minute {
        t.Fatalf("file values lost: %+v", cfg)
    }
    if strings.Join(cfg.Meta.Endpoints, ",") != "b:2,c:3" || cfg.Parallelism != 3 {
        t.Fatalf("flags not applied: endpoints=%v parallelism=%d", cfg.Meta.Endpoints, cfg.Parallelism)
    }
    if len(cfg.Meta.EndpointsDNS) != 1 || cfg.EditLog.Timeout != 2*time.Second {
        t.Fatalf("flags not applied: dns=%v edit log timeout=%v", cfg.Meta.EndpointsDNS, cfg.EditLog.Timeout)
    }
    // unset flags keep the file value, not the flag default
    if cfg.Management.Addr != "" { t.Fatalf("mgmt addr = %q, want file value", cfg.Management.Addr) }
}

func TestNodeFlags_DefaultsWithoutFile(t *testing.T) {
    var f nodeFlags
    cmd := &cobra.Command{Use: "x"}
    f.bind(cmd.Flags())
    if err := cmd.Flags().Parse([]string{"--id", "n1", "--gossip-seeds", "10.0.0.1:7946"}); err != nil { t.Fatal(err) }
    cfg, err := f.config(cmd.Flags())
    if err != nil { t.Fatalf("config: %v", err) }
    if cfg.Interval != 10*time.Second || cfg.Meta.Protocol != bootstrap.ProtoGRPC || cfg.Management.Addr != ":17946" {
        t.Fatalf("defaults not applied: %+v", cfg)
    }
    if len(cfg.Gossip.Seeds) != 1 { t.Fatalf("seeds = %v", cfg.Gossip.Seeds) }
}

func TestOnceCmd_PrintsResult(t *testing.T) {
    snap := filepath.Join(t.TempDir(), "snapshot.yaml")
    doc := `status: {code: OK}
cluster:
  - cluster_id: g1
    cluster_name: alpha
    nodes:
      - {ip: 10.0.0.1, heartbeat_port: 9050}
`
    if err := os.WriteFile(snap, []byte(doc), 0o644); err != nil { t.Fatal(err) }
    out, err := execute(t, NewOnceCmd(), "--id", "n1", "--meta-proto", "file", "--snapshot-file", snap, "--raft-addr", "127.0.0.1:0")
    if err != nil { t.Fatalf("once: %v\n%s", err, out) }
    var res reconcile.Result
    if err := json.Unmarshal([]byte(out), &res); err != nil { t.Fatalf("decode %q: %v", out, err) }
    if len(res.GroupsAdded) != 1 || res.GroupsAdded[0] != "g1" || res.NodesAdded != 1 {
        t.Fatalf("unexpected result %+v", res)
    }
}

func TestManagementCommands(t *testing.T) {
    srv := httptest.NewServer(httpjson.Handler(transport.Handlers{
        Status:   func(context.Context) ([]byte, error) { return []byte(`{"running":true}`), nil },
        Registry: func(context.Context) ([]byte, error) { return []byte(`{"groups":{}}`), nil },
        Trigger:  func(context.Context) ([]byte, error) { return []byte(`{"cycle_id":"c1"}`), nil },
        Healthy:  func() bool { return true },
    }))
    defer srv.Close()
    addr := strings.TrimPrefix(srv.URL, "http://")

    cases := []struct {
        cmd  *cobra.Command
        want string
    }{
        {NewStatusCmd(), `{"running":true}`},
        {NewDumpCmd(), `{"groups":{}}`},
        {NewTriggerCmd(), `{"cycle_id":"c1"}`},
    }
    for _, tc := range cases {
        out, err := execute(t, tc.cmd, "--addr", addr)
        if err != nil { t.Fatalf("%s: %v", tc.cmd.Name(), err) }
        if out != tc.want+"\n" { t.Fatalf("%s printed %q", tc.cmd.Name(), out) }
    }

    if _, err := execute(t, NewStatusCmd(), "--addr", "127.0.0.1:1", "--timeout", "300ms"); err == nil {
        t.Fatalf("want error for an unreachable node")
    }
}
