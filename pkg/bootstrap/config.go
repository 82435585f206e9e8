package bootstrap

import (
    "errors"
    "fmt"
    "log"
    "os"
    "strings"
    "time"

    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-clustersync/pkg/reconcile"
    tlsx "github.com/amirimatin/go-clustersync/pkg/security/tlsconfig"
)

// Meta-service protocols.
const (
    ProtoGRPC = "grpc"
    ProtoFile = "file"
)

// Edit log backends.
const (
    EditLogRaft = "raft"
    EditLogEtcd = "etcd"
    EditLogNone = "none"
)

// Config defines high-level inputs to assemble a reconciler node. It can be
// loaded from YAML (LoadFile) and then overridden by flags.
type Config struct {
    NodeID      string        `yaml:"node_id"`
    FQDNMode    bool          `yaml:"fqdn_mode"`
    Interval    time.Duration `yaml:"interval"`
    Parallelism int           `yaml:"parallelism"`
    RunOnStart  bool          `yaml:"run_on_start"`

    Meta       MetaConfig       `yaml:"meta"`
    Observers  ObserverConfig   `yaml:"observers"`
    Raft       RaftConfig       `yaml:"raft"`
    EditLog    EditLogConfig    `yaml:"edit_log"`
    Gossip     GossipConfig     `yaml:"gossip"`
    Management ManagementConfig `yaml:"management"`
    TLS        tlsx.Options     `yaml:"tls"`
    Tracing    bool             `yaml:"tracing"`

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger `yaml:"-"`
    // Decommissioner receives the watershed hand-off of decommissioned nodes.
    Decommissioner reconcile.Decommissioner `yaml:"-"`
}

// MetaConfig selects where topology snapshots come from.
type MetaConfig struct {
    // Protocol is "grpc" (remote meta service) or "file" (snapshot file).
    Protocol string `yaml:"protocol"`
    // Endpoints is the static list of meta-service addresses.
    Endpoints []string `yaml:"endpoints"`
    // EndpointsFile and EndpointsEnv feed file discovery instead.
    EndpointsFile string        `yaml:"endpoints_file"`
    EndpointsEnv  string        `yaml:"endpoints_env"`
    // EndpointsDNS are SRV names, host names or host:port entries resolved
    // through DNS. Host names use DNSPort.
    EndpointsDNS []string      `yaml:"endpoints_dns"`
    DNSPort      int           `yaml:"dns_port"`
    Refresh      time.Duration `yaml:"refresh"`
    // SnapshotFile is read when Protocol is "file".
    SnapshotFile string        `yaml:"snapshot_file"`
    Timeout      time.Duration `yaml:"timeout"`
}

// ObserverConfig enables control-plane observer reconciliation.
type ObserverConfig struct {
    Enable          bool   `yaml:"enable"`
    GroupID         string `yaml:"group_id"`
    GroupName       string `yaml:"group_name"`
    SelfName        string `yaml:"self_name"`
    SelfHost        string `yaml:"self_host"`
    SelfEditLogPort int    `yaml:"self_edit_log_port"`
}

// RaftConfig enables leader gating. An empty Bind runs without consensus:
// every cycle runs locally.
type RaftConfig struct {
    Bind      string `yaml:"bind"`
    DataDir   string `yaml:"data_dir"`
    Bootstrap bool   `yaml:"bootstrap"`
    // Peers are "id=host:port" voters the leader adds once elected.
    Peers []string `yaml:"peers"`
}

type EditLogConfig struct {
    Backend string `yaml:"backend"`
    // Timeout bounds one raft edit log apply.
    Timeout time.Duration `yaml:"timeout"`
    Etcd    EtcdConfig    `yaml:"etcd"`
}

type EtcdConfig struct {
    Endpoints   []string      `yaml:"endpoints"`
    Prefix      string        `yaml:"prefix"`
    DialTimeout time.Duration `yaml:"dial_timeout"`
}

// GossipConfig enables liveness tracking. An empty Bind disables it.
type GossipConfig struct {
    Bind      string   `yaml:"bind"`
    Advertise string   `yaml:"advertise"`
    Seeds     []string `yaml:"seeds"`
}

// ManagementConfig enables the HTTP management endpoint. An empty Addr
// disables it.
type ManagementConfig struct {
    Addr string `yaml:"addr"`
}

// LoadFile reads a YAML config. Unknown keys are rejected.
func LoadFile(path string) (Config, error) {
    var cfg Config
    f, err := os.Open(path)
    if err != nil { return cfg, err }
    defer f.Close()
    dec := yaml.NewDecoder(f)
    dec.KnownFields(true)
    if err := dec.Decode(&cfg); err != nil {
        return cfg, fmt.Errorf("bootstrap: parse %s: %w", path, err)
    }
    return cfg, nil
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
    if c.Meta.Protocol == "" { c.Meta.Protocol = ProtoGRPC }
    if c.Meta.Timeout == 0 { c.Meta.Timeout = 5 * time.Second }
    if c.EditLog.Backend == "" {
        c.EditLog.Backend = EditLogNone
        if c.Raft.Bind != "" { c.EditLog.Backend = EditLogRaft }
    }
    if c.EditLog.Timeout == 0 { c.EditLog.Timeout = 5 * time.Second }
    if c.EditLog.Etcd.Prefix == "" { c.EditLog.Etcd.Prefix = "/clustersync/" }
    if c.Parallelism < 1 { c.Parallelism = 1 }
    if c.Logger == nil { c.Logger = log.Default() }
}

func (c Config) Validate() error {
    if c.NodeID == "" { return errors.New("bootstrap: missing node id") }
    if c.Interval < 0 { return errors.New("bootstrap: negative interval") }
    switch c.Meta.Protocol {
    case ProtoGRPC:
        if len(c.Meta.Endpoints) == 0 && len(c.Meta.EndpointsDNS) == 0 && c.Meta.EndpointsFile == "" && c.Meta.EndpointsEnv == "" {
            return errors.New("bootstrap: grpc meta protocol needs endpoints, dns names, an endpoints file or env")
        }
    case ProtoFile:
        if c.Meta.SnapshotFile == "" { return errors.New("bootstrap: file meta protocol needs snapshot_file") }
    default:
        return fmt.Errorf("bootstrap: unknown meta protocol %q", c.Meta.Protocol)
    }
    if c.Observers.Enable {
        if c.Observers.GroupID == "" && c.Observers.GroupName == "" {
            return errors.New("bootstrap: observers need a group id or name")
        }
        if c.Observers.SelfHost == "" || c.Observers.SelfEditLogPort <= 0 {
            return errors.New("bootstrap: observers need self host and edit log port")
        }
    }
    if c.Meta.DNSPort < 0 || c.Meta.DNSPort > 65535 { return fmt.Errorf("bootstrap: bad meta dns port %d", c.Meta.DNSPort) }
    if c.EditLog.Timeout < 0 { return errors.New("bootstrap: negative edit log timeout") }
    switch c.EditLog.Backend {
    case EditLogRaft:
        if c.Raft.Bind == "" { return errors.New("bootstrap: raft edit log needs raft.bind") }
    case EditLogEtcd:
        if len(c.EditLog.Etcd.Endpoints) == 0 { return errors.New("bootstrap: etcd edit log needs endpoints") }
    case EditLogNone:
    default:
        return fmt.Errorf("bootstrap: unknown edit log backend %q", c.EditLog.Backend)
    }
    if _, err := parsePeers(c.Raft.Peers); err != nil { return err }
    return nil
}

type peer struct{ id, addr string }

func parsePeers(in []string) ([]peer, error) {
    out := make([]peer, 0, len(in))
    for _, s := range in {
        id, addr, ok := strings.Cut(strings.TrimSpace(s), "=")
        if !ok || id == "" || addr == "" {
            return nil, fmt.Errorf("bootstrap: bad raft peer %q, want id=host:port", s)
        }
        out = append(out, peer{id: id, addr: addr})
    }
    return out, nil
}
