package cli

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/spf13/cobra"
    "github.com/spf13/pflag"

    "github.com/amirimatin/go-clustersync/pkg/bootstrap"
    "github.com/amirimatin/go-clustersync/pkg/discovery/static"
    "github.com/amirimatin/go-clustersync/pkg/reconcile"
)

// nodeFlags holds flag values that override a loaded config file.
type nodeFlags struct {
    configPath string
    cfg        bootstrap.Config

    metaEndpoints, metaDNS, gossipSeeds, etcdEndpoints, raftPeers string
}

func (f *nodeFlags) bind(fs *pflag.FlagSet) {
    c := &f.cfg
    fs.StringVar(&f.configPath, "config", "", "YAML config file; flags override its values")
    fs.StringVar(&c.NodeID, "id", "", "node id (required)")
    fs.BoolVar(&c.FQDNMode, "fqdn", false, "key nodes by host name instead of IP")
    fs.DurationVar(&c.Interval, "interval", 10*time.Second, "reconciliation interval")
    fs.IntVar(&c.Parallelism, "parallelism", 1, "groups reconciled concurrently")
    fs.BoolVar(&c.RunOnStart, "run-on-start", true, "run the first cycle right away")

    fs.StringVar(&c.Meta.Protocol, "meta-proto", bootstrap.ProtoGRPC, "snapshot source: grpc|file")
    fs.StringVar(&f.metaEndpoints, "meta-endpoints", "", "comma-separated meta-service addresses (host:port)")
    fs.StringVar(&c.Meta.EndpointsFile, "meta-endpoints-file", "", "path or glob to a file listing meta-service addresses")
    fs.StringVar(&c.Meta.EndpointsEnv, "meta-endpoints-env", "", "ENV var name with CSV meta-service addresses")
    fs.StringVar(&f.metaDNS, "meta-dns", "", "comma-separated SRV or host names resolving to meta-service addresses")
    fs.IntVar(&c.Meta.DNSPort, "meta-dns-port", 9020, "meta-service port for host names in --meta-dns")
    fs.StringVar(&c.Meta.SnapshotFile, "snapshot-file", "", "snapshot file (YAML or JSON) when --meta-proto=file")
    fs.DurationVar(&c.Meta.Timeout, "meta-timeout", 5*time.Second, "snapshot fetch timeout")

    fs.BoolVar(&c.Observers.Enable, "observers", false, "reconcile the control-plane observer pool")
    fs.StringVar(&c.Observers.GroupID, "observer-group-id", "", "control-plane group id")
    fs.StringVar(&c.Observers.GroupName, "observer-group-name", "", "control-plane group name")
    fs.StringVar(&c.Observers.SelfHost, "self-host", "", "host of this process in the observer pool")
    fs.IntVar(&c.Observers.SelfEditLogPort, "self-edit-log-port", 0, "edit log port of this process in the observer pool")

    fs.StringVar(&c.Raft.Bind, "raft-addr", "", "raft bind addr (tcp); empty runs without leader election")
    fs.StringVar(&c.Raft.DataDir, "data", "", "raft data dir (bolt log + snapshots); empty keeps raft in memory")
    fs.BoolVar(&c.Raft.Bootstrap, "bootstrap", false, "bootstrap a new raft cluster with this node")
    fs.StringVar(&f.raftPeers, "raft-peers", "", "comma-separated id=host:port voters added once leader")

    fs.StringVar(&c.EditLog.Backend, "edit-log", "", "edit log backend: raft|etcd|none (default raft when --raft-addr is set)")
    fs.DurationVar(&c.EditLog.Timeout, "edit-log-timeout", 5*time.Second, "raft edit log apply timeout")
    fs.StringVar(&f.etcdEndpoints, "etcd-endpoints", "", "comma-separated etcd endpoints for --edit-log=etcd")
    fs.StringVar(&c.EditLog.Etcd.Prefix, "etcd-prefix", "", "etcd key prefix")

    fs.StringVar(&c.Gossip.Bind, "gossip-bind", "", "memberlist bind addr (host:port); empty disables liveness")
    fs.StringVar(&c.Gossip.Advertise, "gossip-adv", "", "memberlist advertise addr (host:port, optional)")
    fs.StringVar(&f.gossipSeeds, "gossip-seeds", "", "comma-separated gossip seeds (host:port)")

    fs.StringVar(&c.Management.Addr, "mgmt-addr", ":17946", "management HTTP address; empty disables it")

    fs.BoolVar(&c.TLS.Enable, "tls-enable", false, "enable mTLS for meta-service and management transports")
    fs.StringVar(&c.TLS.CAFile, "tls-ca", "", "path to CA cert (PEM)")
    fs.StringVar(&c.TLS.CertFile, "tls-cert", "", "path to node certificate (PEM)")
    fs.StringVar(&c.TLS.KeyFile, "tls-key", "", "path to node private key (PEM)")
    fs.BoolVar(&c.TLS.InsecureSkipVerify, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    fs.StringVar(&c.TLS.ServerName, "tls-server-name", "", "expected server name (for TLS validation)")
    fs.BoolVar(&c.Tracing, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
}

// config returns the file config (if any) with every explicitly set flag
// applied on top. Without a file, flag defaults apply too.
func (f *nodeFlags) config(fs *pflag.FlagSet) (bootstrap.Config, error) {
    flagCfg := f.cfg
    flagCfg.Meta.Endpoints = static.Parse(f.metaEndpoints)
    flagCfg.Meta.EndpointsDNS = static.Parse(f.metaDNS)
    flagCfg.Gossip.Seeds = static.Parse(f.gossipSeeds)
    flagCfg.EditLog.Etcd.Endpoints = static.Parse(f.etcdEndpoints)
    flagCfg.Raft.Peers = static.Parse(f.raftPeers)
    if f.configPath == "" { return flagCfg, nil }

    cfg, err := bootstrap.LoadFile(f.configPath)
    if err != nil { return cfg, err }
    set := func(name string, apply func()) {
        if fs.Changed(name) { apply() }
    }
    set("id", func() { cfg.NodeID = flagCfg.NodeID })
    set("fqdn", func() { cfg.FQDNMode = flagCfg.FQDNMode })
    set("interval", func() { cfg.Interval = flagCfg.Interval })
    set("parallelism", func() { cfg.Parallelism = flagCfg.Parallelism })
    set("run-on-start", func() { cfg.RunOnStart = flagCfg.RunOnStart })
    set("meta-proto", func() { cfg.Meta.Protocol = flagCfg.Meta.Protocol })
    set("meta-endpoints", func() { cfg.Meta.Endpoints = flagCfg.Meta.Endpoints })
    set("meta-endpoints-file", func() { cfg.Meta.EndpointsFile = flagCfg.Meta.EndpointsFile })
    set("meta-endpoints-env", func() { cfg.Meta.EndpointsEnv = flagCfg.Meta.EndpointsEnv })
    set("meta-dns", func() { cfg.Meta.EndpointsDNS = flagCfg.Meta.EndpointsDNS })
    set("meta-dns-port", func() { cfg.Meta.DNSPort = flagCfg.Meta.DNSPort })
    set("snapshot-file", func() { cfg.Meta.SnapshotFile = flagCfg.Meta.SnapshotFile })
    set("meta-timeout", func() { cfg.Meta.Timeout = flagCfg.Meta.Timeout })
    set("observers", func() { cfg.Observers.Enable = flagCfg.Observers.Enable })
    set("observer-group-id", func() { cfg.Observers.GroupID = flagCfg.Observers.GroupID })
    set("observer-group-name", func() { cfg.Observers.GroupName = flagCfg.Observers.GroupName })
    set("self-host", func() { cfg.Observers.SelfHost = flagCfg.Observers.SelfHost })
    set("self-edit-log-port", func() { cfg.Observers.SelfEditLogPort = flagCfg.Observers.SelfEditLogPort })
    set("raft-addr", func() { cfg.Raft.Bind = flagCfg.Raft.Bind })
    set("data", func() { cfg.Raft.DataDir = flagCfg.Raft.DataDir })
    set("bootstrap", func() { cfg.Raft.Bootstrap = flagCfg.Raft.Bootstrap })
    set("raft-peers", func() { cfg.Raft.Peers = flagCfg.Raft.Peers })
    set("edit-log", func() { cfg.EditLog.Backend = flagCfg.EditLog.Backend })
    set("edit-log-timeout", func() { cfg.EditLog.Timeout = flagCfg.EditLog.Timeout })
    set("etcd-endpoints", func() { cfg.EditLog.Etcd.Endpoints = flagCfg.EditLog.Etcd.Endpoints })
    set("etcd-prefix", func() { cfg.EditLog.Etcd.Prefix = flagCfg.EditLog.Etcd.Prefix })
    set("gossip-bind", func() { cfg.Gossip.Bind = flagCfg.Gossip.Bind })
    set("gossip-adv", func() { cfg.Gossip.Advertise = flagCfg.Gossip.Advertise })
    set("gossip-seeds", func() { cfg.Gossip.Seeds = flagCfg.Gossip.Seeds })
    set("mgmt-addr", func() { cfg.Management.Addr = flagCfg.Management.Addr })
    set("tls-enable", func() { cfg.TLS.Enable = flagCfg.TLS.Enable })
    set("tls-ca", func() { cfg.TLS.CAFile = flagCfg.TLS.CAFile })
    set("tls-cert", func() { cfg.TLS.CertFile = flagCfg.TLS.CertFile })
    set("tls-key", func() { cfg.TLS.KeyFile = flagCfg.TLS.KeyFile })
    set("tls-skip-verify", func() { cfg.TLS.InsecureSkipVerify = flagCfg.TLS.InsecureSkipVerify })
    set("tls-server-name", func() { cfg.TLS.ServerName = flagCfg.TLS.ServerName })
    set("trace", func() { cfg.Tracing = flagCfg.Tracing })
    return cfg, nil
}

// NewRunCmd returns the "run" command used to start a reconciler node.
func NewRunCmd() *cobra.Command {
    var f nodeFlags
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a reconciler node until interrupted",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := f.config(cmd.Flags())
            if err != nil { return err }
            if cfg.Logger == nil { cfg.Logger = log.Default() }

            ctx, cancel := signalContext(cmd.Context())
            defer cancel()
            app, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }

            fmt.Fprintf(cmd.OutOrStdout(), "clustersync running (node %s). Press Ctrl+C to exit.\n", cfg.NodeID)
            <-ctx.Done()
            stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
            defer stop()
            return app.Stop(stopCtx)
        },
    }
    f.bind(cmd.Flags())
    return cmd
}

// NewOnceCmd returns the "once" command: one cycle against the configured
// snapshot source on a fresh registry, printing the result. Leader gating,
// gossip and the management endpoint are turned off.
func NewOnceCmd() *cobra.Command {
    var f nodeFlags
    cmd := &cobra.Command{
        Use:   "once",
        Short: "Run a single reconciliation cycle and print its result",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := f.config(cmd.Flags())
            if err != nil { return err }
            cfg.Raft = bootstrap.RaftConfig{}
            cfg.Gossip = bootstrap.GossipConfig{}
            cfg.Management = bootstrap.ManagementConfig{}
            if cfg.EditLog.Backend == bootstrap.EditLogRaft { cfg.EditLog.Backend = bootstrap.EditLogNone }

            app, err := bootstrap.Build(cfg)
            if err != nil { return err }
            ctx, cancel := signalContext(cmd.Context())
            defer cancel()
            res, runErr := app.Daemon.RunOnce(ctx)
            if runErr != nil && !errors.As(runErr, new(*reconcile.CycleError)) {
                return runErr
            }
            data, err := json.MarshalIndent(res, "", "  ")
            if err != nil { return err }
            if err := writeJSON(cmd, data); err != nil { return err }
            return runErr
        },
    }
    f.bind(cmd.Flags())
    cmd.Flags().Lookup("mgmt-addr").Hidden = true
    return cmd
}
