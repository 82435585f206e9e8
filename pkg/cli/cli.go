// Package cli exposes the reconciler as cobra commands so services can embed
// them under their own root command.
package cli

import (
    "context"
    "fmt"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    tlsx "github.com/amirimatin/go-clustersync/pkg/security/tlsconfig"
    "github.com/amirimatin/go-clustersync/pkg/transport"
    "github.com/amirimatin/go-clustersync/pkg/transport/httpjson"
)

// AddAll attaches the reconciler subcommands (run/once/status/dump/trigger)
// to the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewOnceCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewDumpCmd())
    root.AddCommand(NewTriggerCmd())
}

// NewSyncCommand returns a parent command "sync" holding every subcommand.
func NewSyncCommand() *cobra.Command {
    parent := &cobra.Command{Use: "sync", Short: "cluster topology reconciliation commands"}
    AddAll(parent)
    return parent
}

// mgmtFlags are the flags shared by commands that talk to a running node.
type mgmtFlags struct {
    addr    string
    timeout time.Duration
    tls     tlsx.Options
}

func (f *mgmtFlags) bind(cmd *cobra.Command, timeout time.Duration) {
    cmd.Flags().StringVar(&f.addr, "addr", "127.0.0.1:17946", "management HTTP address of a node (host:port)")
    cmd.Flags().DurationVar(&f.timeout, "timeout", timeout, "request timeout")
    cmd.Flags().BoolVar(&f.tls.Enable, "tls-enable", false, "enable mTLS for the management endpoint")
    cmd.Flags().StringVar(&f.tls.CAFile, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&f.tls.CertFile, "tls-cert", "", "path to client certificate (PEM)")
    cmd.Flags().StringVar(&f.tls.KeyFile, "tls-key", "", "path to client private key (PEM)")
    cmd.Flags().BoolVar(&f.tls.InsecureSkipVerify, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&f.tls.ServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

func (f *mgmtFlags) client() (transport.ManagementClient, error) {
    c := httpjson.NewClient(f.timeout)
    cfg, err := f.tls.Client()
    if err != nil { return nil, fmt.Errorf("tls client config: %w", err) }
    if cfg != nil { c.UseTLS(cfg) }
    return c, nil
}

// call builds a command that performs one management request and prints the
// JSON answer.
func call(use, short string, timeout time.Duration, do func(transport.ManagementClient, context.Context, string) ([]byte, error)) *cobra.Command {
    var f mgmtFlags
    cmd := &cobra.Command{
        Use:   use,
        Short: short,
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
            defer cancel()
            data, err := do(client, ctx, f.addr)
            if err != nil { return fmt.Errorf("%s error: %w", use, err) }
            return writeJSON(cmd, data)
        },
    }
    f.bind(cmd, timeout)
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    return call("status", "Fetch daemon status and the last cycle result as JSON", 3*time.Second, transport.ManagementClient.GetStatus)
}

// NewDumpCmd returns the "dump" command.
func NewDumpCmd() *cobra.Command {
    return call("dump", "Dump the registry (groups, nodes, name mapping) as JSON", 3*time.Second, transport.ManagementClient.GetRegistry)
}

// NewTriggerCmd returns the "trigger" command.
func NewTriggerCmd() *cobra.Command {
    return call("trigger", "Run one cycle now on a node and print its result", 30*time.Second, transport.ManagementClient.PostTrigger)
}

func writeJSON(cmd *cobra.Command, data []byte) error {
    out := cmd.OutOrStdout()
    if _, err := out.Write(data); err != nil { return err }
    if len(data) == 0 || data[len(data)-1] != '\n' {
        _, err := out.Write([]byte("\n"))
        return err
    }
    return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
    if parent == nil { parent = context.Background() }
    return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
