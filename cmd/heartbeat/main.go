// Command heartbeat joins the gossip ring as a worker and announces the
// host:heartbeatPort it is registered under, so a reconciler running with
// --gossip-bind marks it alive.
package main

import (
    "context"
    "flag"
    "fmt"
    "log"
    "os/signal"
    "syscall"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/discovery/static"
    base "github.com/amirimatin/go-clustersync/pkg/membership"
    ml "github.com/amirimatin/go-clustersync/pkg/membership/memberlist"
)

func main() {
    var (
        id        = flag.String("id", "worker-1", "gossip name")
        bind      = flag.String("bind", ":7947", "bind host:port")
        advertise = flag.String("advertise", "", "advertise host:port (optional)")
        joinCSV   = flag.String("join", "", "comma-separated seeds (host:port)")
        hb        = flag.String("heartbeat", "", "registered host:heartbeatPort to announce (required)")
    )
    flag.Parse()
    if *hb == "" { log.Fatal("missing -heartbeat") }

    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()

    m, err := ml.New(ml.Options{
        NodeID:    *id,
        Bind:      *bind,
        Advertise: *advertise,
        Meta:      map[string]string{base.MetaRole: base.RoleWorker, base.MetaHeartbeat: *hb},
        Logger:    log.Default(),
    })
    if err != nil { log.Fatal(err) }
    if err := m.Start(ctx); err != nil { log.Fatal(err) }

    if seeds := static.Parse(*joinCSV); len(seeds) > 0 {
        if err := m.Join(seeds); err != nil { log.Printf("join error: %v", err) }
    }

    fmt.Printf("heartbeat announcing %s. Press Ctrl+C to exit.\n", *hb)
    go func(evch <-chan base.Event) {
        for e := range evch {
            fmt.Printf("event: %-6s id=%s role=%s at=%s\n", e.Type, e.Member.ID, e.Member.Meta[base.MetaRole], e.At.Format(time.RFC3339))
        }
    }(m.Events())

    <-ctx.Done()
    _ = m.Leave()
    _ = m.Stop()
}
