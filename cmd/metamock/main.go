// Command metamock serves a snapshot file over the gRPC meta service so a
// reconciler can be run against it locally. The file is re-read when it
// changes, so editing it drives the next cycle.
package main

import (
    "context"
    "flag"
    "fmt"
    "log"
    "os/signal"
    "syscall"

    "github.com/amirimatin/go-clustersync/pkg/metaservice"
    tlsx "github.com/amirimatin/go-clustersync/pkg/security/tlsconfig"
    metagrpc "github.com/amirimatin/go-clustersync/pkg/transport/grpc"
)

func main() {
    var (
        bind    = flag.String("bind", ":9020", "gRPC bind host:port")
        file    = flag.String("snapshot", "snapshot.yaml", "snapshot file (YAML or JSON)")
        tlsOn   = flag.Bool("tls-enable", false, "serve with mTLS")
        tlsCA   = flag.String("tls-ca", "", "path to CA cert (PEM)")
        tlsCert = flag.String("tls-cert", "", "path to server certificate (PEM)")
        tlsKey  = flag.String("tls-key", "", "path to server private key (PEM)")
    )
    flag.Parse()

    if _, err := metaservice.LoadSnapshot(*file); err != nil { log.Fatalf("snapshot: %v", err) }

    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()

    srv := metagrpc.NewServer(*bind)
    topts := tlsx.Options{Enable: *tlsOn, CAFile: *tlsCA, CertFile: *tlsCert, KeyFile: *tlsKey}
    cfg, err := topts.ServerHotReload()
    if err != nil { log.Fatalf("tls: %v", err) }
    if cfg != nil { srv.UseTLS(cfg) }

    src := metaservice.NewFileSource(*file)
    if err := srv.Start(ctx, src.GetCluster); err != nil { log.Fatal(err) }
    fmt.Printf("metamock serving %s on %s. Press Ctrl+C to exit.\n", *file, srv.Addr())

    <-ctx.Done()
    _ = srv.Stop(context.Background())
}
