package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "log"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-clustersync/pkg/discovery"
    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    "github.com/amirimatin/go-clustersync/pkg/metaservice"
    obsmetrics "github.com/amirimatin/go-clustersync/pkg/observability/metrics"
    "github.com/amirimatin/go-clustersync/pkg/observability/tracing"
    "github.com/amirimatin/go-clustersync/pkg/topology"
    "github.com/amirimatin/go-clustersync/pkg/transport"
)

const getClusterMethod = "/metaservice.v1.MetaService/GetCluster"

// ErrNoEndpoints is returned when discovery yields no meta-service address.
var ErrNoEndpoints = errors.New("grpc: no meta service endpoints")

// Client fetches snapshots from the meta service. Endpoints come from
// discovery; the endpoint that answered last is tried first and the others
// are tried in order when it fails.
type Client struct {
    disc    discovery.Discovery
    timeout time.Duration
    tlsCfg  *tls.Config
    logger  *log.Logger

    cmOnce sync.Once
    cm     *ConnManager

    mu        sync.Mutex
    preferred string
}

// NewClient returns a client with a per-endpoint call timeout.
func NewClient(disc discovery.Discovery, timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{disc: disc, timeout: timeout, logger: log.Default()}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

// WithLogger sets the logger used for failover messages.
func (c *Client) WithLogger(l *log.Logger) *Client {
    if l != nil { c.logger = l }
    return c
}

func (c *Client) dial(ctx context.Context, target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype(codecName)),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithBlock(),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.DialContext(ctx, target, opts...)
}

func (c *Client) conns() *ConnManager {
    c.cmOnce.Do(func() { c.cm = NewConnManager(30*time.Second, c.dial) })
    return c.cm
}

// GetCluster asks each endpoint in turn until one answers. Any answer ends
// the search, including a non-OK status: the status describes the cluster,
// not the endpoint.
func (c *Client) GetCluster(ctx context.Context, f topology.Filter) (*topology.Snapshot, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.get_cluster", "cluster_id", f.GroupID, "cluster_name", f.GroupName)
    defer end()
    targets := c.order(c.disc.Endpoints())
    if len(targets) == 0 { return nil, ErrNoEndpoints }

    var errs []error
    for i, addr := range targets {
        snap, err := c.call(ctx, addr, f)
        if err == nil {
            obsmetrics.MetaRequests.WithLabelValues("ok").Inc()
            c.prefer(addr)
            return snap, nil
        }
        obsmetrics.MetaRequests.WithLabelValues("error").Inc()
        errs = append(errs, fmt.Errorf("%s: %w", addr, err))
        if ctx.Err() != nil { break }
        if i+1 < len(targets) {
            logutil.Warnf(c.logger, "meta service endpoint failed, trying next: addr=%s next=%s err=%v", addr, targets[i+1], err)
        }
    }
    err := errors.Join(errs...)
    tracing.Fail(ctx, err)
    return nil, err
}

func (c *Client) call(ctx context.Context, addr string, f topology.Filter) (*topology.Snapshot, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.conns().Get(cctx, addr)
    if err != nil { return nil, err }
    req := transport.GetClusterRequest{GroupName: f.GroupName, GroupID: f.GroupID}
    out := new(topology.Snapshot)
    err = cc.Invoke(cctx, getClusterMethod, &req, out)
    rel()
    if err != nil {
        c.conns().Drop(addr)
        return nil, err
    }
    return out, nil
}

// order moves the preferred endpoint to the front, keeping the rest in
// discovery order.
func (c *Client) order(eps []string) []string {
    c.mu.Lock()
    pref := c.preferred
    c.mu.Unlock()
    if pref == "" { return eps }
    out := make([]string, 0, len(eps))
    found := false
    for _, e := range eps {
        if e == pref { found = true; continue }
        out = append(out, e)
    }
    if !found { return eps }
    return append([]string{pref}, out...)
}

func (c *Client) prefer(addr string) {
    c.mu.Lock()
    defer c.mu.Unlock()
    c.preferred = addr
}

// Close releases cached connections.
func (c *Client) Close() error {
    if c.cm != nil { c.cm.Close() }
    return nil
}

var _ metaservice.Client = (*Client)(nil)
