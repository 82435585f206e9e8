// Package dns discovers meta-service endpoints from DNS: SRV records carry
// their own ports, plain host names resolve to every A/AAAA address on
// DefaultPort.
package dns

import (
    "context"
    "log"
    "net"
    "slices"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/discovery"
    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
)

// DefaultPort is the meta-service gRPC port assumed for A/AAAA answers.
const DefaultPort = 9020

// Options configures DNS-based discovery.
type Options struct {
    // Names are SRV names ("_meta._tcp.example.com"), host names, or
    // host:port entries taken as they are.
    Names []string
    // Port is used for A/AAAA answers. Defaults to DefaultPort.
    Port int
    // Refresh bounds how long an answer is reused. Defaults to 30s.
    Refresh time.Duration
    // LookupTimeout bounds one resolution round. Defaults to 2s.
    LookupTimeout time.Duration
    // Resolver defaults to net.DefaultResolver.
    Resolver *net.Resolver
    Logger   *log.Logger
}

type resolver struct {
    opts Options

    mu     sync.Mutex
    readAt time.Time
    addrs  []string
}

func New(opts Options) discovery.Discovery {
    if opts.Port <= 0 { opts.Port = DefaultPort }
    if opts.Refresh <= 0 { opts.Refresh = 30 * time.Second }
    if opts.LookupTimeout <= 0 { opts.LookupTimeout = 2 * time.Second }
    if opts.Resolver == nil { opts.Resolver = net.DefaultResolver }
    if opts.Logger == nil { opts.Logger = log.Default() }
    return &resolver{opts: opts}
}

// Endpoints returns the cached answer while it is fresh. A round that
// resolves nothing keeps the previous answer.
func (r *resolver) Endpoints() []string {
    r.mu.Lock()
    defer r.mu.Unlock()
    if r.addrs == nil || time.Since(r.readAt) >= r.opts.Refresh {
        ctx, cancel := context.WithTimeout(context.Background(), r.opts.LookupTimeout)
        addrs := r.resolve(ctx)
        cancel()
        if len(addrs) > 0 {
            r.addrs = addrs
        } else if len(r.opts.Names) > 0 {
            logutil.Warnf(r.opts.Logger, "meta dns discovery resolved nothing: names=%v kept=%d", r.opts.Names, len(r.addrs))
        }
        r.readAt = time.Now()
    }
    return slices.Clone(r.addrs)
}

func (r *resolver) resolve(ctx context.Context) []string {
    var out []string
    for _, name := range r.opts.Names {
        name = strings.TrimSpace(name)
        switch {
        case name == "":
        case isSRV(name):
            if hp := r.lookupSRV(ctx, name); len(hp) > 0 {
                out = append(out, hp...)
                continue
            }
            // no SRV answer: the name may still have A records
            out = append(out, r.lookupHost(ctx, name)...)
        case strings.Contains(name, ":"):
            out = append(out, name)
        default:
            out = append(out, r.lookupHost(ctx, name)...)
        }
    }
    slices.Sort(out)
    return slices.Compact(out)
}

func isSRV(name string) bool { return strings.HasPrefix(name, "_") && strings.Contains(name, "._") }

func (r *resolver) lookupSRV(ctx context.Context, name string) []string {
    svc, proto, domain := parseSRVName(name)
    if svc == "" || proto == "" || domain == "" { return nil }
    _, recs, err := r.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
    if err != nil {
        logutil.Debugf(r.opts.Logger, "srv lookup failed: name=%s err=%v", name, err)
        return nil
    }
    out := make([]string, 0, len(recs))
    for _, rec := range recs {
        out = append(out, net.JoinHostPort(strings.TrimSuffix(rec.Target, "."), strconv.Itoa(int(rec.Port))))
    }
    return out
}

func (r *resolver) lookupHost(ctx context.Context, host string) []string {
    ips, err := r.opts.Resolver.LookupHost(ctx, host)
    if err != nil {
        logutil.Debugf(r.opts.Logger, "host lookup failed: name=%s err=%v", host, err)
        return nil
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips {
        out = append(out, net.JoinHostPort(ip, strconv.Itoa(r.opts.Port)))
    }
    return out
}

// parseSRVName splits "_service._proto.domain".
func parseSRVName(name string) (service, proto, domain string) {
    parts := strings.SplitN(name, ".", 3)
    if len(parts) < 3 || !strings.HasPrefix(parts[0], "_") || !strings.HasPrefix(parts[1], "_") { return "", "", "" }
    return parts[0][1:], parts[1][1:], parts[2]
}
