package httpjson

import (
    "context"
    "crypto/tls"
    "fmt"
    "log"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-clustersync/pkg/internal/logutil"
    "github.com/amirimatin/go-clustersync/pkg/observability/tracing"
    "github.com/amirimatin/go-clustersync/pkg/transport"
)

// Server exposes the management endpoints of a running daemon:
//
//	GET  /status    last cycle result, phase and leadership
//	GET  /registry  registry image
//	POST /trigger   run one cycle now
//	GET  /healthz   readiness
//	GET  /metrics   Prometheus exposition
type Server struct {
    bind   string
    logger *log.Logger
    tlsCfg *tls.Config

    mu  sync.Mutex
    srv *http.Server
    ln  net.Listener
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Handler returns the management mux without starting a listener.
func Handler(h transport.Handlers) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", jsonEndpoint(http.MethodGet, "http.status", h.Status))
    mux.HandleFunc("/registry", jsonEndpoint(http.MethodGet, "http.registry", h.Registry))
    mux.HandleFunc("/trigger", jsonEndpoint(http.MethodPost, "http.trigger", h.Trigger))
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if h.Healthy != nil && !h.Healthy() {
            http.Error(w, "not ready", http.StatusServiceUnavailable)
            return
        }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    return mux
}

func jsonEndpoint(method, span string, fn func(context.Context) ([]byte, error)) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if r.Method != method { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if fn == nil { http.Error(w, "not supported", http.StatusNotImplemented); return }
        ctx, end := tracing.StartSpan(r.Context(), span)
        defer end()
        data, err := fn(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("%s error: %v", r.URL.Path[1:], err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    }
}

// Start launches the HTTP server. The server is shut down when ctx is
// canceled.
func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }
    srv := &http.Server{Handler: Handler(h), ReadHeaderTimeout: 5 * time.Second}
    s.mu.Lock()
    s.srv, s.ln = srv, ln
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    logutil.Infof(s.logger, "management listening: addr=%s tls=%t", ln.Addr(), s.tlsCfg != nil)
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.ln != nil { return s.ln.Addr().String() }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv, s.ln = nil, nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}

var _ transport.ManagementServer = (*Server)(nil)
