package grpc

import (
    "context"
    "crypto/tls"
    "fmt"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-clustersync/pkg/observability/tracing"
    "github.com/amirimatin/go-clustersync/pkg/topology"
    "github.com/amirimatin/go-clustersync/pkg/transport"
)

// Server serves the meta service over gRPC with the JSON codec. It backs
// cmd/metamock and the transport tests; production reconcilers talk to the
// real metadata authority.
type Server struct {
    bind   string
    tlsCfg *tls.Config

    mu  sync.Mutex
    lis net.Listener
    srv *grpc.Server
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

type metaServiceServer interface {
    GetCluster(ctx context.Context, in *transport.GetClusterRequest) (*topology.Snapshot, error)
}

type metaImpl struct{ snap transport.SnapshotFunc }

// GetCluster never fails at the RPC level: a handler error becomes an
// INTERNAL_ERROR status in the response body, as the real service reports it.
func (m *metaImpl) GetCluster(ctx context.Context, in *transport.GetClusterRequest) (*topology.Snapshot, error) {
    if in == nil { in = &transport.GetClusterRequest{} }
    ctx, end := tracing.StartSpan(ctx, "grpc.serve_get_cluster", "cluster_id", in.GroupID, "cluster_name", in.GroupName)
    defer end()
    out, err := m.snap(ctx, in.Filter())
    if err != nil {
        tracing.Fail(ctx, err)
        return &topology.Snapshot{Status: &topology.ResponseStatus{Code: topology.CodeInternalError, Message: err.Error()}}, nil
    }
    if out == nil {
        return &topology.Snapshot{Status: &topology.ResponseStatus{Code: topology.CodeInternalError, Message: "no snapshot"}}, nil
    }
    return out, nil
}

// Service descriptor and handler (hand-written, no codegen required)
var _MetaService_serviceDesc = grpc.ServiceDesc{
    ServiceName: "metaservice.v1.MetaService",
    HandlerType: (*metaServiceServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetCluster", Handler: _MetaService_GetCluster_Handler},
    },
}

func _MetaService_GetCluster_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.GetClusterRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(metaServiceServer).GetCluster(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getClusterMethod}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(metaServiceServer).GetCluster(ctx, req.(*transport.GetClusterRequest))
    }
    return interceptor(ctx, in, info, handler)
}

// Start listens and serves until ctx is canceled or Stop is called.
func (s *Server) Start(ctx context.Context, snap transport.SnapshotFunc) error {
    if snap == nil { return fmt.Errorf("grpc: nil snapshot func") }
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    healthpb.RegisterHealthServer(srv, health.NewServer())
    srv.RegisterService(&_MetaService_serviceDesc, &metaImpl{snap: snap})

    s.mu.Lock()
    s.lis, s.srv = lis, srv
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = s.Stop(sctx)
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv, s.lis = nil, nil
    s.mu.Unlock()
    if srv == nil { return nil }
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    }
    return nil
}

var _ transport.MetaServer = (*Server)(nil)
