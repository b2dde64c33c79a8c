package grpc

import (
    "context"
    "crypto/tls"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    obsmetrics "github.com/amirimatin/go-shardstore/pkg/observability/metrics"
    "github.com/amirimatin/go-shardstore/pkg/observability/tracing"
    "github.com/amirimatin/go-shardstore/pkg/transport"
)

// Server implements transport.RPCServer over gRPC using a JSON codec. It
// serves the Management service and, when a Deliver handler is given, the
// Relay service.
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

type empty struct{}
type statusBlob struct{ Data []byte `json:"data"` }
type deliverAck struct{ Error string `json:"error,omitempty"` }

type managementServer interface {
    GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
    Join(ctx context.Context, in *transport.JoinRequest) (*transport.JoinResponse, error)
    Leave(ctx context.Context, in *transport.LeaveRequest) (*transport.LeaveResponse, error)
    Data(ctx context.Context, in *transport.DataRequest) (*transport.DataResponse, error)
}

type relayServer interface {
    Deliver(ctx context.Context, in *actor.WireEnvelope) (*deliverAck, error)
}

type mgmtImpl struct{ h transport.Handlers }

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    if m.h.Status == nil { return &statusBlob{Data: []byte("{}")}, nil }
    b, err := m.h.Status(ctx)
    if err != nil { return nil, err }
    return &statusBlob{Data: b}, nil
}

func (m *mgmtImpl) Join(ctx context.Context, in *transport.JoinRequest) (*transport.JoinResponse, error) {
    if m.h.Join == nil { return &transport.JoinResponse{Error: "join not supported"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.join")
    defer end()
    out, err := m.h.Join(ctx, *in)
    if err != nil { return &transport.JoinResponse{Leader: out.Leader, Error: err.Error()}, nil }
    return &out, nil
}

func (m *mgmtImpl) Leave(ctx context.Context, in *transport.LeaveRequest) (*transport.LeaveResponse, error) {
    if m.h.Leave == nil { return &transport.LeaveResponse{Error: "leave not supported"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.leave")
    defer end()
    out, err := m.h.Leave(ctx, *in)
    if err != nil { return &transport.LeaveResponse{Error: err.Error()}, nil }
    return &out, nil
}

func (m *mgmtImpl) Data(ctx context.Context, in *transport.DataRequest) (*transport.DataResponse, error) {
    if m.h.Data == nil { return &transport.DataResponse{Error: "data not supported"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.data")
    defer end()
    out, err := m.h.Data(ctx, *in)
    if err != nil { return &transport.DataResponse{Error: err.Error()}, nil }
    return &out, nil
}

type relayImpl struct{ deliver transport.DeliverFunc }

func (r *relayImpl) Deliver(ctx context.Context, in *actor.WireEnvelope) (*deliverAck, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.deliver")
    defer end()
    if err := r.deliver(ctx, *in); err != nil {
        obsmetrics.RelayMessages.WithLabelValues("in", "error").Inc()
        return &deliverAck{Error: err.Error()}, nil
    }
    obsmetrics.RelayMessages.WithLabelValues("in", "ok").Inc()
    return &deliverAck{}, nil
}

// Service descriptors and handlers are hand-written; no codegen is required.
var managementDesc = grpc.ServiceDesc{
    ServiceName: "shardstore.v1.Management",
    HandlerType: (*managementServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetStatus", Handler: unary(func(srv managementServer, ctx context.Context, in *empty) (any, error) { return srv.GetStatus(ctx, in) })},
        {MethodName: "Join", Handler: unary(func(srv managementServer, ctx context.Context, in *transport.JoinRequest) (any, error) { return srv.Join(ctx, in) })},
        {MethodName: "Leave", Handler: unary(func(srv managementServer, ctx context.Context, in *transport.LeaveRequest) (any, error) { return srv.Leave(ctx, in) })},
        {MethodName: "Data", Handler: unary(func(srv managementServer, ctx context.Context, in *transport.DataRequest) (any, error) { return srv.Data(ctx, in) })},
    },
}

var relayDesc = grpc.ServiceDesc{
    ServiceName: "shardstore.v1.Relay",
    HandlerType: (*relayServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "Deliver", Handler: unary(func(srv relayServer, ctx context.Context, in *actor.WireEnvelope) (any, error) { return srv.Deliver(ctx, in) })},
    },
}

// unary adapts a typed method to a grpc.MethodDesc handler. S is the service
// interface and In the request type.
func unary[S any, In any](call func(srv S, ctx context.Context, in *In) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
    return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
        in := new(In)
        if err := dec(in); err != nil { return nil, err }
        if interceptor == nil { return call(srv.(S), ctx, in) }
        info := &grpc.UnaryServerInfo{Server: srv}
        return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) { return call(srv.(S), ctx, req.(*In)) })
    }
}

func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil {
        opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
    }
    srv := grpc.NewServer(opts...)
    healthpb.RegisterHealthServer(srv, health.NewServer())
    srv.RegisterService(&managementDesc, &mgmtImpl{h: h})
    if h.Deliver != nil {
        srv.RegisterService(&relayDesc, &relayImpl{deliver: h.Deliver})
    }

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
    srv, lis := s.srv, s.lis
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
    _ = lis.Close()
    return nil
}

var _ transport.RPCServer = (*Server)(nil)
