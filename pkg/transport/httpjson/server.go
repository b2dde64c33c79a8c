package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-shardstore/pkg/codec"
    "github.com/amirimatin/go-shardstore/pkg/internal/logutil"
    "github.com/amirimatin/go-shardstore/pkg/observability/tracing"
    "github.com/amirimatin/go-shardstore/pkg/transport"
)

// Server is a minimal HTTP server exposing the management API: status,
// health, metrics, join/leave and shard data. It is intended for
// operators and development tooling.
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
    if logger == nil {
        logger = log.Default()
    }
    return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Handler returns the mux serving h.
func Handler(h transport.Handlers) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        if h.Status == nil {
            http.Error(w, "status not supported", http.StatusNotImplemented)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        defer end()
        data, err := h.Status(ctx)
        if err != nil {
            http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError)
            return
        }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    mux.HandleFunc("/join", func(w http.ResponseWriter, r *http.Request) {
        if h.Join == nil {
            http.Error(w, "join not supported", http.StatusNotImplemented)
            return
        }
        var req transport.JoinRequest
        if !decodePost(w, r, &req) { return }
        ctx, end := tracing.StartSpan(r.Context(), "http.join")
        defer end()
        resp, err := h.Join(ctx, req)
        if err != nil && resp.Error == "" {
            resp.Error = err.Error()
        }
        writeJSON(w, err, resp)
    })
    mux.HandleFunc("/leave", func(w http.ResponseWriter, r *http.Request) {
        if h.Leave == nil {
            http.Error(w, "leave not supported", http.StatusNotImplemented)
            return
        }
        var req transport.LeaveRequest
        if !decodePost(w, r, &req) { return }
        ctx, end := tracing.StartSpan(r.Context(), "http.leave")
        defer end()
        resp, err := h.Leave(ctx, req)
        if err != nil && resp.Error == "" {
            resp.Error = err.Error()
        }
        writeJSON(w, err, resp)
    })
    mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
        if h.Data == nil {
            http.Error(w, "data not supported", http.StatusNotImplemented)
            return
        }
        req := transport.DataRequest{Shard: r.URL.Query().Get("shard"), Path: r.URL.Query().Get("path")}
        switch r.Method {
        case http.MethodGet:
            req.Op = transport.OpRead
        case http.MethodPut, http.MethodPatch:
            req.Op = transport.OpWrite
            if r.Method == http.MethodPatch {
                req.Op = transport.OpMerge
            }
            req.Record = new(codec.WireRecord)
            if err := json.NewDecoder(r.Body).Decode(req.Record); err != nil {
                http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
                return
            }
        case http.MethodDelete:
            req.Op = transport.OpDelete
        default:
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.data")
        defer end()
        resp, err := h.Data(ctx, req)
        if err != nil && resp.Error == "" {
            resp.Error = err.Error()
        }
        if err == nil && req.Op == transport.OpRead && !resp.Found {
            w.Header().Set("Content-Type", "application/json")
            w.WriteHeader(http.StatusNotFound)
            _ = json.NewEncoder(w).Encode(resp)
            return
        }
        writeJSON(w, err, resp)
    })
    return mux
}

func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
    if r.Method != http.MethodPost {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return false
    }
    if err := json.NewDecoder(r.Body).Decode(v); err != nil {
        http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
        return false
    }
    return true
}

func writeJSON(w http.ResponseWriter, err error, v any) {
    w.Header().Set("Content-Type", "application/json")
    if err != nil {
        w.WriteHeader(http.StatusInternalServerError)
    }
    _ = json.NewEncoder(w).Encode(v)
}

// Start launches the HTTP server. The server is shut down when the context
// is canceled. The Deliver handler is not served over HTTP.
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

var _ transport.RPCServer = (*Server)(nil)
