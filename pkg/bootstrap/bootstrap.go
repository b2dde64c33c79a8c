// Package bootstrap assembles a shard store node from a flat Config with
// sensible defaults.
package bootstrap

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/cluster"
    "github.com/amirimatin/go-shardstore/pkg/consensus"
    "github.com/amirimatin/go-shardstore/pkg/consensus/local"
    consraft "github.com/amirimatin/go-shardstore/pkg/consensus/raft"
    "github.com/amirimatin/go-shardstore/pkg/discovery"
    dDNS "github.com/amirimatin/go-shardstore/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-shardstore/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-shardstore/pkg/discovery/static"
    "github.com/amirimatin/go-shardstore/pkg/membership"
    ml "github.com/amirimatin/go-shardstore/pkg/membership/memberlist"
    "github.com/amirimatin/go-shardstore/pkg/schema"
    tlsx "github.com/amirimatin/go-shardstore/pkg/security/tlsconfig"
    "github.com/amirimatin/go-shardstore/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-shardstore/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-shardstore/pkg/transport/httpjson"
)

// Config defines high-level inputs to assemble a node. Applications embed the
// store by providing this structure and calling Build/Run.
type Config struct {
    // Identity and data model
    NodeID           string
    SchemaFile       string         // YAML schema descriptor
    Schema           *schema.Context // takes precedence over SchemaFile
    DefaultNamespace string
    Shards           []string

    // Consensus: "raft" (default) or "local" (single process, development)
    Engine    string
    RaftAddr  string // e.g., ":9521"; empty means an in-memory transport
    DataDir   string // empty → in-memory
    Bootstrap bool   // single-node bootstrap; with Engine=local the node leads at once

    // Membership (optional): empty MemBind disables gossip
    MemBind string
    MemAdv  string

    // Management API (status/join/leave/data/metrics)
    MgmtAddr  string // host:port; empty disables the management server
    MgmtProto string // "http" (default) or "grpc"

    // Relay for actor traffic between nodes (gRPC). Empty RelayAddr reuses a
    // gRPC management server, or disables the relay with HTTP management.
    RelayAddr string

    // Discovery settings
    DiscoveryKind string        // "static" (default), "dns" or "file"
    SeedsCSV      string        // seeds for static, names for dns
    DNSPort       int           // gossip port for dns host names
    DiscRefresh   time.Duration // cache/refresh duration for discovery
    FilePath      string        // used when kind=file
    FileEnv       string        // used when kind=file

    // TLS (optional) for management and relay
    TLSEnable     bool
    TLSCA         string
    TLSCert       string
    TLSKey        string
    TLSServerName string
    TLSSkipVerify bool
    TLSReload     time.Duration

    RequestTimeout time.Duration

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger
}

func (cfg Config) loadSchema() (*schema.Context, error) {
    if cfg.Schema != nil { return cfg.Schema, nil }
    if cfg.SchemaFile == "" { return nil, errors.New("bootstrap: no schema descriptor") }
    return schema.LoadDescriptorFile(cfg.SchemaFile)
}

func (cfg Config) discovery() discovery.Discovery {
    switch cfg.DiscoveryKind {
    case "dns":
        return dDNS.New(dDNS.Options{Names: dStatic.Parse(cfg.SeedsCSV), Port: cfg.DNSPort, Refresh: cfg.DiscRefresh, Logger: cfg.Logger})
    case "file":
        opts := dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv}
        if cfg.DiscRefresh > 0 {
            opts.Refresh = cfg.DiscRefresh
        }
        return dFile.New(opts)
    default:
        return dStatic.New(dStatic.Parse(cfg.SeedsCSV)...)
    }
}

func (cfg Config) consensus() cluster.ConsensusFactory {
    return func(sm consensus.StateMachine) (consensus.Consensus, error) {
        switch cfg.Engine {
        case "local":
            return local.New(cfg.NodeID, sm), nil
        case "", "raft":
            return consraft.New(consraft.Options{
                NodeID:       cfg.NodeID,
                Logger:       cfg.Logger,
                StateMachine: sm,
                Bootstrap:    cfg.Bootstrap,
                BindAddr:     cfg.RaftAddr,
                DataDir:      cfg.DataDir,
            })
        }
        return nil, fmt.Errorf("bootstrap: unknown engine %q", cfg.Engine)
    }
}

func (cfg Config) tls() (srv, cli *tls.Config, err error) {
    if !cfg.TLSEnable { return nil, nil, nil }
    topts := tlsx.Options{Enable: true, CAFile: cfg.TLSCA, CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey, InsecureSkipVerify: cfg.TLSSkipVerify, ServerName: cfg.TLSServerName, Reload: cfg.TLSReload}
    if srv, err = topts.Server(); err != nil { return nil, nil, err }
    if cli, err = topts.Client(); err != nil { return nil, nil, err }
    return srv, cli, nil
}

// Build assembles a cluster.Cluster from Config without starting it.
func Build(cfg Config) (*cluster.Cluster, error) {
    if cfg.Logger == nil {
        cfg.Logger = log.Default()
    }
    sc, err := cfg.loadSchema()
    if err != nil { return nil, err }
    srvTLS, cliTLS, err := cfg.tls()
    if err != nil { return nil, err }

    opts := cluster.Options{
        NodeID:           cfg.NodeID,
        Schema:           sc,
        DefaultNamespace: cfg.DefaultNamespace,
        Shards:           cfg.Shards,
        Consensus:        cfg.consensus(),
        Discovery:        cfg.discovery(),
        RequestTimeout:   cfg.RequestTimeout,
        Logger:           cfg.Logger,
    }

    if cfg.MemBind != "" {
        // Listener addresses are gossiped again once the servers are bound.
        meta := map[string]string{}
        if cfg.MgmtAddr != "" {
            meta[membership.MetaMgmt] = cfg.MgmtAddr
        }
        if cfg.RelayAddr != "" {
            meta[membership.MetaRelay] = cfg.RelayAddr
        }
        mem, err := ml.New(ml.Options{NodeID: cfg.NodeID, Bind: cfg.MemBind, Advertise: cfg.MemAdv, Logger: cfg.Logger, Meta: meta})
        if err != nil { return nil, err }
        opts.Membership = mem
    }

    var grpcMgmt *mgmtgrpc.Server
    if cfg.MgmtAddr != "" {
        switch cfg.MgmtProto {
        case "grpc":
            s := mgmtgrpc.NewServer(cfg.MgmtAddr)
            if srvTLS != nil {
                s.UseTLS(srvTLS)
            }
            c := mgmtgrpc.NewClient(3 * time.Second)
            if cliTLS != nil {
                c.UseTLS(cliTLS)
            }
            opts.RPCServer, opts.RPCClient = s, c
            grpcMgmt = s
        default:
            s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
            if srvTLS != nil {
                s.UseTLS(srvTLS)
            }
            c := httpjson.NewClient(3 * time.Second)
            if cliTLS != nil {
                c.UseTLS(cliTLS)
            }
            opts.RPCServer, opts.RPCClient = s, c
        }
    }

    var relaySrv transport.RPCServer
    switch {
    case cfg.RelayAddr != "":
        s := mgmtgrpc.NewServer(cfg.RelayAddr)
        if srvTLS != nil {
            s.UseTLS(srvTLS)
        }
        relaySrv = s
    case grpcMgmt != nil:
        relaySrv = grpcMgmt
    }
    if relaySrv != nil {
        rc := mgmtgrpc.NewClient(3 * time.Second)
        if cliTLS != nil {
            rc.UseTLS(cliTLS)
        }
        opts.RelayServer = relaySrv
        opts.Relay = func(resolve func(string) (string, bool)) actor.Remote { return mgmtgrpc.NewRelay(rc, resolve) }
    }
    return cluster.New(opts)
}

// Run builds and starts the node, returning the instance for lifecycle
// control. The caller is responsible for calling Close() when finished.
func Run(ctx context.Context, cfg Config) (*cluster.Cluster, error) {
    cl, err := Build(cfg)
    if err != nil { return nil, err }
    if err := cl.Start(ctx); err != nil {
        _ = cl.Close()
        return nil, err
    }
    if eng, ok := cl.Consensus().(*local.Engine); ok && cfg.Bootstrap {
        eng.SetLeader(true)
    }
    return cl, nil
}
