// Package cli provides the cobra commands of shardctl so services can embed
// them in their own binaries.
package cli

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-shardstore/pkg/bootstrap"
    tracing "github.com/amirimatin/go-shardstore/pkg/observability/tracing"
    tlsx "github.com/amirimatin/go-shardstore/pkg/security/tlsconfig"
    "github.com/amirimatin/go-shardstore/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-shardstore/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-shardstore/pkg/transport/httpjson"
)

// AddAll attaches every shardctl subcommand to the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewJoinCmd())
    root.AddCommand(NewLeaveCmd())
    root.AddCommand(NewReadCmd())
    root.AddCommand(NewWriteCmd())
    root.AddCommand(NewMergeCmd())
    root.AddCommand(NewDeleteCmd())
    root.AddCommand(NewWatchCmd())
}

// NewShardCommand returns a parent command "shard" containing all subcommands.
func NewShardCommand() *cobra.Command {
    parent := &cobra.Command{Use: "shard", Short: "shard store commands"}
    AddAll(parent)
    return parent
}

// NewRunCmd returns the "run" command used to start a node.
func NewRunCmd() *cobra.Command {
    var (
        cfg                 bootstrap.Config
        shardsCSV           string
        tlsFlags            tlsFlagSet
        traceEnable, doJoin bool
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a shard store node",
        RunE: func(cmd *cobra.Command, args []string) error {
            if cfg.NodeID == "" { return fmt.Errorf("missing --id") }
            ctx, cancel := signalContext()
            defer cancel()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    log.Printf("tracing setup error: %v", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            cfg.Shards = splitCSV(shardsCSV)
            cfg.TLSEnable, cfg.TLSCA, cfg.TLSCert, cfg.TLSKey = tlsFlags.enable, tlsFlags.ca, tlsFlags.cert, tlsFlags.key
            cfg.TLSServerName, cfg.TLSSkipVerify = tlsFlags.serverName, tlsFlags.skip
            cfg.Logger = log.Default()
            cl, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            defer cl.Close()

            if doJoin && cfg.SeedsCSV != "" {
                seed := splitCSV(cfg.SeedsCSV)[0]
                jctx, jcancel := context.WithTimeout(ctx, 10*time.Second)
                if err := cl.Join(jctx, seed); err != nil {
                    log.Printf("join via %s: %v", seed, err)
                }
                jcancel()
            }

            fmt.Println("shard store running. Press Ctrl+C to exit.")
            <-ctx.Done()
            return nil
        },
    }
    f := cmd.Flags()
    f.StringVar(&cfg.NodeID, "id", "", "node id (required)")
    f.StringVar(&cfg.SchemaFile, "schema", "", "YAML schema descriptor (required)")
    f.StringVar(&cfg.DefaultNamespace, "namespace", "", "namespace of unprefixed path names (default: first schema module)")
    f.StringVar(&shardsCSV, "shards", "default", "comma-separated shard names")
    f.StringVar(&cfg.Engine, "engine", "raft", "consensus engine: raft|local")
    f.StringVar(&cfg.RaftAddr, "raft-addr", ":9520", "raft bind addr (tcp)")
    f.StringVar(&cfg.DataDir, "data", "", "raft data dir (log, snapshots); empty keeps state in memory")
    f.BoolVar(&cfg.Bootstrap, "bootstrap", false, "bootstrap a single-voter cluster (development)")
    f.StringVar(&cfg.MemBind, "mem-bind", ":7946", "membership bind addr (host:port); empty disables gossip")
    f.StringVar(&cfg.MemAdv, "mem-adv", "", "membership advertise addr (host:port, optional)")
    f.StringVar(&cfg.MgmtAddr, "mgmt-addr", ":17946", "management address (tcp)")
    f.StringVar(&cfg.MgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    f.StringVar(&cfg.RelayAddr, "relay-addr", ":17947", "gRPC relay address for shard traffic between nodes")
    f.StringVar(&cfg.DiscoveryKind, "discovery", "static", "discovery backend: static|dns|file")
    f.StringVar(&cfg.SeedsCSV, "join", "", "comma-separated seeds (host:port) for discovery=static, SRV or host names for discovery=dns")
    f.IntVar(&cfg.DNSPort, "dns-port", 7946, "gossip port for host names resolved by discovery=dns")
    f.BoolVar(&doJoin, "join-raft", false, "ask the leader, through the management address of the first --join seed, to add this node as a voter")
    f.DurationVar(&cfg.DiscRefresh, "disc-refresh", 5*time.Second, "discovery refresh/cache duration")
    f.StringVar(&cfg.FilePath, "file-path", "", "path or glob to a text or YAML file with seeds")
    f.StringVar(&cfg.FileEnv, "file-env", "", "ENV var name containing CSV seeds; overrides file when set")
    f.DurationVar(&cfg.TLSReload, "tls-reload", 0, "re-read the key pair at most this often (0 reads it once)")
    f.DurationVar(&cfg.RequestTimeout, "request-timeout", 5*time.Second, "bound on commits and shard asks")
    f.BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    tlsFlags.register(cmd, "node")
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch node status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := cf.build()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            data, err := client.GetStatus(ctx, cf.addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            os.Stdout.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' {
                os.Stdout.Write([]byte("\n"))
            }
            return nil
        },
    }
    cf.register(cmd)
    return cmd
}

// NewJoinCmd returns the "join" command.
func NewJoinCmd() *cobra.Command {
    var (
        cf           clientFlags
        id, raftAddr string
    )
    cmd := &cobra.Command{
        Use:   "join",
        Short: "Request to add a node to the voter set",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" || raftAddr == "" { return fmt.Errorf("missing required flags: --id and --raft-addr") }
            client, err := cf.build()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            resp, err := client.PostJoin(ctx, cf.addr, transport.JoinRequest{ID: id, RaftAddr: raftAddr})
            if err != nil { return fmt.Errorf("join error: %w", err) }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "node id to add (required)")
    cmd.Flags().StringVar(&raftAddr, "raft-addr", "", "node raft address (host:port, required)")
    cf.register(cmd)
    return cmd
}

// NewLeaveCmd returns the "leave" command.
func NewLeaveCmd() *cobra.Command {
    var (
        cf clientFlags
        id string
    )
    cmd := &cobra.Command{
        Use:   "leave",
        Short: "Request to remove a node from the voter set",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" { return fmt.Errorf("missing required flag: --id") }
            client, err := cf.build()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            resp, err := client.PostLeave(ctx, cf.addr, transport.LeaveRequest{ID: id})
            if err != nil { return fmt.Errorf("leave error: %w", err) }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "node id to remove (required)")
    cf.register(cmd)
    return cmd
}

type tlsFlagSet struct {
    enable, skip               bool
    ca, cert, key, serverName string
}

func (t *tlsFlagSet) register(cmd *cobra.Command, role string) {
    f := cmd.Flags()
    f.BoolVar(&t.enable, "tls-enable", false, "enable mTLS for management and relay transport")
    f.StringVar(&t.ca, "tls-ca", "", "path to CA cert (PEM)")
    f.StringVar(&t.cert, "tls-cert", "", "path to "+role+" certificate (PEM)")
    f.StringVar(&t.key, "tls-key", "", "path to "+role+" private key (PEM)")
    f.BoolVar(&t.skip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    f.StringVar(&t.serverName, "tls-server-name", "", "expected server name (for TLS validation)")
}

func (t tlsFlagSet) options() tlsx.Options {
    return tlsx.Options{Enable: true, CAFile: t.ca, CertFile: t.cert, KeyFile: t.key, InsecureSkipVerify: t.skip, ServerName: t.serverName}
}

func (t tlsFlagSet) client() (*tls.Config, error) {
    if !t.enable { return nil, nil }
    cfg, err := t.options().Client()
    if err != nil { return nil, fmt.Errorf("tls client config: %w", err) }
    return cfg, nil
}

func (t tlsFlagSet) server() (*tls.Config, error) {
    if !t.enable { return nil, nil }
    cfg, err := t.options().Server()
    if err != nil { return nil, fmt.Errorf("tls server config: %w", err) }
    return cfg, nil
}

// clientFlags are the flags shared by commands talking to a management
// endpoint.
type clientFlags struct {
    addr, proto string
    timeout     time.Duration
    tls         tlsFlagSet
}

func (cf *clientFlags) register(cmd *cobra.Command) {
    cmd.Flags().StringVar(&cf.addr, "addr", "127.0.0.1:17946", "management address of a node (host:port)")
    cmd.Flags().StringVar(&cf.proto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().DurationVar(&cf.timeout, "timeout", 3*time.Second, "request timeout")
    cf.tls.register(cmd, "client")
}

func (cf *clientFlags) build() (transport.RPCClient, error) {
    cliTLS, err := cf.tls.client()
    if err != nil { return nil, err }
    switch cf.proto {
    case "grpc":
        c := mgmtgrpc.NewClient(cf.timeout)
        if cliTLS != nil {
            c.UseTLS(cliTLS)
        }
        return c, nil
    case "", "http":
        c := httpjson.NewClient(cf.timeout)
        if cliTLS != nil {
            c.UseTLS(cliTLS)
        }
        return c, nil
    }
    return nil, fmt.Errorf("unknown management protocol %q", cf.proto)
}

func splitCSV(s string) []string {
    var out []string
    for _, p := range strings.Split(s, ",") {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}

func signalContext() (context.Context, context.CancelFunc) {
    return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
