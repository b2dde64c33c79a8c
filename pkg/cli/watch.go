package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "os"
    "sync"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/cluster"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/listener"
    "github.com/amirimatin/go-shardstore/pkg/membership"
    "github.com/amirimatin/go-shardstore/pkg/schema"
    "github.com/amirimatin/go-shardstore/pkg/shard"
    "github.com/amirimatin/go-shardstore/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-shardstore/pkg/transport/grpc"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// NewWatchCmd returns the "watch" command. It runs a throwaway actor node on
// a gRPC relay listener, registers a change listener with the leading
// replica and prints one JSON line per change event. Its node id is its relay
// address, so the leader can reply without gossip.
func NewWatchCmd() *cobra.Command {
    var (
        df                        dataFlags
        schemaFile, scopeName, ns string
        relayBind, leaderRelay    string
    )
    cmd := &cobra.Command{
        Use:   "watch",
        Short: "Print change events for a path until interrupted",
        RunE: func(cmd *cobra.Command, args []string) error {
            if schemaFile == "" || df.path == "" { return fmt.Errorf("missing required flags: --schema and --path") }
            sc, err := schema.LoadDescriptorFile(schemaFile)
            if err != nil { return err }
            scope, err := datastore.ParseScope(scopeName)
            if err != nil { return err }
            if ns == "" {
                ns = sc.Modules()[0].Namespace
            }
            p, err := yang.ParsePath(ns, df.path)
            if err != nil { return err }

            client, err := df.build()
            if err != nil { return err }
            leaderID, relay, err := resolveLeaderRelay(client, df.addr, df.timeout)
            if err != nil { return err }
            if leaderRelay != "" {
                relay = leaderRelay
            }
            if relay == "" {
                relay = leaderID
            }

            ctx, cancel := signalContext()
            defer cancel()
            out := &eventPrinter{enc: json.NewEncoder(os.Stdout)}
            var sys *actor.System
            srv := mgmtgrpc.NewServer(relayBind)
            srvTLS, err := df.tls.server()
            if err != nil { return err }
            if srvTLS != nil {
                srv.UseTLS(srvTLS)
            }
            deliver := func(_ context.Context, env actor.WireEnvelope) error { return sys.DeliverRemote(env) }
            if err := srv.Start(ctx, transport.Handlers{Deliver: deliver}); err != nil { return err }
            defer srv.Stop(context.Background())

            cliTLS, err := df.tls.client()
            if err != nil { return err }
            rc := mgmtgrpc.NewClient(df.timeout)
            if cliTLS != nil {
                rc.UseTLS(cliTLS)
            }
            defer rc.Close()
            reg := actor.NewRegistry()
            shard.RegisterMessages(reg, sc)
            sys = actor.NewSystem(actor.Options{Node: srv.Addr(), Registry: reg, Remote: mgmtgrpc.NewRelay(rc, func(node string) (string, bool) {
                if node == leaderID { return relay, true }
                return node, true
            })})
            defer sys.Shutdown()

            rctx, rcancel := context.WithTimeout(ctx, df.timeout)
            registration, err := listener.Register(rctx, sys, actor.NewAddress(leaderID, shard.ActorPath(df.shard)), p, scope, out)
            rcancel()
            if err != nil { return fmt.Errorf("register listener: %w", err) }
            fmt.Fprintf(os.Stderr, "watching %s on %s (leader %s)\n", p, df.shard, leaderID)
            <-ctx.Done()
            cctx, ccancel := context.WithTimeout(context.Background(), df.timeout)
            defer ccancel()
            return registration.Close(cctx)
        },
    }
    f := cmd.Flags()
    f.StringVar(&schemaFile, "schema", "", "YAML schema descriptor (required)")
    f.StringVar(&ns, "namespace", "", "namespace of unprefixed path names (default: first schema module)")
    f.StringVar(&scopeName, "scope", "subtree", "listener scope: base|one|subtree")
    f.StringVar(&relayBind, "relay-bind", "127.0.0.1:0", "local relay listener; must be reachable from the leader")
    f.StringVar(&leaderRelay, "leader-relay", "", "relay address of the leader (default: from its gossiped metadata)")
    df.register(cmd)
    return cmd
}

// resolveLeaderRelay asks the node at addr who leads and where that leader's
// relay listens.
func resolveLeaderRelay(client transport.RPCClient, addr string, timeout time.Duration) (string, string, error) {
    ctx, cancel := context.WithTimeout(context.Background(), timeout)
    defer cancel()
    data, err := client.GetStatus(ctx, addr)
    if err != nil { return "", "", fmt.Errorf("status error: %w", err) }
    var st cluster.ClusterStatus
    if err := json.Unmarshal(data, &st); err != nil { return "", "", err }
    if st.LeaderID == "" { return "", "", cluster.ErrNoLeader }
    for _, m := range st.Members {
        if m.ID == st.LeaderID { return st.LeaderID, m.Meta[membership.MetaRelay], nil }
    }
    return st.LeaderID, "", nil
}

type eventPrinter struct {
    mu  sync.Mutex
    enc *json.Encoder
}

type printedEvent struct {
    At      time.Time `json:"at"`
    Path    string    `json:"path"`
    Created []string  `json:"created,omitempty"`
    Updated []string  `json:"updated,omitempty"`
    Removed []string  `json:"removed,omitempty"`
}

func (p *eventPrinter) OnDataChanged(e datastore.ChangeEvent) {
    ev := printedEvent{At: time.Now(), Path: e.Path.String()}
    for _, c := range e.Created { ev.Created = append(ev.Created, c.Path.String()) }
    for _, u := range e.Updated { ev.Updated = append(ev.Updated, u.Path.String()) }
    for _, r := range e.Removed { ev.Removed = append(ev.Removed, r.String()) }
    p.mu.Lock()
    defer p.mu.Unlock()
    _ = p.enc.Encode(ev)
}
