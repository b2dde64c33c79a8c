package cluster

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/consensus"
    "github.com/amirimatin/go-shardstore/pkg/datastore/inmem"
    "github.com/amirimatin/go-shardstore/pkg/internal/logutil"
    "github.com/amirimatin/go-shardstore/pkg/membership"
    obsmetrics "github.com/amirimatin/go-shardstore/pkg/observability/metrics"
    "github.com/amirimatin/go-shardstore/pkg/shard"
    "github.com/amirimatin/go-shardstore/pkg/transport"
)

// Cluster is one node of a shard store: the shard replicas it hosts, the
// consensus engine replicating them, the actor system carrying commits and
// listener traffic between nodes, and the optional membership and management
// layers around them.
type Cluster struct {
    opts Options
    mu   sync.Mutex
    run  struct {
        started bool
        closed  bool
        cancel  context.CancelFunc
    }
    sys    *actor.System
    sm     *shard.StateMachine
    stores map[string]*inmem.Store
    shards map[string]*shard.Shard
    cons   consensus.Consensus
    mem    membership.Membership
    rpcS   transport.RPCServer
    rpcC   transport.RPCClient
    relayS transport.RPCServer
    eb     eventBus
    wg     sync.WaitGroup
}

// New assembles a node from validated options: shard stores, the state
// machine, the consensus engine and the shard actors. It performs no network
// activity; call Start to launch the node.
func New(opts Options) (*Cluster, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts.defaults()
    c := &Cluster{
        opts:   opts,
        sm:     shard.NewStateMachine(),
        stores: map[string]*inmem.Store{},
        shards: map[string]*shard.Shard{},
        mem:    opts.Membership,
        rpcS:   opts.RPCServer,
        rpcC:   opts.RPCClient,
        relayS: opts.RelayServer,
    }
    for _, name := range opts.Shards {
        st, err := inmem.New(inmem.Options{Schema: opts.Schema, Logger: opts.Logger})
        if err != nil { return nil, fmt.Errorf("cluster: shard %s: %w", name, err) }
        c.stores[name] = st
        c.sm.Add(name, st)
    }
    cons, err := opts.Consensus(c.sm)
    if err != nil { return nil, fmt.Errorf("cluster: consensus: %w", err) }
    c.cons = cons

    reg := actor.NewRegistry()
    shard.RegisterMessages(reg, opts.Schema)
    c.sys = actor.NewSystem(actor.Options{Node: opts.NodeID, MailboxSize: opts.MailboxSize, Registry: reg, Logger: opts.Logger})
    if opts.Relay != nil {
        c.sys.SetRemote(opts.Relay(c.resolveRelay))
    }

    for _, name := range opts.Shards {
        s, err := shard.New(shard.Options{
            Name:          name,
            System:        c.sys,
            Store:         c.stores[name],
            Consensus:     cons,
            CommitTimeout: opts.RequestTimeout,
            Logger:        opts.Logger,
        })
        if err != nil {
            c.sys.Shutdown()
            return nil, err
        }
        c.shards[name] = s
    }
    return c, nil
}

// Close is a convenience alias for Stop with a background context.
func (c *Cluster) Close() error { return c.Stop(context.Background()) }

// System is the actor system shard replicas and listener endpoints live on.
func (c *Cluster) System() *actor.System { return c.sys }

// Shard returns the local replica of name.
func (c *Cluster) Shard(name string) (*shard.Shard, bool) {
    s, ok := c.shards[name]
    return s, ok
}

// Consensus exposes the engine, mostly for status and tests.
func (c *Cluster) Consensus() consensus.Consensus { return c.cons }

// Start launches the management and relay endpoints, consensus and
// membership, then begins the loops fanning leadership out to the shards and
// reconciling membership with the voter set. Every component stops when ctx
// is done or Stop is called.
func (c *Cluster) Start(ctx context.Context) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.run.closed { return ErrStopped }
    if c.run.started { return nil }
    c.run.started = true
    obsmetrics.Register()
    runCtx, cancel := context.WithCancel(ctx)
    c.run.cancel = cancel

    h := transport.Handlers{
        Status: c.statusJSON,
        Join:   c.handleJoin,
        Leave:  c.handleLeave,
        Data:   c.handleData,
    }
    if c.opts.Relay != nil {
        h.Deliver = func(_ context.Context, env actor.WireEnvelope) error { return c.sys.DeliverRemote(env) }
    }
    if c.rpcS != nil {
        if err := c.rpcS.Start(runCtx, h); err != nil { return err }
        logutil.Infof(c.opts.Logger, "management endpoint listening at %s", c.rpcS.Addr())
    }
    if c.relayS != nil && c.relayS != c.rpcS {
        if err := c.relayS.Start(runCtx, transport.Handlers{Status: c.statusJSON, Deliver: h.Deliver}); err != nil { return err }
        logutil.Infof(c.opts.Logger, "relay listening at %s", c.relayS.Addr())
    }

    if err := c.cons.Start(runCtx); err != nil { return err }
    c.fanOutLeadership(runCtx)

    if c.mem != nil {
        if err := c.mem.Start(runCtx); err != nil { return err }
        if u, ok := c.mem.(interface{ UpdateMeta(map[string]string) error }); ok {
            if err := u.UpdateMeta(c.localMeta()); err != nil {
                logutil.Warnf(c.opts.Logger, "membership meta: %v", err)
            }
        }
        c.wg.Add(2)
        go func() { defer c.wg.Done(); c.joinSeeds(runCtx) }()
        go func() { defer c.wg.Done(); c.membershipEventsLoop(runCtx) }()
    }
    return nil
}

// fanOutLeadership tells every shard whether this node leads, now and on
// every observation the engine publishes.
func (c *Cluster) fanOutLeadership(ctx context.Context) {
    c.setLeader(consensus.LeaderInfo{Self: c.cons.IsLeader(), Term: c.cons.Term()})
    ln, ok := c.cons.(consensus.LeaderNotifier)
    if !ok { return }
    ch := ln.LeaderCh()
    c.wg.Add(1)
    go func() {
        defer c.wg.Done()
        for {
            select {
            case <-ctx.Done():
                return
            case li, ok := <-ch:
                if !ok { return }
                // Observations may be dropped; the engine's current view wins.
                li.Self = c.cons.IsLeader()
                logutil.Infof(c.opts.Logger, "leader change observed: id=%s term=%d self=%v", li.ID, li.Term, li.Self)
                c.setLeader(li)
            }
        }
    }()
}

func (c *Cluster) setLeader(li consensus.LeaderInfo) {
    for _, name := range c.opts.Shards {
        c.shards[name].SetLeader(li.Self)
        info := li
        c.eb.publish(Event{Type: EventLeaderChanged, At: time.Now(), Shard: name, Leader: &info, Term: li.Term})
    }
}

// localMeta is what this node gossips so peers can reach its listeners.
func (c *Cluster) localMeta() map[string]string {
    meta := map[string]string{}
    if c.mem != nil {
        for k, v := range c.mem.Local().Meta { meta[k] = v }
    }
    if c.rpcS != nil {
        meta[membership.MetaMgmt] = c.rpcS.Addr()
    }
    switch {
    case c.relayS != nil:
        meta[membership.MetaRelay] = c.relayS.Addr()
    case c.opts.Relay != nil && c.rpcS != nil:
        meta[membership.MetaRelay] = c.rpcS.Addr()
    }
    if t, ok := c.cons.(transport.Transport); ok && t.Addr() != "" {
        meta[membership.MetaRaft] = t.Addr()
    }
    return meta
}

// resolveRelay maps an actor node id to the address its relay listens on.
// Without membership, or before the node was gossiped, the id itself is
// taken as the address.
func (c *Cluster) resolveRelay(node string) (string, bool) {
    if c.mem != nil {
        if a, ok := membership.MetaOf(c.mem, node, membership.MetaRelay); ok { return a, true }
    }
    if node == "" { return "", false }
    return node, true
}

// lookupMgmt returns the management address of member id.
func (c *Cluster) lookupMgmt(id string) string {
    if id == c.opts.NodeID && c.rpcS != nil { return c.rpcS.Addr() }
    if c.mem == nil { return "" }
    if a, ok := membership.MetaOf(c.mem, id, membership.MetaMgmt); ok { return a }
    return ""
}

// Status returns a snapshot of consensus, membership and the local shard
// replicas.
func (c *Cluster) Status(ctx context.Context) (*ClusterStatus, error) {
    s := &ClusterStatus{NodeID: c.opts.NodeID, Term: c.cons.Term()}
    if id, _, ok := c.cons.Leader(); ok {
        s.LeaderID = id
        s.LeaderAddr = c.lookupMgmt(id)
        s.Healthy = true
    } else {
        s.Warnings = append(s.Warnings, "no leader known")
    }
    if c.mem != nil {
        s.Members = c.mem.Members()
        obsmetrics.ClusterMembers.Set(float64(len(s.Members)))
    }
    for _, name := range c.opts.Shards {
        rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
        reply, err := c.sys.Ask(rctx, c.shards[name].Address(), shard.GetStatus{})
        cancel()
        if err != nil {
            s.Warnings = append(s.Warnings, fmt.Sprintf("shard %s: %v", name, err))
            continue
        }
        if st, ok := reply.(shard.Status); ok {
            s.Shards = append(s.Shards, st)
        }
    }
    return s, nil
}

func (c *Cluster) statusJSON(ctx context.Context) ([]byte, error) {
    st, err := c.Status(ctx)
    if err != nil { return nil, err }
    return json.Marshal(st)
}

// Stop shuts down the loops, the shard actors, consensus, membership and the
// endpoints. It is idempotent.
func (c *Cluster) Stop(ctx context.Context) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.run.closed { return nil }
    c.run.closed = true
    if c.run.cancel != nil {
        c.run.cancel()
    }
    var errs []error
    if c.mem != nil && c.run.started {
        if err := c.mem.Leave(); err != nil {
            logutil.Warnf(c.opts.Logger, "membership leave: %v", err)
        }
        errs = append(errs, c.mem.Stop())
    }
    c.wg.Wait()
    for _, s := range c.shards { s.Stop() }
    c.sys.Shutdown()
    errs = append(errs, c.cons.Stop())
    if c.rpcS != nil && c.run.started {
        errs = append(errs, c.rpcS.Stop(ctx))
    }
    if c.relayS != nil && c.relayS != c.rpcS && c.run.started {
        errs = append(errs, c.relayS.Stop(ctx))
    }
    return errors.Join(errs...)
}
