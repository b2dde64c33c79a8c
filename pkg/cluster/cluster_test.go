package cluster

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/codec"
    "github.com/amirimatin/go-shardstore/pkg/consensus"
    "github.com/amirimatin/go-shardstore/pkg/consensus/local"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/schema/schematest"
    "github.com/amirimatin/go-shardstore/pkg/shard"
    "github.com/amirimatin/go-shardstore/pkg/transport"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var Q = schematest.Q

func path(s string) yang.InstanceIdentifier { return yang.MustParsePath(schematest.Namespace, s) }

func waitFor(t *testing.T, what string, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(3 * time.Second)
    for time.Now().Before(deadline) {
        if cond() { return }
        time.Sleep(10 * time.Millisecond)
    }
    t.Fatalf("timeout waiting for %s", what)
}

func ctxT(t *testing.T) context.Context {
    t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    t.Cleanup(cancel)
    return ctx
}

// group is an in-process consensus group: the leader applies every command
// to all members' state machines in order.
type group struct {
    mu     sync.Mutex
    leader string
    term   uint64
    sms    map[string]consensus.StateMachine
    chans  map[string]chan consensus.LeaderInfo
}

func newGroup() *group {
    return &group{sms: map[string]consensus.StateMachine{}, chans: map[string]chan consensus.LeaderInfo{}}
}

func (g *group) factory(id string) ConsensusFactory {
    return func(sm consensus.StateMachine) (consensus.Consensus, error) {
        g.mu.Lock()
        defer g.mu.Unlock()
        g.sms[id] = sm
        g.chans[id] = make(chan consensus.LeaderInfo, 16)
        return &member{g: g, id: id}, nil
    }
}

func (g *group) elect(id string) {
    g.mu.Lock()
    g.leader = id
    g.term++
    for mid, ch := range g.chans {
        select {
        case ch <- consensus.LeaderInfo{ID: id, Term: g.term, Self: mid == id}:
        default:
        }
    }
    g.mu.Unlock()
}

type member struct {
    g  *group
    id string
}

var (
    _ consensus.Consensus      = (*member)(nil)
    _ consensus.LeaderNotifier = (*member)(nil)
)

func (m *member) Start(context.Context) error { return nil }
func (m *member) Stop() error                 { return nil }

func (m *member) Apply(cmd consensus.Command, _ time.Duration) error {
    m.g.mu.Lock()
    defer m.g.mu.Unlock()
    if m.g.leader != m.id { return consensus.ErrNotLeader }
    if err := m.g.sms[m.id].Apply(cmd); err != nil { return err }
    for id, sm := range m.g.sms {
        if id != m.id {
            _ = sm.Apply(cmd)
        }
    }
    return nil
}

func (m *member) IsLeader() bool { m.g.mu.Lock(); defer m.g.mu.Unlock(); return m.g.leader == m.id }
func (m *member) Term() uint64   { m.g.mu.Lock(); defer m.g.mu.Unlock(); return m.g.term }

func (m *member) Leader() (string, string, bool) {
    m.g.mu.Lock()
    defer m.g.mu.Unlock()
    return m.g.leader, "", m.g.leader != ""
}

func (m *member) LeaderCh() <-chan consensus.LeaderInfo {
    m.g.mu.Lock()
    defer m.g.mu.Unlock()
    return m.g.chans[m.id]
}

// loopback relays envelopes straight into the target node's actor system.
type loopback struct {
    mu    sync.Mutex
    nodes map[string]*Cluster
}

func (l *loopback) Deliver(_ context.Context, node string, env actor.WireEnvelope) error {
    l.mu.Lock()
    c := l.nodes[node]
    l.mu.Unlock()
    if c == nil { return actor.ErrNoRoute }
    return c.System().DeliverRemote(env)
}

func (l *loopback) factory(func(string) (string, bool)) actor.Remote { return l }

func start(t *testing.T, opts Options) *Cluster {
    t.Helper()
    if opts.Schema == nil {
        opts.Schema = schematest.Example()
    }
    c, err := New(opts)
    if err != nil { t.Fatalf("new: %v", err) }
    if err := c.Start(context.Background()); err != nil { t.Fatalf("start: %v", err) }
    t.Cleanup(func() { _ = c.Close() })
    return c
}

func startLocal(t *testing.T, shards ...string) (*Cluster, *local.Engine) {
    t.Helper()
    var eng *local.Engine
    c := start(t, Options{
        NodeID: "n1",
        Shards: shards,
        Consensus: func(sm consensus.StateMachine) (consensus.Consensus, error) {
            eng = local.New("n1", sm)
            return eng, nil
        },
    })
    return c, eng
}

func shardStatus(t *testing.T, c *Cluster, name string) shard.Status {
    t.Helper()
    st, err := c.Status(ctxT(t))
    if err != nil { t.Fatalf("status: %v", err) }
    for _, s := range st.Shards {
        if s.Name == name { return s }
    }
    t.Fatalf("no status for shard %s: %+v", name, st)
    return shard.Status{}
}

type recorder struct {
    mu     sync.Mutex
    events []datastore.ChangeEvent
}

func (r *recorder) OnDataChanged(e datastore.ChangeEvent) {
    r.mu.Lock()
    r.events = append(r.events, e)
    r.mu.Unlock()
}

func (r *recorder) count() int { r.mu.Lock(); defer r.mu.Unlock(); return len(r.events) }

func TestOptions_Validate(t *testing.T) {
    good := Options{NodeID: "n1", Schema: schematest.Example(), Consensus: func(consensus.StateMachine) (consensus.Consensus, error) { return nil, nil }}
    if err := good.Validate(); err != nil { t.Fatalf("valid options: %v", err) }
    cases := map[string]func(o *Options){
        "node":      func(o *Options) { o.NodeID = "" },
        "schema":    func(o *Options) { o.Schema = nil },
        "consensus": func(o *Options) { o.Consensus = nil },
        "duplicate": func(o *Options) { o.Shards = []string{"a", "a"} },
        "relay":     func(o *Options) { o.RelayServer = fakeServer{} },
    }
    for name, mutate := range cases {
        o := good
        mutate(&o)
        if err := o.Validate(); err == nil { t.Fatalf("%s: expected error", name) }
    }
}

type fakeServer struct{}

func (fakeServer) Start(context.Context, transport.Handlers) error { return nil }
func (fakeServer) Addr() string                                    { return "" }
func (fakeServer) Stop(context.Context) error                      { return nil }

func TestSingleNode_ChangesAndReads(t *testing.T) {
    c, eng := startLocal(t)
    ctx := ctxT(t)
    host := path("/system/hostname")
    short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
    defer cancel()
    if err := c.Write(short, DefaultShard, host, tree.NewLeaf(Q("hostname"), "r1")); err == nil {
        t.Fatalf("write without leader accepted")
    }
    eng.SetLeader(true)
    waitFor(t, "shard leadership", func() bool { return shardStatus(t, c, DefaultShard).Leader })

    if err := c.Write(ctx, DefaultShard, host, tree.NewLeaf(Q("hostname"), "r1")); err != nil {
        t.Fatalf("write: %v", err)
    }
    if err := c.Merge(ctx, DefaultShard, path("/system"), tree.NewContainer(Q("system"), tree.NewLeaf(Q("load"), 0.5))); err != nil {
        t.Fatalf("merge: %v", err)
    }
    got, ok, err := c.Read(DefaultShard, path("/system"))
    if err != nil || !ok { t.Fatalf("read: ok=%v err=%v", ok, err) }
    want := tree.NewContainer(Q("system"), tree.NewLeaf(Q("hostname"), "r1"), tree.NewLeaf(Q("load"), 0.5))
    if !tree.Equal(got, want) { t.Fatalf("read %#v", got) }

    if err := c.Delete(ctx, DefaultShard, host); err != nil { t.Fatalf("delete: %v", err) }
    if _, ok, _ := c.Read(DefaultShard, host); ok { t.Fatalf("hostname survived delete") }
    if err := c.Write(ctx, "nope", host, tree.NewLeaf(Q("hostname"), "x")); !errors.Is(err, ErrUnknownShard) {
        t.Fatalf("unknown shard: %v", err)
    }
    err = c.Write(ctx, DefaultShard, path("/system/load"), tree.NewLeaf(Q("load"), "high"))
    var cf *datastore.CommitFailedError
    if !errors.As(err, &cf) || cf.Phase != "preCommit" { t.Fatalf("bad value: %v", err) }
}

func TestRegisterListener_DelayedUntilLeader(t *testing.T) {
    c, eng := startLocal(t)
    rec := &recorder{}
    reg, err := c.RegisterListener(ctxT(t), DefaultShard, path("/system"), datastore.ScopeSubtree, rec)
    if err != nil { t.Fatalf("register: %v", err) }
    if st := shardStatus(t, c, DefaultShard); st.Delayed != 1 || st.Endpoints != 0 {
        t.Fatalf("follower status: %+v", st)
    }

    eng.SetLeader(true)
    waitFor(t, "registration enabled", func() bool { return shardStatus(t, c, DefaultShard).Endpoints == 1 })
    if err := c.Write(ctxT(t), DefaultShard, path("/system/hostname"), tree.NewLeaf(Q("hostname"), "r1")); err != nil {
        t.Fatalf("write: %v", err)
    }
    waitFor(t, "notification", func() bool { return rec.count() == 1 })

    if err := reg.Close(ctxT(t)); err != nil { t.Fatalf("close: %v", err) }
    _ = c.Write(ctxT(t), DefaultShard, path("/system/hostname"), tree.NewLeaf(Q("hostname"), "r2"))
    time.Sleep(50 * time.Millisecond)
    if rec.count() != 1 { t.Fatalf("closed registration notified: %d", rec.count()) }
}

func TestSubscribe_LeaderEventsPerShard(t *testing.T) {
    c, eng := startLocal(t, "a", "b")
    ctx, cancel := context.WithCancel(context.Background())
    events := c.Subscribe(ctx)
    eng.SetLeader(true)
    seen := map[string]bool{}
    timeout := time.After(2 * time.Second)
    for len(seen) < 2 {
        select {
        case ev := <-events:
            if ev.Type == EventLeaderChanged && ev.Leader != nil && ev.Leader.Self {
                seen[ev.Shard] = true
            }
        case <-timeout:
            t.Fatalf("leader events: %v", seen)
        }
    }
    cancel()
    waitFor(t, "subscription closed", func() bool {
        select {
        case _, ok := <-events:
            return !ok
        default:
            return false
        }
    })
}

func TestHandleData_RecordsThroughManagement(t *testing.T) {
    c, eng := startLocal(t)
    eng.SetLeader(true)
    waitFor(t, "shard leadership", func() bool { return shardStatus(t, c, DefaultShard).Leader })
    ctx := ctxT(t)
    p := path("/interfaces/interface[name='eth0']/mtu")
    rec, err := codec.EncodeAt(schematest.Example(), p, tree.NewLeaf(Q("mtu"), uint64(1500)))
    if err != nil { t.Fatalf("encode: %v", err) }

    resp, _ := c.handleData(ctx, transport.DataRequest{Path: "/interfaces/interface[name='eth0']/mtu", Op: transport.OpWrite, Record: rec})
    if resp.Error != "" { t.Fatalf("write: %s", resp.Error) }
    resp, _ = c.handleData(ctx, transport.DataRequest{Path: "/interfaces/interface[name='eth0']/mtu", Op: transport.OpRead})
    if !resp.Found || resp.Record == nil { t.Fatalf("read: %+v", resp) }
    n, err := codec.DecodeAt(schematest.Example(), p, resp.Record)
    if err != nil || !tree.Equal(n, tree.NewLeaf(Q("mtu"), uint64(1500))) {
        t.Fatalf("decoded %#v, %v", n, err)
    }

    resp, _ = c.handleData(ctx, transport.DataRequest{Path: "/interfaces/interface[name='eth0']", Op: transport.OpDelete})
    if resp.Error != "" { t.Fatalf("delete: %s", resp.Error) }
    resp, _ = c.handleData(ctx, transport.DataRequest{Path: "/interfaces/interface[name='eth0']/mtu", Op: transport.OpRead})
    if resp.Found || resp.Error != "" { t.Fatalf("read after delete: %+v", resp) }

    for _, bad := range []transport.DataRequest{
        {Path: "/", Op: transport.OpRead},
        {Path: "/system", Op: transport.OpWrite},
        {Path: "/system", Op: "upsert"},
        {Path: "/nothing", Op: transport.OpRead},
    } {
        if resp, _ := c.handleData(ctx, bad); resp.Error == "" { t.Fatalf("%+v accepted", bad) }
    }
}

func TestHandleJoin_FollowerRejects(t *testing.T) {
    c, eng := startLocal(t)
    resp, err := c.handleJoin(ctxT(t), transport.JoinRequest{ID: "n2", RaftAddr: "127.0.0.1:1"})
    if err != nil || resp.Accepted || resp.Error != "not leader" {
        t.Fatalf("follower join: %+v %v", resp, err)
    }
    eng.SetLeader(true)
    resp, _ = c.handleJoin(ctxT(t), transport.JoinRequest{ID: "n2", RaftAddr: "127.0.0.1:1"})
    if !resp.Accepted { t.Fatalf("leader join: %+v", resp) }
    lv, _ := c.handleLeave(ctxT(t), transport.LeaveRequest{ID: "n2"})
    if !lv.Accepted { t.Fatalf("leave: %+v", lv) }
}

func startPair(t *testing.T) (*group, *Cluster, *Cluster) {
    t.Helper()
    g := newGroup()
    lb := &loopback{nodes: map[string]*Cluster{}}
    a := start(t, Options{NodeID: "a", Consensus: g.factory("a"), Relay: lb.factory})
    b := start(t, Options{NodeID: "b", Consensus: g.factory("b"), Relay: lb.factory})
    lb.mu.Lock()
    lb.nodes["a"], lb.nodes["b"] = a, b
    lb.mu.Unlock()
    g.elect("a")
    waitFor(t, "a leads", func() bool { return shardStatus(t, a, DefaultShard).Leader })
    return g, a, b
}

func TestFollower_ForwardsCommitsToLeader(t *testing.T) {
    _, a, b := startPair(t)
    if shardStatus(t, b, DefaultShard).Leader { t.Fatalf("b leads") }
    host := path("/system/hostname")
    if err := b.Write(ctxT(t), DefaultShard, host, tree.NewLeaf(Q("hostname"), "from-b")); err != nil {
        t.Fatalf("forwarded write: %v", err)
    }
    for name, c := range map[string]*Cluster{"a": a, "b": b} {
        n, ok, _ := c.Read(DefaultShard, host)
        if !ok || !tree.Equal(n, tree.NewLeaf(Q("hostname"), "from-b")) {
            t.Fatalf("%s replica: %#v", name, n)
        }
    }
    err := b.Write(ctxT(t), DefaultShard, path("/system/load"), tree.NewLeaf(Q("load"), "high"))
    if err == nil { t.Fatalf("invalid forwarded write accepted") }
}

func TestRegisterListener_OnRemoteLeader(t *testing.T) {
    g, a, b := startPair(t)
    rec := &recorder{}
    reg, err := b.RegisterListener(ctxT(t), DefaultShard, path("/system"), datastore.ScopeSubtree, rec)
    if err != nil { t.Fatalf("register: %v", err) }
    if reg.RegistrationPath().Node() != "a" { t.Fatalf("registered at %s", reg.RegistrationPath()) }
    if st := shardStatus(t, a, DefaultShard); st.Endpoints != 1 { t.Fatalf("leader status: %+v", st) }

    if err := b.Write(ctxT(t), DefaultShard, path("/system/hostname"), tree.NewLeaf(Q("hostname"), "r1")); err != nil {
        t.Fatalf("write: %v", err)
    }
    waitFor(t, "relayed notification", func() bool { return rec.count() == 1 })

    g.elect("b")
    waitFor(t, "a steps down", func() bool { return !shardStatus(t, a, DefaultShard).Leader })
    waitFor(t, "b leads", func() bool { return shardStatus(t, b, DefaultShard).Leader })
    if err := b.Write(ctxT(t), DefaultShard, path("/system/hostname"), tree.NewLeaf(Q("hostname"), "r2")); err != nil {
        t.Fatalf("write on new leader: %v", err)
    }
    time.Sleep(50 * time.Millisecond)
    if rec.count() != 1 { t.Fatalf("registration on a former leader notified: %d", rec.count()) }
}

func TestStop_Idempotent(t *testing.T) {
    c, _ := startLocal(t)
    if err := c.Stop(ctxT(t)); err != nil { t.Fatalf("stop: %v", err) }
    if err := c.Stop(ctxT(t)); err != nil { t.Fatalf("second stop: %v", err) }
    if err := c.Start(ctxT(t)); !errors.Is(err, ErrStopped) { t.Fatalf("start after stop: %v", err) }
}
