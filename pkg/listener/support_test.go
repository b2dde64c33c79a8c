package listener

import (
    "context"
    "errors"
    "log"
    "sync"
    "testing"
    "time"

    "github.com/google/go-cmp/cmp"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/datastore/inmem"
    "github.com/amirimatin/go-shardstore/pkg/delegate"
    "github.com/amirimatin/go-shardstore/pkg/schema/schematest"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var Q = schematest.Q

func path(s string) yang.InstanceIdentifier { return yang.MustParsePath(schematest.Namespace, s) }

func waitFor(t *testing.T, what string, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for time.Now().Before(deadline) {
        if cond() { return }
        time.Sleep(5 * time.Millisecond)
    }
    t.Fatalf("timeout waiting for %s", what)
}

// fakeShard lends Support a real actor system and store, and records what
// Support answers.
type fakeShard struct {
    sys   *actor.System
    store *inmem.Store
    data  datastore.Store

    mu      sync.Mutex
    replies []any
}

var _ delegate.ShardContext = (*fakeShard)(nil)

func newFakeShard(t *testing.T) *fakeShard {
    t.Helper()
    st, err := inmem.New(inmem.Options{Schema: schematest.Example()})
    if err != nil { t.Fatalf("store: %v", err) }
    sys := actor.NewSystem(actor.Options{Node: "n1"})
    t.Cleanup(sys.Shutdown)
    return &fakeShard{sys: sys, store: st}
}

func (f *fakeShard) PersistenceID() string               { return "test" }
func (f *fakeShard) Self() actor.Address                 { return f.sys.Address("shard-test") }
func (f *fakeShard) Sender() actor.Address               { return actor.NoSender }
func (f *fakeShard) Select(addr actor.Address) actor.Ref { return f.sys.Select(addr) }
func (f *fakeShard) DataStore() datastore.Store {
    if f.data != nil { return f.data }
    return f.store
}
func (f *fakeShard) Logger() *log.Logger                 { return log.Default() }
func (f *fakeShard) Spawn(name string, r actor.Receiver) (actor.Ref, error) {
    return f.sys.Spawn("shard-test/"+name, r)
}

func (f *fakeShard) Reply(msg any) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.replies = append(f.replies, msg)
}

func (f *fakeShard) lastReply(t *testing.T) any {
    t.Helper()
    f.mu.Lock()
    defer f.mu.Unlock()
    if len(f.replies) == 0 { t.Fatalf("no reply") }
    return f.replies[len(f.replies)-1]
}

// recorder stands in for a listener endpoint and records what it receives.
type recorder struct {
    mu      sync.Mutex
    enables []bool
    events  []datastore.ChangeEvent
}

func (p *recorder) Receive(_ *actor.Context, msg any) {
    p.mu.Lock()
    defer p.mu.Unlock()
    switch m := msg.(type) {
    case EnableNotification:
        p.enables = append(p.enables, m.Enabled)
    case DataChanged:
        p.events = append(p.events, m.Event)
    }
}

func (p *recorder) snapshot() ([]bool, int) {
    p.mu.Lock()
    defer p.mu.Unlock()
    return append([]bool(nil), p.enables...), len(p.events)
}

func spawnRecorder(t *testing.T, f *fakeShard, name string) (*recorder, actor.Address) {
    t.Helper()
    p := &recorder{}
    ref, err := f.sys.Spawn(name, p)
    if err != nil { t.Fatalf("spawn recorder: %v", err) }
    return p, ref.Address()
}

func request(p string, ep actor.Address) RegisterChangeListener {
    return RegisterChangeListener{Path: path(p), ListenerPath: ep, Scope: datastore.ScopeSubtree}
}

func writeHostname(t *testing.T, f *fakeShard, name string) {
    t.Helper()
    if err := f.store.Write(path("/system/hostname"), tree.NewLeaf(Q("hostname"), name)); err != nil {
        t.Fatalf("write: %v", err)
    }
}

func TestOnMessage_FollowerRepliesWithoutRegistering(t *testing.T) {
    f := newFakeShard(t)
    p, ep := spawnRecorder(t, f, "recorder")
    s := NewSupport(f)

    s.OnMessage(request("/system", ep), false)
    reply, ok := f.lastReply(t).(RegisterChangeListenerReply)
    if !ok { t.Fatalf("reply: %#v", f.lastReply(t)) }
    if reply.RegistrationPath != f.sys.Address("shard-test/reg-1") {
        t.Fatalf("registration path: %s", reply.RegistrationPath)
    }
    if s.Delayed() != 1 || s.Endpoints() != 0 {
        t.Fatalf("delayed=%d endpoints=%d", s.Delayed(), s.Endpoints())
    }

    writeHostname(t, f, "r1")
    time.Sleep(50 * time.Millisecond)
    if enables, events := p.snapshot(); len(enables) != 0 || events != 0 {
        t.Fatalf("follower registration leaked: %v %d", enables, events)
    }
}

func TestLeadershipChange_BindsDelayedAndEnablesOnce(t *testing.T) {
    f := newFakeShard(t)
    p, ep := spawnRecorder(t, f, "recorder")
    s := NewSupport(f)
    s.OnMessage(request("/system", ep), false)

    s.OnLeadershipChange(true)
    if s.Delayed() != 0 || s.Endpoints() != 1 {
        t.Fatalf("delayed=%d endpoints=%d", s.Delayed(), s.Endpoints())
    }
    writeHostname(t, f, "r1")
    waitFor(t, "notification", func() bool { _, n := p.snapshot(); return n == 1 })
    if enables, _ := p.snapshot(); !cmp.Equal([]bool{true}, enables) {
        t.Fatalf("enables at flip: %v", enables)
    }

    s.OnLeadershipChange(false)
    waitFor(t, "disable", func() bool { e, _ := p.snapshot(); return len(e) == 2 })
    if enables, _ := p.snapshot(); !cmp.Equal([]bool{true, false}, enables) {
        t.Fatalf("enables: %v", enables)
    }
}

func TestOnMessage_LeaderRegistersAndEveryFlipNotifies(t *testing.T) {
    f := newFakeShard(t)
    p, ep := spawnRecorder(t, f, "recorder")
    s := NewSupport(f)

    s.OnMessage(request("/system", ep), true)
    if _, ok := f.lastReply(t).(RegisterChangeListenerReply); !ok { t.Fatalf("reply: %#v", f.lastReply(t)) }
    writeHostname(t, f, "r1")
    waitFor(t, "notification", func() bool { _, n := p.snapshot(); return n == 1 })

    s.OnLeadershipChange(false)
    s.OnLeadershipChange(true)
    s.OnLeadershipChange(false)
    waitFor(t, "flips", func() bool { e, _ := p.snapshot(); return len(e) == 4 })
    if enables, _ := p.snapshot(); !cmp.Equal([]bool{true, false, true, false}, enables) {
        t.Fatalf("enables: %v", enables)
    }
}

func TestOnMessage_LeaderFailureRepliesFailure(t *testing.T) {
    f := newFakeShard(t)
    _, ep := spawnRecorder(t, f, "recorder")
    s := NewSupport(f)

    s.OnMessage(request("/nothing", ep), true)
    fail, ok := f.lastReply(t).(actor.Failure)
    if !ok || !errors.Is(fail, inmem.ErrInvalidPath) { t.Fatalf("reply: %#v", f.lastReply(t)) }
    if _, err := f.sys.Spawn("shard-test/reg-1", actor.ReceiverFunc(func(*actor.Context, any) {})); err != nil {
        t.Fatalf("registration actor created for failed request: %v", err)
    }
}

func TestClosedBeforeLeadership_NeverRegisters(t *testing.T) {
    f := newFakeShard(t)
    p, ep := spawnRecorder(t, f, "recorder")
    s := NewSupport(f)
    s.OnMessage(request("/system", ep), false)
    reply := f.lastReply(t).(RegisterChangeListenerReply)

    ctx, cancel := context.WithTimeout(context.Background(), time.Second)
    defer cancel()
    r, err := f.sys.Ask(ctx, reply.RegistrationPath, CloseListenerRegistration{})
    if err != nil { t.Fatalf("close: %v", err) }
    if _, ok := r.(CloseListenerRegistrationReply); !ok { t.Fatalf("close reply: %#v", r) }

    s.OnLeadershipChange(true)
    writeHostname(t, f, "r1")
    time.Sleep(50 * time.Millisecond)
    if enables, events := p.snapshot(); len(enables) != 0 || events != 0 {
        t.Fatalf("closed registration resolved: %v %d", enables, events)
    }
    if s.Endpoints() != 0 || s.Delayed() != 0 {
        t.Fatalf("delayed=%d endpoints=%d", s.Delayed(), s.Endpoints())
    }
}

func TestLeadershipChange_IsolatesFailedResolution(t *testing.T) {
    f := newFakeShard(t)
    _, bad := spawnRecorder(t, f, "bad")
    good, ep := spawnRecorder(t, f, "good")
    s := NewSupport(f)
    s.OnMessage(request("/nothing", bad), false)
    s.OnMessage(request("/system", ep), false)

    s.OnLeadershipChange(true)
    if s.Delayed() != 0 { t.Fatalf("queue not cleared: %d", s.Delayed()) }
    writeHostname(t, f, "r1")
    waitFor(t, "notification", func() bool { _, n := good.snapshot(); return n == 1 })
}

// recordingStore remembers what reaches the underlying store.
type recordingStore struct {
    datastore.Store

    mu    sync.Mutex
    paths []string
    scope []datastore.Scope
}

func (r *recordingStore) RegisterChangeListener(p yang.InstanceIdentifier, l datastore.Listener, scope datastore.Scope) (datastore.Registration, error) {
    r.mu.Lock()
    r.paths = append(r.paths, p.String())
    r.scope = append(r.scope, scope)
    r.mu.Unlock()
    return r.Store.RegisterChangeListener(p, l, scope)
}

func TestLeadershipChange_ListEntrySubtreeRegistersAtFlip(t *testing.T) {
    f := newFakeShard(t)
    rs := &recordingStore{Store: f.store}
    f.data = rs
    p, ep := spawnRecorder(t, f, "eth0")
    s := NewSupport(f)
    const at = "/interfaces/interface[name='eth0']"
    s.OnMessage(request(at, ep), false)
    if len(rs.paths) != 0 { t.Fatalf("follower reached the store: %v", rs.paths) }

    s.OnLeadershipChange(true)
    rs.mu.Lock()
    gotPaths, gotScope := append([]string(nil), rs.paths...), append([]datastore.Scope(nil), rs.scope...)
    rs.mu.Unlock()
    if diff := cmp.Diff([]string{path(at).String()}, gotPaths); diff != "" { t.Fatalf("paths (-want +got):\n%s", diff) }
    if diff := cmp.Diff([]datastore.Scope{datastore.ScopeSubtree}, gotScope); diff != "" { t.Fatalf("scope (-want +got):\n%s", diff) }

    if err := f.store.Write(path(at+"/mtu"), tree.NewLeaf(Q("mtu"), uint64(1500))); err != nil {
        t.Fatalf("write: %v", err)
    }
    waitFor(t, "notification", func() bool { _, n := p.snapshot(); return n == 1 })
    if enables, _ := p.snapshot(); !cmp.Equal([]bool{true}, enables) {
        t.Fatalf("enables at flip: %v", enables)
    }
}

type countingRegistration struct{ closes int }

func (c *countingRegistration) Close() error { c.closes++; return nil }

func TestDelayedRegistration(t *testing.T) {
    d := NewDelayedRegistration(RegisterChangeListener{})
    r := &countingRegistration{}
    if !d.SetDelegate(r) { t.Fatalf("bind refused") }
    func() {
        defer func() {
            if recover() == nil { t.Fatalf("second bind did not panic") }
        }()
        d.SetDelegate(&countingRegistration{})
    }()
    _ = d.Close()
    _ = d.Close()
    if r.closes != 1 { t.Fatalf("delegate closed %d times", r.closes) }

    late := NewDelayedRegistration(RegisterChangeListener{})
    _ = late.Close()
    if late.SetDelegate(&countingRegistration{}) { t.Fatalf("bind after close accepted") }
    if late.Delegate() != nil { t.Fatalf("delegate bound after close") }
}

func TestEndpoint_GatesOnEnable(t *testing.T) {
    sys := actor.NewSystem(actor.Options{Node: "n1"})
    defer sys.Shutdown()
    var mu sync.Mutex
    var got []string
    l := datastore.ListenerFunc(func(e datastore.ChangeEvent) {
        mu.Lock()
        got = append(got, e.Path.String())
        mu.Unlock()
    })
    ref, _ := sys.Spawn("ep", &endpoint{listener: l})
    ref.Tell(DataChanged{Event: datastore.ChangeEvent{Path: path("/interfaces")}}, actor.NoSender)
    ref.Tell(EnableNotification{Enabled: true}, actor.NoSender)
    ref.Tell(DataChanged{Event: datastore.ChangeEvent{Path: path("/system")}}, actor.NoSender)
    ref.Tell(EnableNotification{Enabled: false}, actor.NoSender)
    ref.Tell(DataChanged{Event: datastore.ChangeEvent{Path: path("/interfaces")}}, actor.NoSender)
    ref.Tell(EnableNotification{Enabled: true}, actor.NoSender)
    ref.Tell(DataChanged{Event: datastore.ChangeEvent{Path: path("/system/hostname")}}, actor.NoSender)

    waitFor(t, "deliveries", func() bool { mu.Lock(); defer mu.Unlock(); return len(got) == 2 })
    want := []string{"/(urn:example)system", "/(urn:example)system/hostname"}
    mu.Lock()
    defer mu.Unlock()
    if diff := cmp.Diff(want, got); diff != "" { t.Fatalf("(-want +got):\n%s", diff) }
}
