package shard

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/consensus/local"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/datastore/inmem"
    "github.com/amirimatin/go-shardstore/pkg/listener"
    "github.com/amirimatin/go-shardstore/pkg/schema/schematest"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var Q = schematest.Q

func path(s string) yang.InstanceIdentifier { return yang.MustParsePath(schematest.Namespace, s) }

type fixture struct {
    sys   *actor.System
    store *inmem.Store
    eng   *local.Engine
    shard *Shard
}

func newFixture(t *testing.T) *fixture {
    t.Helper()
    st, err := inmem.New(inmem.Options{Schema: schematest.Example()})
    if err != nil { t.Fatalf("store: %v", err) }
    sm := NewStateMachine()
    sm.Add("default", st)
    eng := local.New("n1", sm)
    sys := actor.NewSystem(actor.Options{Node: "n1"})
    t.Cleanup(sys.Shutdown)
    sh, err := New(Options{Name: "default", System: sys, Store: st, Consensus: eng})
    if err != nil { t.Fatalf("shard: %v", err) }
    return &fixture{sys: sys, store: st, eng: eng, shard: sh}
}

func (f *fixture) lead(t *testing.T, leader bool) {
    t.Helper()
    f.eng.SetLeader(leader)
    f.shard.SetLeader(leader)
    waitFor(t, "leadership", func() bool { return f.status(t).Leader == leader })
}

func (f *fixture) ask(t *testing.T, msg any) (any, error) {
    t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    return f.sys.Ask(ctx, f.shard.Address(), msg)
}

func (f *fixture) status(t *testing.T) Status {
    t.Helper()
    r, err := f.ask(t, GetStatus{})
    if err != nil { t.Fatalf("status: %v", err) }
    return r.(Status)
}

func waitFor(t *testing.T, what string, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for time.Now().Before(deadline) {
        if cond() { return }
        time.Sleep(5 * time.Millisecond)
    }
    t.Fatalf("timeout waiting for %s", what)
}

func commitPhase(t *testing.T, err error) string {
    t.Helper()
    var cf *datastore.CommitFailedError
    if !errors.As(err, &cf) { t.Fatalf("not a commit failure: %v", err) }
    return cf.Phase
}

func TestCommit_FollowerRejected(t *testing.T) {
    f := newFixture(t)
    _, err := f.ask(t, Commit{Op: OpWrite, Path: path("/system/hostname"), Data: tree.NewLeaf(Q("hostname"), "r1")})
    if commitPhase(t, err) != "canCommit" || !errors.Is(err, ErrNotLeader) {
        t.Fatalf("follower commit: %v", err)
    }
}

func TestCommit_LeaderReplicatesThroughConsensus(t *testing.T) {
    f := newFixture(t)
    f.lead(t, true)
    if _, err := f.ask(t, Commit{Op: OpWrite, Path: path("/system/hostname"), Data: tree.NewLeaf(Q("hostname"), "r1")}); err != nil {
        t.Fatalf("write: %v", err)
    }
    got, ok, _ := f.store.Read(path("/system/hostname"))
    if !ok || !tree.Equal(got, tree.NewLeaf(Q("hostname"), "r1")) {
        t.Fatalf("read after write: %v %v", got, ok)
    }

    merge := tree.NewContainer(Q("system"), tree.NewLeaf(Q("load"), 0.25))
    if _, err := f.ask(t, Commit{Op: OpMerge, Path: path("/system"), Data: merge}); err != nil {
        t.Fatalf("merge: %v", err)
    }
    if _, ok, _ := f.store.Read(path("/system/hostname")); !ok { t.Fatalf("merge dropped sibling") }

    if _, err := f.ask(t, Commit{Op: OpDelete, Path: path("/system/hostname")}); err != nil {
        t.Fatalf("delete: %v", err)
    }
    if _, ok, _ := f.store.Read(path("/system/hostname")); ok { t.Fatalf("delete not applied") }
}

func TestCommit_PhasesMapErrors(t *testing.T) {
    f := newFixture(t)
    f.shard.SetLeader(true)
    waitFor(t, "leadership", func() bool { return f.status(t).Leader })

    cases := []struct {
        name  string
        msg   Commit
        phase string
    }{
        {"unknown path", Commit{Op: OpWrite, Path: path("/nothing"), Data: tree.NewLeaf(Q("nothing"), "x")}, "canCommit"},
        {"misplaced data", Commit{Op: OpWrite, Path: path("/system/load"), Data: tree.NewLeaf(Q("hostname"), "x")}, "canCommit"},
        {"delete with data", Commit{Op: OpDelete, Path: path("/system/load"), Data: tree.NewLeaf(Q("load"), 1.0)}, "canCommit"},
        {"bad op", Commit{Op: "upsert", Path: path("/system/load"), Data: tree.NewLeaf(Q("load"), 1.0)}, "canCommit"},
        {"wrong value type", Commit{Op: OpWrite, Path: path("/system/load"), Data: tree.NewLeaf(Q("load"), "high")}, "preCommit"},
        // the shard believes it leads but the engine does not
        {"engine follower", Commit{Op: OpWrite, Path: path("/system/load"), Data: tree.NewLeaf(Q("load"), 1.0)}, "commit"},
    }
    for _, tc := range cases {
        _, err := f.ask(t, tc.msg)
        if err == nil { t.Fatalf("%s: accepted", tc.name) }
        if got := commitPhase(t, err); got != tc.phase {
            t.Fatalf("%s: phase %s, want %s (%v)", tc.name, got, tc.phase, err)
        }
    }
}

type collector struct {
    mu     sync.Mutex
    events []datastore.ChangeEvent
}

func (c *collector) OnDataChanged(e datastore.ChangeEvent) {
    c.mu.Lock()
    c.events = append(c.events, e)
    c.mu.Unlock()
}

func (c *collector) count() int { c.mu.Lock(); defer c.mu.Unlock(); return len(c.events) }

func TestRegisterListener_DeferredUntilLeadership(t *testing.T) {
    f := newFixture(t)
    col := &collector{}
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    reg, err := listener.Register(ctx, f.sys, f.shard.Address(), path("/system"), datastore.ScopeSubtree, col)
    if err != nil { t.Fatalf("register on follower: %v", err) }
    if st := f.status(t); st.Delayed != 1 || st.Endpoints != 0 { t.Fatalf("status: %+v", st) }

    _ = f.store.Write(path("/system/hostname"), tree.NewLeaf(Q("hostname"), "before"))
    f.lead(t, true)
    if st := f.status(t); st.Delayed != 0 || st.Endpoints != 1 { t.Fatalf("status after flip: %+v", st) }
    if _, err := f.ask(t, Commit{Op: OpWrite, Path: path("/system/hostname"), Data: tree.NewLeaf(Q("hostname"), "after")}); err != nil {
        t.Fatalf("write: %v", err)
    }
    waitFor(t, "notification", func() bool { return col.count() == 1 })

    f.lead(t, false)
    _ = f.store.Write(path("/system/hostname"), tree.NewLeaf(Q("hostname"), "as-follower"))
    time.Sleep(50 * time.Millisecond)
    if col.count() != 1 { t.Fatalf("notification delivered while not leading: %d", col.count()) }

    if err := reg.Close(ctx); err != nil { t.Fatalf("close: %v", err) }
    f.lead(t, true)
    _ = f.store.Write(path("/system/hostname"), tree.NewLeaf(Q("hostname"), "closed"))
    time.Sleep(50 * time.Millisecond)
    if col.count() != 1 { t.Fatalf("closed registration notified") }
}

func TestRegisterListener_LeaderFailureSurfaces(t *testing.T) {
    f := newFixture(t)
    f.lead(t, true)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if _, err := listener.Register(ctx, f.sys, f.shard.Address(), path("/nothing"), datastore.ScopeBase, &collector{}); !errors.Is(err, inmem.ErrInvalidPath) {
        t.Fatalf("register bad path: %v", err)
    }
}

func TestWatch_FollowsEngine(t *testing.T) {
    f := newFixture(t)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    f.shard.Watch(ctx, f.eng)
    f.eng.SetLeader(true)
    waitFor(t, "leader", func() bool { return f.status(t).Leader })
    f.eng.SetLeader(false)
    waitFor(t, "follower", func() bool { return !f.status(t).Leader })
}
