package actor

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"
)

type ping struct{ N int }
type pong struct{ N int }

func waitFor(t *testing.T, what string, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for time.Now().Before(deadline) {
        if cond() { return }
        time.Sleep(5 * time.Millisecond)
    }
    t.Fatalf("timeout waiting for %s", what)
}

func TestTell_PreservesOrder(t *testing.T) {
    sys := NewSystem(Options{Node: "n1"})
    defer sys.Shutdown()
    var mu sync.Mutex
    var got []int
    ref, err := sys.Spawn("counter", ReceiverFunc(func(_ *Context, m any) {
        mu.Lock()
        got = append(got, m.(ping).N)
        mu.Unlock()
    }))
    if err != nil { t.Fatalf("spawn: %v", err) }
    for i := 0; i < 100; i++ { ref.Tell(ping{N: i}, NoSender) }
    waitFor(t, "all messages", func() bool { mu.Lock(); defer mu.Unlock(); return len(got) == 100 })
    for i, n := range got {
        if n != i { t.Fatalf("out of order at %d: %d", i, n) }
    }
    if _, err := sys.Spawn("counter", ReceiverFunc(func(*Context, any) {})); !errors.Is(err, ErrExists) {
        t.Fatalf("duplicate spawn: %v", err)
    }
}

func TestAsk_ReplyAndFailure(t *testing.T) {
    sys := NewSystem(Options{Node: "n1"})
    defer sys.Shutdown()
    _, _ = sys.Spawn("echo", ReceiverFunc(func(c *Context, m any) {
        p := m.(ping)
        if p.N < 0 {
            c.Reply(Failure{Err: errors.New("negative")})
            return
        }
        c.Reply(pong{N: p.N + 1})
    }))
    ctx, cancel := context.WithTimeout(context.Background(), time.Second)
    defer cancel()
    r, err := sys.Ask(ctx, sys.Address("echo"), ping{N: 1})
    if err != nil || r.(pong).N != 2 { t.Fatalf("ask: %v %v", r, err) }
    if _, err := sys.Ask(ctx, sys.Address("echo"), ping{N: -1}); err == nil || err.Error() != "negative" {
        t.Fatalf("failure not surfaced: %v", err)
    }
    short, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
    defer cancel2()
    if _, err := sys.Ask(short, sys.Address("nobody"), ping{}); !errors.Is(err, ErrAskFailed) {
        t.Fatalf("ask to dead letter: %v", err)
    }
}

func TestStop_RunsHooksAndDropsLaterMessages(t *testing.T) {
    sys := NewSystem(Options{Node: "n1"})
    defer sys.Shutdown()
    h := &hooked{started: make(chan struct{}), stopped: make(chan struct{})}
    ref, _ := sys.Spawn("hooked", h)
    <-h.started
    ref.Tell("stop", NoSender)
    select {
    case <-h.stopped:
    case <-time.After(time.Second):
        t.Fatalf("PostStop not called")
    }
    ref.Tell("late", NoSender)
    if h.count() != 1 { t.Fatalf("messages after stop: %d", h.count()) }
}

type hooked struct {
    started, stopped chan struct{}
    mu               sync.Mutex
    n                int
}

func (h *hooked) PreStart(*Context) { close(h.started) }
func (h *hooked) PostStop(*Context) { close(h.stopped) }
func (h *hooked) Receive(c *Context, m any) {
    h.mu.Lock()
    h.n++
    h.mu.Unlock()
    if m == "stop" {
        c.Stop()
    }
}
func (h *hooked) count() int { h.mu.Lock(); defer h.mu.Unlock(); return h.n }

func TestTell_FullMailboxDrops(t *testing.T) {
    sys := NewSystem(Options{Node: "n1", MailboxSize: 1})
    defer sys.Shutdown()
    release := make(chan struct{})
    var mu sync.Mutex
    seen := 0
    ref, _ := sys.Spawn("slow", ReceiverFunc(func(*Context, any) {
        <-release
        mu.Lock()
        seen++
        mu.Unlock()
    }))
    for i := 0; i < 10; i++ { ref.Tell(i, NoSender) }
    close(release)
    time.Sleep(50 * time.Millisecond)
    mu.Lock()
    defer mu.Unlock()
    if seen >= 10 || seen == 0 { t.Fatalf("expected some drops, seen=%d", seen) }
}

// loopback relays envelopes straight into the target system.
type loopback struct {
    mu    sync.Mutex
    nodes map[string]*System
}

func (l *loopback) Deliver(_ context.Context, node string, env WireEnvelope) error {
    l.mu.Lock()
    sys := l.nodes[node]
    l.mu.Unlock()
    if sys == nil { return ErrNoRoute }
    return sys.DeliverRemote(env)
}

func TestRemote_AskAcrossNodes(t *testing.T) {
    reg := NewRegistry()
    reg.Register("test.ping", ping{})
    reg.Register("test.pong", pong{})
    lb := &loopback{nodes: map[string]*System{}}
    a := NewSystem(Options{Node: "a", Registry: reg, Remote: lb})
    b := NewSystem(Options{Node: "b", Registry: reg, Remote: lb})
    defer a.Shutdown()
    defer b.Shutdown()
    lb.nodes["a"], lb.nodes["b"] = a, b

    _, _ = b.Spawn("echo", ReceiverFunc(func(c *Context, m any) { c.Reply(pong{N: m.(ping).N * 2}) }))
    ctx, cancel := context.WithTimeout(context.Background(), time.Second)
    defer cancel()
    r, err := a.Ask(ctx, NewAddress("b", "echo"), ping{N: 21})
    if err != nil { t.Fatalf("remote ask: %v", err) }
    if r.(pong).N != 42 { t.Fatalf("reply: %#v", r) }

    if err := a.DeliverRemote(WireEnvelope{To: NewAddress("a", "x"), Type: "nope"}); !errors.Is(err, ErrUnknown) {
        t.Fatalf("unknown type: %v", err)
    }
}

func TestRegistry_FailureTravelsAsMessage(t *testing.T) {
    reg := NewRegistry()
    name, payload, err := reg.Encode(Failure{Err: errors.New("boom")})
    if err != nil { t.Fatalf("encode: %v", err) }
    m, err := reg.Decode(name, payload)
    if err != nil { t.Fatalf("decode: %v", err) }
    if f, ok := m.(Failure); !ok || f.Error() != "boom" { t.Fatalf("got %#v", m) }
    if _, _, err := reg.Encode(ping{}); !errors.Is(err, ErrUnknown) { t.Fatalf("unregistered: %v", err) }
}

func TestAddress(t *testing.T) {
    a := NewAddress("10.0.0.1:7000", "shard-default/reg-1")
    if a.Node() != "10.0.0.1:7000" || a.Path() != "shard-default/reg-1" {
        t.Fatalf("split: %q %q", a.Node(), a.Path())
    }
}
