// Package actor is a minimal message-passing substrate: named mailboxes,
// each drained by a single goroutine, that can be addressed across nodes.
//
// Delivery is at-most-once. Tell never blocks: a full mailbox drops the
// message and an unknown address is a dead letter. Messages to other nodes
// go through a Remote, one ordered outbox per destination node.
package actor

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "github.com/amirimatin/go-shardstore/pkg/internal/logutil"
    "github.com/amirimatin/go-shardstore/pkg/observability/metrics"
)

// Receiver handles the messages of one mailbox. Receive is never called
// concurrently for the same mailbox.
type Receiver interface {
    Receive(c *Context, msg any)
}

type ReceiverFunc func(c *Context, msg any)

func (f ReceiverFunc) Receive(c *Context, msg any) { f(c, msg) }

// PreStarter is implemented by receivers that need a hook before their
// first message.
type PreStarter interface{ PreStart(c *Context) }

// PostStopper is implemented by receivers that need a hook after their
// mailbox stopped.
type PostStopper interface{ PostStop(c *Context) }

// Remote carries envelopes to other nodes.
type Remote interface {
    Deliver(ctx context.Context, node string, env WireEnvelope) error
}

// WireEnvelope is a message in transit between nodes.
type WireEnvelope struct {
    To      Address         `json:"to"`
    From    Address         `json:"from"`
    Type    string          `json:"type"`
    Payload json.RawMessage `json:"payload"`
}

type Options struct {
    Node        string
    MailboxSize int
    SendTimeout time.Duration
    Registry    *Registry
    Remote      Remote
    Logger      *log.Logger
}

type System struct {
    node        string
    mailboxSize int
    sendTimeout time.Duration
    registry    *Registry
    logger      *log.Logger

    remote atomic.Value // remoteHolder

    mu        sync.RWMutex
    mailboxes map[string]*mailbox
    outboxes  map[string]*outbox
    stopped   bool

    askSeq atomic.Uint64
    wg     sync.WaitGroup
}

type remoteHolder struct{ r Remote }

func NewSystem(opts Options) *System {
    if opts.Node == "" {
        opts.Node = "local"
    }
    if opts.MailboxSize <= 0 {
        opts.MailboxSize = 1024
    }
    if opts.SendTimeout <= 0 {
        opts.SendTimeout = 5 * time.Second
    }
    if opts.Registry == nil {
        opts.Registry = NewRegistry()
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    s := &System{
        node:        opts.Node,
        mailboxSize: opts.MailboxSize,
        sendTimeout: opts.SendTimeout,
        registry:    opts.Registry,
        logger:      opts.Logger,
        mailboxes:   map[string]*mailbox{},
        outboxes:    map[string]*outbox{},
    }
    s.remote.Store(remoteHolder{r: opts.Remote})
    return s
}

func (s *System) Node() string        { return s.node }
func (s *System) Registry() *Registry { return s.registry }
func (s *System) Logger() *log.Logger { return s.logger }

// SetRemote installs the transport used for other nodes.
func (s *System) SetRemote(r Remote) { s.remote.Store(remoteHolder{r: r}) }

// Address returns the address a local mailbox named path would have.
func (s *System) Address(path string) Address { return NewAddress(s.node, path) }

// Spawn starts a mailbox at path on this node.
func (s *System) Spawn(path string, r Receiver) (Ref, error) {
    if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || r == nil {
        return Ref{}, fmt.Errorf("%w: %q", ErrBadName, path)
    }
    s.mu.Lock()
    if s.stopped {
        s.mu.Unlock()
        return Ref{}, ErrStopped
    }
    if _, ok := s.mailboxes[path]; ok {
        s.mu.Unlock()
        return Ref{}, fmt.Errorf("%w: %s", ErrExists, path)
    }
    mb := &mailbox{sys: s, addr: s.Address(path), receiver: r, ch: make(chan envelope, s.mailboxSize)}
    s.mailboxes[path] = mb
    s.wg.Add(1)
    s.mu.Unlock()
    go mb.run()
    return Ref{sys: s, addr: mb.addr}, nil
}

// Select returns a reference to addr. The address is resolved on every send;
// the target does not need to exist yet.
func (s *System) Select(addr Address) Ref { return Ref{sys: s, addr: addr} }

// Tell sends msg to addr without waiting.
func (s *System) Tell(to Address, msg any, from Address) {
    node := to.Node()
    if node == "" || node == s.node {
        s.deliverLocal(to, envelope{msg: msg, sender: from})
        return
    }
    r := s.remote.Load().(remoteHolder).r
    if r == nil {
        s.deadLetter(to, msg, "no remote transport")
        return
    }
    name, payload, err := s.registry.Encode(msg)
    if err != nil {
        logutil.Errorf(s.logger, "actor: cannot relay %T to %s: %v", msg, to, err)
        s.deadLetter(to, msg, "unencodable")
        return
    }
    ob := s.outbox(node, r)
    if ob == nil {
        s.deadLetter(to, msg, "system stopped")
        return
    }
    ob.send(WireEnvelope{To: to, From: from, Type: name, Payload: payload})
}

// DeliverRemote hands an envelope received from another node to its local
// mailbox.
func (s *System) DeliverRemote(env WireEnvelope) error {
    if n := env.To.Node(); n != "" && n != s.node { return fmt.Errorf("%w: %s is not %s", ErrNoRoute, n, s.node) }
    msg, err := s.registry.Decode(env.Type, env.Payload)
    if err != nil { return err }
    s.deliverLocal(env.To, envelope{msg: msg, sender: env.From})
    return nil
}

func (s *System) deliverLocal(to Address, env envelope) {
    s.mu.RLock()
    mb := s.mailboxes[to.Path()]
    s.mu.RUnlock()
    if mb == nil {
        s.deadLetter(to, env.msg, "no such mailbox")
        return
    }
    mb.enqueue(env)
}

func (s *System) deadLetter(to Address, msg any, why string) {
    metrics.DeadLetters.Inc()
    logutil.Debugf(s.logger, "actor: dead letter %T to %s: %s", msg, to, why)
}

// Stop stops the local mailbox at addr. Messages still queued are dropped.
func (s *System) Stop(addr Address) {
    if n := addr.Node(); n != "" && n != s.node { return }
    s.mu.Lock()
    mb := s.mailboxes[addr.Path()]
    delete(s.mailboxes, addr.Path())
    s.mu.Unlock()
    if mb != nil {
        mb.close()
    }
}

// Ask sends msg from a temporary mailbox and waits for the first reply. A
// Failure reply is returned as an error.
func (s *System) Ask(ctx context.Context, to Address, msg any) (any, error) {
    replies := make(chan any, 1)
    path := fmt.Sprintf("tmp/ask-%d", s.askSeq.Add(1))
    ref, err := s.Spawn(path, ReceiverFunc(func(_ *Context, m any) {
        select {
        case replies <- m:
        default:
        }
    }))
    if err != nil { return nil, err }
    defer s.Stop(ref.Address())
    s.Tell(to, msg, ref.Address())
    select {
    case m := <-replies:
        if f, ok := m.(Failure); ok { return nil, f }
        return m, nil
    case <-ctx.Done():
        return nil, fmt.Errorf("%w: %s: %v", ErrAskFailed, to, ctx.Err())
    }
}

// Shutdown stops every mailbox and outbox and waits for their goroutines.
func (s *System) Shutdown() {
    s.mu.Lock()
    if s.stopped {
        s.mu.Unlock()
        return
    }
    s.stopped = true
    mbs := s.mailboxes
    obs := s.outboxes
    s.mailboxes = map[string]*mailbox{}
    s.outboxes = map[string]*outbox{}
    s.mu.Unlock()
    for _, mb := range mbs { mb.close() }
    for _, ob := range obs { ob.close() }
    s.wg.Wait()
}

func (s *System) outbox(node string, r Remote) *outbox {
    s.mu.RLock()
    ob := s.outboxes[node]
    s.mu.RUnlock()
    if ob != nil { return ob }
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.stopped { return nil }
    if ob = s.outboxes[node]; ob != nil { return ob }
    ob = &outbox{sys: s, node: node, remote: r, ch: make(chan WireEnvelope, s.mailboxSize)}
    s.outboxes[node] = ob
    s.wg.Add(1)
    go ob.run()
    return ob
}

// Ref is a resolvable reference to a mailbox that may live on any node.
type Ref struct {
    sys  *System
    addr Address
}

func (r Ref) Address() Address { return r.addr }
func (r Ref) IsZero() bool     { return r.sys == nil || r.addr == "" }

// Tell sends msg to the referenced mailbox.
func (r Ref) Tell(msg any, from Address) {
    if r.sys == nil { return }
    r.sys.Tell(r.addr, msg, from)
}

func (r Ref) String() string { return string(r.addr) }

// Context is handed to a receiver with each message.
type Context struct {
    sys    *System
    self   Address
    sender Address
}

func (c *Context) System() *System    { return c.sys }
func (c *Context) Self() Address       { return c.self }
func (c *Context) Sender() Address     { return c.sender }
func (c *Context) Logger() *log.Logger { return c.sys.logger }

// Reply sends msg to the sender of the current message.
func (c *Context) Reply(msg any) {
    if c.sender == NoSender { return }
    c.sys.Tell(c.sender, msg, c.self)
}

// Tell sends msg with the current mailbox as sender.
func (c *Context) Tell(to Address, msg any) { c.sys.Tell(to, msg, c.self) }

// Spawn starts a child mailbox at "<self path>/<name>".
func (c *Context) Spawn(name string, r Receiver) (Ref, error) {
    return c.sys.Spawn(c.self.Path()+"/"+name, r)
}

func (c *Context) Select(addr Address) Ref { return c.sys.Select(addr) }

// Stop stops the current mailbox after this message.
func (c *Context) Stop() { c.sys.Stop(c.self) }
