// Package memberlist implements membership over HashiCorp memberlist. Node
// metadata is gossiped as a JSON object.
package memberlist

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    "github.com/amirimatin/go-shardstore/pkg/internal/logutil"
    base "github.com/amirimatin/go-shardstore/pkg/membership"
)

var ErrNotStarted = errors.New("memberlist: not started")

type Options struct {
    NodeID string
    // Bind is host:port; port 0 picks a free one.
    Bind string
    // Advertise is the host:port peers use. Empty derives it from Bind.
    Advertise string
    // Meta is gossiped with the node, typically relay, mgmt and raft addresses.
    Meta   map[string]string
    Logger *log.Logger

    // Zero means memberlist's LAN default.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

func (o Options) Validate() error {
    if o.NodeID == "" { return errors.New("memberlist: empty NodeID") }
    if o.Bind == "" { return errors.New("memberlist: empty Bind address") }
    return nil
}

// Membership implements base.Membership.
type Membership struct {
    opts Options
    meta *nodeDelegate

    mu     sync.RWMutex
    ml     *memberlist.Memberlist
    evts   chan base.Event
    closed bool
}

var (
    _ base.Membership     = (*Membership)(nil)
    _ base.HealthReporter = (*Membership)(nil)
)

func New(opts Options) (*Membership, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    m := &Membership{opts: opts, evts: make(chan base.Event, 64), meta: &nodeDelegate{}}
    if err := m.meta.set(opts.Meta); err != nil { return nil, err }
    return m, nil
}

func splitHostPort(s string) (string, int, error) {
    host, p, err := net.SplitHostPort(s)
    if err != nil { return "", 0, fmt.Errorf("memberlist: invalid address %q: %w", s, err) }
    port, err := strconv.Atoi(p)
    if err != nil || port < 0 || port > 65535 { return "", 0, fmt.Errorf("memberlist: invalid port %q", p) }
    return host, port, nil
}

// Start creates the memberlist instance. It is stopped when ctx is done.
func (m *Membership) Start(ctx context.Context) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.ml != nil { return nil }
    if m.closed { return errors.New("memberlist: stopped") }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = m.opts.NodeID
    host, port, err := splitHostPort(m.opts.Bind)
    if err != nil { return err }
    cfg.BindAddr, cfg.BindPort = host, port
    if m.opts.Advertise != "" {
        ahost, aport, err := splitHostPort(m.opts.Advertise)
        if err != nil { return err }
        cfg.AdvertiseAddr, cfg.AdvertisePort = ahost, aport
    }
    if m.opts.ProbeInterval > 0 {
        cfg.ProbeInterval = m.opts.ProbeInterval
    }
    if m.opts.ProbeTimeout > 0 {
        cfg.ProbeTimeout = m.opts.ProbeTimeout
    }
    if m.opts.SuspicionMult > 0 {
        cfg.SuspicionMult = m.opts.SuspicionMult
    }
    cfg.Events = &eventDelegate{emit: m.emit}
    cfg.Delegate = m.meta
    cfg.Logger = m.opts.Logger

    ml, err := memberlist.Create(cfg)
    if err != nil { return err }
    m.ml = ml
    go func() {
        <-ctx.Done()
        _ = m.Stop()
    }()
    return nil
}

func (m *Membership) list() *memberlist.Memberlist {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return m.ml
}

func (m *Membership) Join(seeds []string) error {
    ml := m.list()
    if ml == nil { return ErrNotStarted }
    if len(seeds) == 0 { return nil }
    _, err := ml.Join(seeds)
    return err
}

func (m *Membership) Local() base.MemberInfo {
    ml := m.list()
    if ml == nil { return base.MemberInfo{} }
    return info(ml.LocalNode())
}

func (m *Membership) Members() []base.MemberInfo {
    ml := m.list()
    if ml == nil { return nil }
    nodes := ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes { out = append(out, info(n)) }
    return out
}

// UpdateMeta replaces the gossiped metadata and pushes it to peers.
func (m *Membership) UpdateMeta(meta map[string]string) error {
    if err := m.meta.set(meta); err != nil { return err }
    ml := m.list()
    if ml == nil { return nil }
    return ml.UpdateNode(time.Second)
}

func (m *Membership) Events() <-chan base.Event { return m.evts }

// Leave broadcasts an intent to leave, waiting up to a second.
func (m *Membership) Leave() error {
    ml := m.list()
    if ml == nil { return nil }
    return ml.Leave(time.Second)
}

// Stop shuts memberlist down and closes the events channel.
func (m *Membership) Stop() error {
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        return nil
    }
    m.closed = true
    ml := m.ml
    m.ml = nil
    close(m.evts)
    m.mu.Unlock()
    if ml == nil { return nil }
    return ml.Shutdown()
}

func (m *Membership) HealthScore() int {
    ml := m.list()
    if ml == nil { return -1 }
    return ml.GetHealthScore()
}

func (m *Membership) emit(e base.Event) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.closed { return }
    select {
    case m.evts <- e:
    default:
        logutil.Warnf(m.opts.Logger, "memberlist: dropping %s event for %s: channel full", e.Type, e.Member.ID)
    }
}

func info(n *memberlist.Node) base.MemberInfo {
    meta := map[string]string{}
    if len(n.Meta) > 0 {
        _ = json.Unmarshal(n.Meta, &meta)
    }
    return base.MemberInfo{ID: n.Name, Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))), Meta: meta}
}

type eventDelegate struct{ emit func(base.Event) }

func (d *eventDelegate) notify(t base.EventType, n *memberlist.Node) {
    if n == nil { return }
    d.emit(base.Event{Type: t, Member: info(n), At: time.Now()})
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node)   { d.notify(base.EventJoin, n) }
func (d *eventDelegate) NotifyLeave(n *memberlist.Node)  { d.notify(base.EventLeave, n) }
func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) { d.notify(base.EventUpdate, n) }

// nodeDelegate serves the encoded metadata in alive messages.
type nodeDelegate struct {
    mu   sync.RWMutex
    meta []byte
}

func (d *nodeDelegate) set(meta map[string]string) error {
    b, err := json.Marshal(meta)
    if err != nil { return err }
    if len(b) > memberlist.MetaMaxSize { return fmt.Errorf("memberlist: meta is %d bytes, limit %d", len(b), memberlist.MetaMaxSize) }
    d.mu.Lock()
    d.meta = b
    d.mu.Unlock()
    return nil
}

func (d *nodeDelegate) NodeMeta(limit int) []byte {
    d.mu.RLock()
    defer d.mu.RUnlock()
    if len(d.meta) > limit { return nil }
    return d.meta
}

func (d *nodeDelegate) NotifyMsg([]byte)                {}
func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte { return nil }
func (d *nodeDelegate) LocalState(bool) []byte          { return nil }
func (d *nodeDelegate) MergeRemoteState([]byte, bool)   {}
