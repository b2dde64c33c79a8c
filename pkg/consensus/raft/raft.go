package raftcons

import (
    "context"
    "errors"
    "fmt"
    "log"
    "os"
    "path/filepath"
    "strconv"
    "sync"
    "time"

    "github.com/fxamacker/cbor/v2"
    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    c "github.com/amirimatin/go-shardstore/pkg/consensus"
    "github.com/amirimatin/go-shardstore/pkg/internal/logutil"
)

// Node implements consensus.Consensus with HashiCorp Raft.
type Node struct {
    opts  Options
    log   *log.Logger
    r     *raft.Raft
    lch   chan c.LeaderInfo
    addr  raft.ServerAddress
    trans raft.Transport
    lb    raft.LoopbackTransport

    stopMu  sync.Mutex
    stopped bool
    stopErr error
}

var (
    _ c.Consensus      = (*Node)(nil)
    _ c.LeaderNotifier = (*Node)(nil)
    _ c.Reconfigurer   = (*Node)(nil)
)

func New(opts Options) (*Node, error) {
    if opts.NodeID == "" { return nil, errors.New("raftcons: empty NodeID") }
    if opts.StateMachine == nil { return nil, errors.New("raftcons: nil StateMachine") }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &Node{opts: opts, log: opts.Logger, lch: make(chan c.LeaderInfo, 16)}, nil
}

func (n *Node) Start(ctx context.Context) error {
    if n.r != nil { return nil }

    cfg := raft.DefaultConfig()
    cfg.LocalID = raft.ServerID(n.opts.NodeID)
    if n.opts.HeartbeatTimeout > 0 {
        cfg.HeartbeatTimeout = n.opts.HeartbeatTimeout
        // raft rejects a lease longer than the heartbeat
        if cfg.LeaderLeaseTimeout > cfg.HeartbeatTimeout {
            cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout / 2
            if cfg.LeaderLeaseTimeout == 0 {
                cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout
            }
        }
    }
    if n.opts.ElectionTimeout > 0 {
        cfg.ElectionTimeout = n.opts.ElectionTimeout
    }
    if n.opts.CommitTimeout > 0 {
        cfg.CommitTimeout = n.opts.CommitTimeout
    }

    var (
        logs   raft.LogStore
        stable raft.StableStore
        snaps  raft.SnapshotStore
        addr   raft.ServerAddress
        trans  raft.Transport
        err    error
    )

    if n.opts.DataDir != "" {
        if n.opts.SnapshotsRetained == 0 {
            n.opts.SnapshotsRetained = 2
        }
        if err := os.MkdirAll(n.opts.DataDir, 0o755); err != nil { return err }
        bstore, err := raftboltdb.NewBoltStore(filepath.Join(n.opts.DataDir, "raft.db"))
        if err != nil { return err }
        logs, stable = bstore, bstore
        snaps, err = raft.NewFileSnapshotStore(n.opts.DataDir, n.opts.SnapshotsRetained, os.Stderr)
        if err != nil { return err }
    } else {
        logs = raft.NewInmemStore()
        stable = raft.NewInmemStore()
        snaps = raft.NewInmemSnapshotStore()
    }

    if n.opts.BindAddr != "" {
        nt, err := raft.NewTCPTransport(n.opts.BindAddr, nil, 3, time.Second, os.Stderr)
        if err != nil { return err }
        trans, addr = nt, nt.LocalAddr()
    } else {
        addr, trans = raft.NewInmemTransport(raft.ServerAddress(n.opts.NodeID))
    }

    r, err := raft.NewRaft(cfg, &stateFSM{sm: n.opts.StateMachine}, logs, stable, snaps, trans)
    if err != nil { return err }
    n.r = r
    n.addr = addr
    n.trans = trans
    if lb, ok := trans.(raft.LoopbackTransport); ok {
        n.lb = lb
    }

    obsCh := make(chan raft.Observation, 32)
    n.r.RegisterObserver(raft.NewObserver(obsCh, false, func(o *raft.Observation) bool {
        _, ok := o.Data.(raft.LeaderObservation)
        return ok
    }))
    go func() {
        for range obsCh { n.emitLeader() }
    }()
    // the first election may finish before anyone reads the observer
    go func() {
        time.Sleep(50 * time.Millisecond)
        if _, _, ok := n.Leader(); ok {
            n.emitLeader()
        }
    }()

    if n.opts.Bootstrap {
        servers := raft.Configuration{Servers: []raft.Server{{ID: cfg.LocalID, Address: addr}}}
        if err := n.r.BootstrapCluster(servers).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) { return err }
    }
    logutil.Infof(n.log, "raftcons: %s started at %s", n.opts.NodeID, addr)

    go func() {
        <-ctx.Done()
        _ = n.Stop()
    }()
    return nil
}

// Apply replicates cmd and waits until the local state machine applied it.
// An error returned by the state machine is returned as is.
func (n *Node) Apply(cmd c.Command, timeout time.Duration) error {
    r := n.r
    if r == nil { return c.ErrNotStarted }
    if r.State() != raft.Leader { return c.ErrNotLeader }
    data, err := cbor.Marshal(cmd)
    if err != nil { return err }
    if timeout <= 0 {
        timeout = n.opts.ApplyTimeout
    }
    af := r.Apply(data, timeout)
    if err := af.Error(); err != nil {
        if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) { return fmt.Errorf("%w: %v", c.ErrNotLeader, err) }
        return err
    }
    if e, ok := af.Response().(error); ok && e != nil { return e }
    return nil
}

func (n *Node) IsLeader() bool {
    if n.r == nil { return false }
    return n.r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
    if n.r == nil { return "", "", false }
    a, sid := n.r.LeaderWithID()
    if sid == "" { return "", "", false }
    return string(sid), string(a), true
}

func (n *Node) Term() uint64 {
    if n.r == nil { return 0 }
    if v := n.r.Stats()["current_term"]; v != "" {
        if u, err := strconv.ParseUint(v, 10, 64); err == nil { return u }
    }
    return 0
}

// Addr is the raft transport address peers use to reach this node.
func (n *Node) Addr() string { return string(n.addr) }

// Stop shuts raft down once; later calls return the first result.
func (n *Node) Stop() error {
    n.stopMu.Lock()
    defer n.stopMu.Unlock()
    if n.r == nil || n.stopped { return n.stopErr }
    n.stopped = true
    n.stopErr = n.r.Shutdown().Error()
    return n.stopErr
}

func (n *Node) LeaderCh() <-chan c.LeaderInfo { return n.lch }

// emitLeader publishes the current view, including "no leader", without
// blocking raft.
func (n *Node) emitLeader() {
    id, addr, _ := n.Leader()
    li := c.LeaderInfo{ID: id, Addr: addr, Term: n.Term(), Self: n.IsLeader()}
    select {
    case n.lch <- li:
    default:
        logutil.Debugf(n.log, "raftcons: leader observation dropped: %+v", li)
    }
}

// AddVoter adds a voter, replacing a stale entry with the same id.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
    if n.r == nil { return c.ErrNotStarted }
    cfg := n.r.GetConfiguration()
    if err := cfg.Error(); err == nil {
        for _, srv := range cfg.Configuration().Servers {
            if string(srv.ID) != id { continue }
            if string(srv.Address) == addr { return nil }
            if err := n.r.RemoveServer(srv.ID, 0, timeout).Error(); err != nil { return err }
            break
        }
    }
    return n.r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

func (n *Node) RemoveServer(id string, timeout time.Duration) error {
    if n.r == nil { return c.ErrNotStarted }
    return n.r.RemoveServer(raft.ServerID(id), 0, timeout).Error()
}
