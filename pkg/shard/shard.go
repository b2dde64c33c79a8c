// Package shard hosts one replica of a data shard as an actor: it serializes
// listener registrations, leadership flips and commits on its mailbox.
package shard

import (
    "context"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/consensus"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/datastore/inmem"
    "github.com/amirimatin/go-shardstore/pkg/delegate"
    "github.com/amirimatin/go-shardstore/pkg/internal/logutil"
    "github.com/amirimatin/go-shardstore/pkg/listener"
    "github.com/amirimatin/go-shardstore/pkg/observability/metrics"
    "github.com/amirimatin/go-shardstore/pkg/observability/tracing"
    "github.com/amirimatin/go-shardstore/pkg/schema"
)

var (
    ErrNotLeader   = errors.New("shard: not leader")
    ErrInvalidData = errors.New("shard: invalid data")
)

type Options struct {
    Name      string
    System    *actor.System
    Store     *inmem.Store
    Consensus consensus.Consensus
    // CommitTimeout bounds the replication of one commit. Zero means 5s.
    CommitTimeout time.Duration
    Logger        *log.Logger
}

func (o Options) Validate() error {
    if o.Name == "" { return errors.New("shard: empty Name") }
    if o.System == nil { return errors.New("shard: nil System") }
    if o.Store == nil { return errors.New("shard: nil Store") }
    if o.Consensus == nil { return errors.New("shard: nil Consensus") }
    return nil
}

// Shard is the actor owning one replica. Its methods other than SetLeader,
// Watch, Address, Name and Stop are the ShardContext lent to its delegate
// factories and must only be used from its mailbox.
type Shard struct {
    opts    Options
    sys     *actor.System
    store   *inmem.Store
    cons    consensus.Consensus
    logger  *log.Logger
    ref     actor.Ref
    support *listener.Support

    leader bool
    sender actor.Address
}

var (
    _ delegate.ShardContext = (*Shard)(nil)
    _ actor.Receiver        = (*Shard)(nil)
)

// New spawns the shard actor at "shard-<name>". The replica starts as a
// follower until told otherwise.
func New(opts Options) (*Shard, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.CommitTimeout <= 0 {
        opts.CommitTimeout = 5 * time.Second
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    s := &Shard{opts: opts, sys: opts.System, store: opts.Store, cons: opts.Consensus, logger: opts.Logger}
    s.ref = opts.System.Select(opts.System.Address(ActorPath(opts.Name)))
    s.support = listener.NewSupport(s)
    if _, err := opts.System.Spawn(ActorPath(opts.Name), s); err != nil { return nil, err }
    metrics.ShardIsLeader.WithLabelValues(opts.Name).Set(0)
    return s, nil
}

// ActorPath is the mailbox path of shard name on every node.
func ActorPath(name string) string { return "shard-" + name }

func (s *Shard) Name() string           { return s.opts.Name }
func (s *Shard) Address() actor.Address { return s.ref.Address() }

// SetLeader reports a leadership observation to the shard. Repeated values
// are ignored by the shard.
func (s *Shard) SetLeader(leader bool) { s.ref.Tell(LeadershipChanged{Leader: leader}, actor.NoSender) }

// Watch forwards the observations of n until ctx is done or n closes its
// channel.
func (s *Shard) Watch(ctx context.Context, n consensus.LeaderNotifier) {
    ch := n.LeaderCh()
    go func() {
        for {
            select {
            case <-ctx.Done():
                return
            case _, ok := <-ch:
                if !ok { return }
                s.SetLeader(s.cons.IsLeader())
            }
        }
    }()
}

// Stop stops the shard actor; registration actors are children and are
// stopped by their own Close or on system shutdown.
func (s *Shard) Stop() { s.sys.Stop(s.ref.Address()) }

func (s *Shard) Receive(c *actor.Context, msg any) {
    s.sender = c.Sender()
    defer func() { s.sender = actor.NoSender }()
    switch m := msg.(type) {
    case listener.RegisterChangeListener:
        s.support.OnMessage(m, s.leader)
    case LeadershipChanged:
        s.onLeadership(m.Leader)
    case Commit:
        s.commit(m)
    case GetStatus:
        s.Reply(Status{Name: s.opts.Name, Leader: s.leader, Endpoints: s.support.Endpoints(), Delayed: s.support.Delayed()})
    default:
        logutil.Debugf(s.logger, "%s: unexpected %T from %s", s.opts.Name, msg, c.Sender())
    }
}

func (s *Shard) onLeadership(leader bool) {
    if leader == s.leader { return }
    s.leader = leader
    v := 0.0
    if leader {
        v = 1
    }
    metrics.ShardIsLeader.WithLabelValues(s.opts.Name).Set(v)
    metrics.LeadershipChanges.WithLabelValues(s.opts.Name).Inc()
    logutil.Infof(s.logger, "%s: leader=%v", s.opts.Name, leader)
    s.support.OnLeadershipChange(leader)
}

// commit validates and encodes m on the mailbox, then replicates it on its
// own goroutine and replies to the sender when done.
func (s *Shard) commit(m Commit) {
    sender, self := s.sender, s.Self()
    fail := func(mapper datastore.ErrorMapper, err error) {
        metrics.Commits.WithLabelValues(s.opts.Name, mapper.Phase(), "error").Inc()
        logutil.Warnf(s.logger, "%s: %s %s: %v", s.opts.Name, m.Op, m.Path, err)
        s.sys.Tell(sender, actor.Failure{Err: mapper.Map(err)}, self)
    }
    if err := s.canCommit(m); err != nil {
        fail(datastore.CanCommitMapper, err)
        return
    }
    metrics.Commits.WithLabelValues(s.opts.Name, datastore.CanCommitMapper.Phase(), "ok").Inc()
    cmd, err := EncodeCommand(s.store, s.opts.Name, m.Op, m.Path, m.Data)
    if err != nil {
        fail(datastore.PreCommitMapper, err)
        return
    }
    metrics.Commits.WithLabelValues(s.opts.Name, datastore.PreCommitMapper.Phase(), "ok").Inc()
    go func() {
        _, end := tracing.StartSpan(context.Background(), "shard.commit", tracing.Shard(s.opts.Name))
        defer end()
        if err := s.cons.Apply(cmd, s.opts.CommitTimeout); err != nil {
            if errors.Is(err, consensus.ErrNotLeader) {
                err = fmt.Errorf("%w: %v", ErrNotLeader, err)
            }
            fail(datastore.CommitMapper, err)
            return
        }
        metrics.Commits.WithLabelValues(s.opts.Name, datastore.CommitMapper.Phase(), "ok").Inc()
        s.sys.Tell(sender, CommitReply{}, self)
    }()
}

func (s *Shard) canCommit(m Commit) error {
    if !s.leader { return ErrNotLeader }
    if m.Path.IsRoot() { return fmt.Errorf("%w: root path", ErrInvalidData) }
    if _, err := schema.ResolvePath(s.store.Schema(), m.Path); err != nil { return err }
    switch m.Op {
    case OpDelete:
        if m.Data != nil { return fmt.Errorf("%w: delete carries data", ErrInvalidData) }
    case OpWrite, OpMerge:
        if m.Data == nil { return fmt.Errorf("%w: %s without data", ErrInvalidData, m.Op) }
        if !m.Data.Identifier().Equal(m.Path.Last()) { return fmt.Errorf("%w: %s is not at %s", ErrInvalidData, m.Data.Identifier(), m.Path) }
    default:
        return fmt.Errorf("%w: %q", ErrUnknownOp, m.Op)
    }
    return nil
}

func (s *Shard) PersistenceID() string      { return s.opts.Name }
func (s *Shard) Self() actor.Address        { return s.ref.Address() }
func (s *Shard) Sender() actor.Address      { return s.sender }
func (s *Shard) DataStore() datastore.Store { return s.store }
func (s *Shard) Logger() *log.Logger        { return s.logger }

func (s *Shard) Spawn(name string, r actor.Receiver) (actor.Ref, error) {
    return s.sys.Spawn(s.ref.Address().Path()+"/"+name, r)
}

func (s *Shard) Select(addr actor.Address) actor.Ref { return s.sys.Select(addr) }

func (s *Shard) Reply(msg any) {
    if s.sender == actor.NoSender { return }
    s.sys.Tell(s.sender, msg, s.ref.Address())
}
