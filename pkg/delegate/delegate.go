// Package delegate defines how a shard hands leader-dependent requests to
// per-request delegates.
package delegate

import (
    "log"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
)

// DelegateFactory turns a request into the delegate serving it.
type DelegateFactory[M, D any] interface {
    CreateDelegate(msg M) (D, error)
}

// LeaderLocalDelegateFactory is a DelegateFactory driven by its shard:
// OnMessage receives requests together with the leadership known at the
// time of the call, OnLeadershipChange every leadership flip. The shard
// never calls either concurrently.
type LeaderLocalDelegateFactory[M, D any] interface {
    DelegateFactory[M, D]
    OnLeadershipChange(isLeader bool)
    OnMessage(msg M, isLeader bool)
}

// ShardContext is what the owning shard lends a factory while it runs on
// the shard's dispatch goroutine.
type ShardContext interface {
    PersistenceID() string
    Self() actor.Address
    // Sender is the sender of the message being handled.
    Sender() actor.Address
    Spawn(name string, r actor.Receiver) (actor.Ref, error)
    Select(addr actor.Address) actor.Ref
    // Reply answers the sender of the message being handled.
    Reply(msg any)
    DataStore() datastore.Store
    Logger() *log.Logger
}

// Base is embedded by factories to reach their shard.
type Base struct {
    shard ShardContext
}

func NewBase(shard ShardContext) Base { return Base{shard: shard} }

func (b Base) Shard() ShardContext        { return b.shard }
func (b Base) PersistenceID() string      { return b.shard.PersistenceID() }
func (b Base) Self() actor.Address        { return b.shard.Self() }
func (b Base) DataStore() datastore.Store { return b.shard.DataStore() }
func (b Base) Logger() *log.Logger        { return b.shard.Logger() }

// SelectActor resolves addr lazily; the target may live on another node.
func (b Base) SelectActor(addr actor.Address) actor.Ref { return b.shard.Select(addr) }

// CreateActor spawns a child of the shard.
func (b Base) CreateActor(name string, r actor.Receiver) (actor.Ref, error) { return b.shard.Spawn(name, r) }

// TellSender replies to the sender of the message being handled.
func (b Base) TellSender(msg any) { b.shard.Reply(msg) }
