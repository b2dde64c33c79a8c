package cluster

import (
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/consensus"
    "github.com/amirimatin/go-shardstore/pkg/discovery"
    "github.com/amirimatin/go-shardstore/pkg/membership"
    "github.com/amirimatin/go-shardstore/pkg/schema"
    "github.com/amirimatin/go-shardstore/pkg/transport"
)

// DefaultShard is hosted when Options.Shards is empty.
const DefaultShard = "default"

// ConsensusFactory builds the engine that replicates into sm. It is called
// once by New, after the shard stores exist.
type ConsensusFactory func(sm consensus.StateMachine) (consensus.Consensus, error)

// RelayFactory builds the actor transport to other nodes. resolve maps an
// actor node id to its relay address.
type RelayFactory func(resolve func(node string) (string, bool)) actor.Remote

// Options carries dependency-injected components and runtime configuration
// used to assemble a node. Instances are typically produced from
// bootstrap.Config.
type Options struct {
    // NodeID names this node in consensus, membership and actor addresses.
    NodeID string
    // Schema is the model every shard validates and encodes against.
    Schema *schema.Context
    // DefaultNamespace qualifies unprefixed names in textual paths. Empty
    // means the namespace of the first schema module.
    DefaultNamespace string
    // Shards to host. Empty means just DefaultShard.
    Shards []string

    Consensus ConsensusFactory

    // Optional: gossip membership and the seeds it joins through. Without
    // membership node ids must be host:port relay addresses.
    Membership membership.Membership
    Discovery  discovery.Discovery
    // JoinTimeout bounds seed join retries. Zero means 10s.
    JoinTimeout time.Duration

    // Optional: relay transport and the server receiving relayed envelopes.
    Relay       RelayFactory
    RelayServer transport.RPCServer

    // Optional: management endpoint and the client used to join a leader.
    RPCServer transport.RPCServer
    RPCClient transport.RPCClient

    // RequestTimeout bounds asks to shard actors. Zero means 5s.
    RequestTimeout time.Duration
    // MailboxSize of every actor. Zero means the actor default.
    MailboxSize int

    Logger *log.Logger
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
    if o.NodeID == "" { return errors.New("cluster: empty NodeID") }
    if o.Schema == nil || len(o.Schema.Modules()) == 0 { return errors.New("cluster: empty Schema") }
    if o.Consensus == nil { return errors.New("cluster: nil Consensus factory") }
    if o.RelayServer != nil && o.Relay == nil { return errors.New("cluster: RelayServer without Relay") }
    seen := map[string]bool{}
    for _, s := range o.Shards {
        if s == "" { return errors.New("cluster: empty shard name") }
        if seen[s] { return errors.New("cluster: duplicate shard " + s) }
        seen[s] = true
    }
    return nil
}

func (o *Options) defaults() {
    if len(o.Shards) == 0 {
        o.Shards = []string{DefaultShard}
    }
    if o.DefaultNamespace == "" {
        o.DefaultNamespace = o.Schema.Modules()[0].Namespace
    }
    if o.JoinTimeout <= 0 {
        o.JoinTimeout = 10 * time.Second
    }
    if o.RequestTimeout <= 0 {
        o.RequestTimeout = 5 * time.Second
    }
    if o.Logger == nil {
        o.Logger = log.Default()
    }
}
