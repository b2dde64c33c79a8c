package raftcons

import (
    "log"
    "time"

    c "github.com/amirimatin/go-shardstore/pkg/consensus"
)

// Options configure a Raft replica of the shard state.
type Options struct {
    NodeID string
    Logger *log.Logger

    // StateMachine receives every committed command (required).
    StateMachine c.StateMachine

    // Bootstrap forms a single-voter cluster on Start.
    Bootstrap bool

    // Zero means the hashicorp/raft defaults.
    HeartbeatTimeout time.Duration
    ElectionTimeout  time.Duration
    CommitTimeout    time.Duration
    // ApplyTimeout bounds Apply when the caller passes no timeout.
    ApplyTimeout time.Duration

    // BindAddr selects a TCP transport bound to this address ("127.0.0.1:0"
    // picks a port). Empty means an in-memory transport.
    BindAddr string

    // DataDir selects a bolt log/stable store and file snapshots. Empty means
    // in-memory stores.
    DataDir           string
    SnapshotsRetained int
}
