// Package consensus abstracts the leader-based engine that orders shard
// commits and decides which replica leads.
package consensus

import (
    "context"
    "errors"
    "time"
)

var (
    ErrNotLeader  = errors.New("consensus: not leader")
    ErrNotStarted = errors.New("consensus: not started")
)

// Command is one replicated log entry. Op and Payload are interpreted by the
// StateMachine.
type Command struct {
    Op      string `cbor:"op"`
    Payload []byte `cbor:"payload"`
}

// Consensus is a leader-based replication engine. Apply is accepted only on
// the leader and returns once the command was applied locally.
type Consensus interface {
    Start(ctx context.Context) error
    Apply(cmd Command, timeout time.Duration) error
    IsLeader() bool
    Leader() (id string, addr string, ok bool)
    Term() uint64
    Stop() error
}

// StateMachine is the state every replica applies committed commands to.
type StateMachine interface {
    Apply(cmd Command) error
    Snapshot() ([]byte, error)
    Restore(data []byte) error
}
