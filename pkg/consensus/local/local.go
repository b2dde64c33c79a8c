// Package local is a single-process consensus engine whose leadership is
// set by hand. It applies commands synchronously and suits tests and
// single-node deployments.
package local

import (
    "context"
    "sync"
    "time"

    c "github.com/amirimatin/go-shardstore/pkg/consensus"
)

type Engine struct {
    id string
    sm c.StateMachine

    mu     sync.Mutex
    leader bool
    term   uint64
    ch     chan c.LeaderInfo
}

var (
    _ c.Consensus      = (*Engine)(nil)
    _ c.LeaderNotifier = (*Engine)(nil)
)

func New(id string, sm c.StateMachine) *Engine {
    return &Engine{id: id, sm: sm, ch: make(chan c.LeaderInfo, 16)}
}

func (e *Engine) Start(context.Context) error { return nil }
func (e *Engine) Stop() error                 { return nil }

// SetLeader flips leadership and publishes the change. Setting the current
// state again publishes nothing.
func (e *Engine) SetLeader(leader bool) {
    e.mu.Lock()
    if e.leader == leader {
        e.mu.Unlock()
        return
    }
    e.leader = leader
    if leader {
        e.term++
    }
    li := c.LeaderInfo{Term: e.term, Self: leader}
    if leader {
        li.ID = e.id
    }
    e.mu.Unlock()
    select {
    case e.ch <- li:
    default:
    }
}

func (e *Engine) Apply(cmd c.Command, _ time.Duration) error {
    e.mu.Lock()
    defer e.mu.Unlock()
    if !e.leader { return c.ErrNotLeader }
    return e.sm.Apply(cmd)
}

func (e *Engine) IsLeader() bool {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.leader
}

func (e *Engine) Leader() (string, string, bool) {
    e.mu.Lock()
    defer e.mu.Unlock()
    if !e.leader { return "", "", false }
    return e.id, "", true
}

func (e *Engine) Term() uint64 {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.term
}

func (e *Engine) LeaderCh() <-chan c.LeaderInfo { return e.ch }
