package actor

import (
    "context"
    "sync"
    "sync/atomic"

    "github.com/amirimatin/go-shardstore/pkg/internal/logutil"
    "github.com/amirimatin/go-shardstore/pkg/observability/metrics"
)

type envelope struct {
    msg    any
    sender Address
}

type mailbox struct {
    sys      *System
    addr     Address
    receiver Receiver
    ch       chan envelope

    mu      sync.RWMutex
    closed  bool
    stopped atomic.Bool
}

func (m *mailbox) enqueue(env envelope) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.closed {
        m.sys.deadLetter(m.addr, env.msg, "mailbox stopped")
        return
    }
    select {
    case m.ch <- env:
    default:
        metrics.MailboxDrops.Inc()
        logutil.Warnf(m.sys.logger, "actor: mailbox %s full, dropped %T", m.addr, env.msg)
    }
}

func (m *mailbox) close() {
    m.stopped.Store(true)
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return }
    m.closed = true
    close(m.ch)
}

func (m *mailbox) run() {
    defer m.sys.wg.Done()
    c := &Context{sys: m.sys, self: m.addr}
    if p, ok := m.receiver.(PreStarter); ok {
        p.PreStart(c)
    }
    for env := range m.ch {
        if m.stopped.Load() {
            m.sys.deadLetter(m.addr, env.msg, "mailbox stopped")
            continue
        }
        c.sender = env.sender
        m.receiver.Receive(c, env.msg)
    }
    c.sender = NoSender
    if p, ok := m.receiver.(PostStopper); ok {
        p.PostStop(c)
    }
}

// outbox relays envelopes to one node in send order.
type outbox struct {
    sys    *System
    node   string
    remote Remote
    ch     chan WireEnvelope

    mu     sync.RWMutex
    closed bool
}

func (o *outbox) send(env WireEnvelope) {
    o.mu.RLock()
    defer o.mu.RUnlock()
    if o.closed { return }
    select {
    case o.ch <- env:
    default:
        metrics.RelayMessages.WithLabelValues("out", "dropped").Inc()
        logutil.Warnf(o.sys.logger, "actor: outbox to %s full, dropped %s", o.node, env.Type)
    }
}

func (o *outbox) close() {
    o.mu.Lock()
    defer o.mu.Unlock()
    if o.closed { return }
    o.closed = true
    close(o.ch)
}

func (o *outbox) run() {
    defer o.sys.wg.Done()
    for env := range o.ch {
        ctx, cancel := context.WithTimeout(context.Background(), o.sys.sendTimeout)
        err := o.remote.Deliver(ctx, o.node, env)
        cancel()
        if err != nil {
            metrics.RelayMessages.WithLabelValues("out", "error").Inc()
            logutil.Warnf(o.sys.logger, "actor: relay %s to %s failed: %v", env.Type, env.To, err)
            continue
        }
        metrics.RelayMessages.WithLabelValues("out", "ok").Inc()
    }
}
