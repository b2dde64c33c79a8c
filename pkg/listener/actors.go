package listener

import (
    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/internal/logutil"
)

// registrationActor owns one registration, immediate or delayed, and closes
// it on request or when it is stopped.
type registrationActor struct {
    reg datastore.Registration
}

func (a *registrationActor) Receive(c *actor.Context, msg any) {
    switch msg.(type) {
    case CloseListenerRegistration:
        if err := a.reg.Close(); err != nil {
            logutil.Warnf(c.Logger(), "listener: close %s: %v", c.Self(), err)
        }
        c.Reply(CloseListenerRegistrationReply{})
        c.Stop()
    default:
        logutil.Debugf(c.Logger(), "listener: %s: unexpected %T", c.Self(), msg)
    }
}

func (a *registrationActor) PostStop(*actor.Context) { _ = a.reg.Close() }

// Proxy forwards store notifications to a listener endpoint.
type Proxy struct {
    endpoint actor.Ref
    from     actor.Address
}

var _ datastore.Listener = (*Proxy)(nil)

func NewProxy(endpoint actor.Ref, from actor.Address) *Proxy {
    return &Proxy{endpoint: endpoint, from: from}
}

func (p *Proxy) OnDataChanged(e datastore.ChangeEvent) { p.endpoint.Tell(DataChanged{Event: e}, p.from) }

// endpoint receives DataChanged for a client listener and passes it on only
// while the registering shard leads.
type endpoint struct {
    listener datastore.Listener
    enabled  bool
}

func (e *endpoint) Receive(c *actor.Context, msg any) {
    switch m := msg.(type) {
    case EnableNotification:
        e.enabled = m.Enabled
    case DataChanged:
        if !e.enabled {
            logutil.Debugf(c.Logger(), "listener: %s: dropping notification for %s, not enabled", c.Self(), m.Event.Path)
            return
        }
        e.listener.OnDataChanged(m.Event)
    }
}
