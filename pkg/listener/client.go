package listener

import (
    "context"
    "errors"
    "fmt"
    "sync/atomic"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var ErrUnexpectedReply = errors.New("listener: unexpected reply")

var endpointSeq atomic.Uint64

// Registration is the client handle of a listener registered with a shard.
type Registration struct {
    sys          *actor.System
    endpoint     actor.Ref
    registration actor.Address
}

// Register spawns an endpoint for l on sys and registers it with the shard
// at shard. Notifications reach l only while that shard leads.
func Register(ctx context.Context, sys *actor.System, shard actor.Address, path yang.InstanceIdentifier, scope datastore.Scope, l datastore.Listener) (*Registration, error) {
    if l == nil { return nil, errors.New("listener: nil listener") }
    ep, err := sys.Spawn(fmt.Sprintf("listeners/listener-%d", endpointSeq.Add(1)), &endpoint{listener: l})
    if err != nil { return nil, err }
    reply, err := sys.Ask(ctx, shard, RegisterChangeListener{Path: path, ListenerPath: ep.Address(), Scope: scope})
    if err != nil {
        sys.Stop(ep.Address())
        return nil, err
    }
    r, ok := reply.(RegisterChangeListenerReply)
    if !ok {
        sys.Stop(ep.Address())
        return nil, fmt.Errorf("%w: %T", ErrUnexpectedReply, reply)
    }
    return &Registration{sys: sys, endpoint: ep, registration: r.RegistrationPath}, nil
}

func (r *Registration) Endpoint() actor.Address         { return r.endpoint.Address() }
func (r *Registration) RegistrationPath() actor.Address { return r.registration }

// Close closes the registration at the shard and stops the endpoint. The
// endpoint is stopped even when the shard cannot be reached.
func (r *Registration) Close(ctx context.Context) error {
    defer r.sys.Stop(r.endpoint.Address())
    reply, err := r.sys.Ask(ctx, r.registration, CloseListenerRegistration{})
    if err != nil { return err }
    if _, ok := reply.(CloseListenerRegistrationReply); !ok { return fmt.Errorf("%w: %T", ErrUnexpectedReply, reply) }
    return nil
}
