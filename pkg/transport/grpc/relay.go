package grpc

import (
    "context"
    "errors"
    "fmt"

    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/observability/tracing"
)

// ErrUnresolved is returned when a node id maps to no relay address.
var ErrUnresolved = errors.New("grpc: node has no relay address")

// Resolver maps an actor node id to the host:port of its relay listener.
type Resolver func(node string) (string, bool)

// Relay carries actor envelopes to other nodes over the Relay service. Each
// envelope is one unary call; failures are returned to the outbox, which
// logs and counts them. Nothing is retried.
type Relay struct {
    client  *Client
    resolve Resolver
}

var _ actor.Remote = (*Relay)(nil)

// NewRelay builds a relay on c's connections. A nil resolve uses node ids as
// addresses.
func NewRelay(c *Client, resolve Resolver) *Relay {
    if resolve == nil {
        resolve = func(node string) (string, bool) { return node, true }
    }
    return &Relay{client: c, resolve: resolve}
}

func (r *Relay) Deliver(ctx context.Context, node string, env actor.WireEnvelope) error {
    addr, ok := r.resolve(node)
    if !ok || addr == "" { return fmt.Errorf("%w: %s", ErrUnresolved, node) }
    ctx, end := tracing.StartSpan(ctx, "relay.deliver")
    defer end()
    var ack deliverAck
    if err := r.client.invoke(ctx, addr, relayService+"Deliver", &env, &ack); err != nil {
        if status.Code(err) == codes.Unavailable {
            r.client.conns().Invalidate(addr)
        }
        return err
    }
    if ack.Error != "" { return errors.New(ack.Error) }
    return nil
}
