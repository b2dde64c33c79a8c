package cluster

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/cenkalti/backoff/v4"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/codec"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/listener"
    "github.com/amirimatin/go-shardstore/pkg/observability/tracing"
    "github.com/amirimatin/go-shardstore/pkg/shard"
    "github.com/amirimatin/go-shardstore/pkg/transport"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// ParsePath parses a textual instance identifier, qualifying unprefixed
// names with the default namespace.
func (c *Cluster) ParsePath(s string) (yang.InstanceIdentifier, error) {
    return yang.ParsePath(c.opts.DefaultNamespace, s)
}

// Read returns the subtree at path from the local replica of shardName.
// Followers may lag the leader.
func (c *Cluster) Read(shardName string, path yang.InstanceIdentifier) (tree.Node, bool, error) {
    st, ok := c.stores[shardName]
    if !ok { return nil, false, fmt.Errorf("%w: %s", ErrUnknownShard, shardName) }
    return st.Read(path)
}

// Write replaces the subtree at path.
func (c *Cluster) Write(ctx context.Context, shardName string, path yang.InstanceIdentifier, data tree.Node) error {
    return c.commit(ctx, shardName, shard.Commit{Op: shard.OpWrite, Path: path, Data: data})
}

// Merge overlays data onto the subtree at path.
func (c *Cluster) Merge(ctx context.Context, shardName string, path yang.InstanceIdentifier, data tree.Node) error {
    return c.commit(ctx, shardName, shard.Commit{Op: shard.OpMerge, Path: path, Data: data})
}

// Delete removes the subtree at path. Deleting nothing succeeds.
func (c *Cluster) Delete(ctx context.Context, shardName string, path yang.InstanceIdentifier) error {
    return c.commit(ctx, shardName, shard.Commit{Op: shard.OpDelete, Path: path})
}

// commit asks the leading replica of shardName to replicate m. While no
// leader is known, or the asked replica has just lost leadership, the commit
// is retried until ctx or RequestTimeout runs out.
func (c *Cluster) commit(ctx context.Context, shardName string, m shard.Commit) error {
    ctx, end := tracing.StartSpan(ctx, "cluster.commit", tracing.Shard(shardName))
    defer end()
    if _, ok := c.shards[shardName]; !ok { return fmt.Errorf("%w: %s", ErrUnknownShard, shardName) }
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = 50 * time.Millisecond
    b.MaxElapsedTime = c.opts.RequestTimeout
    return backoff.Retry(func() error {
        addr, err := c.leaderShard(shardName)
        if err != nil { return err }
        actx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
        defer cancel()
        reply, err := c.sys.Ask(actx, addr, m)
        if err != nil {
            if notLeader(err) { return err }
            return backoff.Permanent(err)
        }
        if _, ok := reply.(shard.CommitReply); !ok { return backoff.Permanent(fmt.Errorf("cluster: unexpected commit reply %T", reply)) }
        return nil
    }, backoff.WithContext(b, ctx))
}

// notLeader reports a failure caused by a leadership change. Failures
// relayed from other nodes only keep their message.
func notLeader(err error) bool {
    if errors.Is(err, ErrNoLeader) || errors.Is(err, shard.ErrNotLeader) { return true }
    var f actor.Failure
    return errors.As(err, &f) && strings.Contains(f.Error(), shard.ErrNotLeader.Error())
}

// leaderShard is the address of the replica of shardName on the current
// leader.
func (c *Cluster) leaderShard(shardName string) (actor.Address, error) {
    if c.cons.IsLeader() { return c.shards[shardName].Address(), nil }
    id, _, ok := c.cons.Leader()
    if !ok || id == "" { return "", ErrNoLeader }
    if id == c.opts.NodeID { return c.shards[shardName].Address(), nil }
    return actor.NewAddress(id, shard.ActorPath(shardName)), nil
}

// RegisterListener registers l for changes at path of shardName. The
// registration goes to the leader's replica when one is known, otherwise to
// the local replica, which holds it until it leads. Notifications arrive only
// while the replica holding the registration leads.
func (c *Cluster) RegisterListener(ctx context.Context, shardName string, path yang.InstanceIdentifier, scope datastore.Scope, l datastore.Listener) (*listener.Registration, error) {
    ctx, end := tracing.StartSpan(ctx, "cluster.registerListener", tracing.Shard(shardName))
    defer end()
    s, ok := c.shards[shardName]
    if !ok { return nil, fmt.Errorf("%w: %s", ErrUnknownShard, shardName) }
    addr, err := c.leaderShard(shardName)
    if err != nil {
        addr = s.Address()
    }
    rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
    defer cancel()
    return listener.Register(rctx, c.sys, addr, path, scope, l)
}

// handleData serves management data requests. Reads come from the local
// replica; changes go through commit.
func (c *Cluster) handleData(ctx context.Context, req transport.DataRequest) (transport.DataResponse, error) {
    name := req.Shard
    if name == "" {
        name = DefaultShard
    }
    path, err := c.ParsePath(req.Path)
    if err != nil { return transport.DataResponse{Error: err.Error()}, nil }
    if path.IsRoot() { return transport.DataResponse{Error: "root path not addressable"}, nil }
    switch req.Op {
    case transport.OpRead:
        n, found, err := c.Read(name, path)
        if err != nil { return transport.DataResponse{Error: err.Error()}, nil }
        if !found { return transport.DataResponse{}, nil }
        rec, err := codec.EncodeAt(c.opts.Schema, path, n)
        if err != nil { return transport.DataResponse{Error: err.Error()}, nil }
        return transport.DataResponse{Found: true, Record: rec}, nil
    case transport.OpWrite, transport.OpMerge:
        if req.Record == nil { return transport.DataResponse{Error: req.Op + " without record"}, nil }
        n, err := codec.DecodeAt(c.opts.Schema, path, req.Record)
        if err != nil { return transport.DataResponse{Error: err.Error()}, nil }
        if req.Op == transport.OpWrite {
            err = c.Write(ctx, name, path, n)
        } else {
            err = c.Merge(ctx, name, path, n)
        }
        if err != nil { return transport.DataResponse{Error: err.Error()}, nil }
        return transport.DataResponse{}, nil
    case transport.OpDelete:
        if err := c.Delete(ctx, name, path); err != nil { return transport.DataResponse{Error: err.Error()}, nil }
        return transport.DataResponse{}, nil
    }
    return transport.DataResponse{Error: fmt.Sprintf("unknown op %q", req.Op)}, nil
}
