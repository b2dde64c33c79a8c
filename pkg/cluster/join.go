package cluster

import (
    "context"
    "encoding/json"
    "errors"
    "time"

    "github.com/cenkalti/backoff/v4"

    "github.com/amirimatin/go-shardstore/pkg/consensus"
    "github.com/amirimatin/go-shardstore/pkg/internal/logutil"
    "github.com/amirimatin/go-shardstore/pkg/membership"
    obsmetrics "github.com/amirimatin/go-shardstore/pkg/observability/metrics"
    "github.com/amirimatin/go-shardstore/pkg/observability/tracing"
    "github.com/amirimatin/go-shardstore/pkg/transport"
)

const reconfigureTimeout = 3 * time.Second

// Join asks the leader to add this node as a voter through its management
// endpoint. seedMgmt may be any member: its status names the leader, and a
// rejection by a follower is retried once at the leader it hints.
func (c *Cluster) Join(ctx context.Context, seedMgmt string) error {
    ctx, end := tracing.StartSpan(ctx, "cluster.join")
    defer end()
    if c.rpcC == nil { return errors.New("cluster: no RPC client configured") }
    target := seedMgmt
    if target == "" {
        if id, _, ok := c.cons.Leader(); ok {
            target = c.lookupMgmt(id)
        }
    } else if data, err := c.rpcC.GetStatus(ctx, target); err == nil {
        var st ClusterStatus
        if json.Unmarshal(data, &st) == nil && st.LeaderAddr != "" {
            target = st.LeaderAddr
        }
    }
    if target == "" { return errors.New("cluster: cannot resolve leader management address") }

    req := transport.JoinRequest{ID: c.opts.NodeID}
    if t, ok := c.cons.(transport.Transport); ok {
        req.RaftAddr = t.Addr()
    }
    resp, err := c.rpcC.PostJoin(ctx, target, req)
    if !resp.Accepted && resp.Leader != "" && resp.Leader != target {
        target = resp.Leader
        resp, err = c.rpcC.PostJoin(ctx, target, req)
    }
    if !resp.Accepted && resp.Error == "not leader" { return ErrNotLeader }
    if err != nil { return err }
    if !resp.Accepted {
        if resp.Error != "" { return errors.New(resp.Error) }
        return errors.New("cluster: join rejected")
    }
    logutil.Infof(c.opts.Logger, "joined cluster through %s", target)
    return nil
}

// joinSeeds joins the gossip seeds from discovery, retrying with backoff
// until one answers or JoinTimeout passes.
func (c *Cluster) joinSeeds(ctx context.Context) {
    if c.opts.Discovery == nil { return }
    seeds := c.opts.Discovery.Seeds()
    if len(seeds) == 0 { return }
    logutil.Infof(c.opts.Logger, "joining membership seeds: %v", seeds)
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = 200 * time.Millisecond
    b.MaxElapsedTime = c.opts.JoinTimeout
    err := backoff.RetryNotify(func() error {
        return c.mem.Join(c.opts.Discovery.Seeds())
    }, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
        logutil.Debugf(c.opts.Logger, "seed join failed, retrying in %s: %v", d, err)
    })
    if err != nil && ctx.Err() == nil {
        logutil.Warnf(c.opts.Logger, "membership seeds unreachable: %v", err)
    }
}

func (c *Cluster) membershipEventsLoop(ctx context.Context) {
    evch := c.mem.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case e, ok := <-evch:
            if !ok { return }
            obsmetrics.ClusterMembers.Set(float64(len(c.mem.Members())))
            m := e.Member
            switch e.Type {
            case membership.EventJoin:
                c.eb.publish(Event{Type: EventMemberJoin, At: e.At, Member: &m})
            case membership.EventLeave:
                if m.ID != c.opts.NodeID {
                    c.removeServer(m.ID)
                }
                c.eb.publish(Event{Type: EventMemberLeave, At: e.At, Member: &m})
            }
        }
    }
}

func (c *Cluster) handleJoin(ctx context.Context, req transport.JoinRequest) (transport.JoinResponse, error) {
    _, end := tracing.StartSpan(ctx, "cluster.handleJoin")
    defer end()
    if !c.cons.IsLeader() {
        var hint string
        if id, _, ok := c.cons.Leader(); ok {
            hint = c.lookupMgmt(id)
        }
        obsmetrics.JoinRequests.WithLabelValues("rejected").Inc()
        logutil.Warnf(c.opts.Logger, "join rejected (not leader): id=%s", req.ID)
        return transport.JoinResponse{Accepted: false, Leader: hint, Error: "not leader"}, nil
    }
    if rc, ok := c.cons.(consensus.Reconfigurer); ok {
        if req.RaftAddr == "" { return transport.JoinResponse{Error: "missing raft address"}, nil }
        if err := rc.AddVoter(req.ID, req.RaftAddr, reconfigureTimeout); err != nil {
            obsmetrics.JoinRequests.WithLabelValues("error").Inc()
            logutil.Errorf(c.opts.Logger, "add voter failed: id=%s addr=%s err=%v", req.ID, req.RaftAddr, err)
            return transport.JoinResponse{Error: err.Error()}, nil
        }
    }
    obsmetrics.JoinRequests.WithLabelValues("accepted").Inc()
    logutil.Infof(c.opts.Logger, "join accepted: id=%s addr=%s", req.ID, req.RaftAddr)
    return transport.JoinResponse{Accepted: true}, nil
}

func (c *Cluster) handleLeave(ctx context.Context, req transport.LeaveRequest) (transport.LeaveResponse, error) {
    _, end := tracing.StartSpan(ctx, "cluster.handleLeave")
    defer end()
    if !c.cons.IsLeader() {
        logutil.Warnf(c.opts.Logger, "leave rejected (not leader): id=%s", req.ID)
        return transport.LeaveResponse{Error: "not leader"}, nil
    }
    if err := c.removeServer(req.ID); err != nil { return transport.LeaveResponse{Error: err.Error()}, nil }
    logutil.Infof(c.opts.Logger, "leave accepted: id=%s", req.ID)
    return transport.LeaveResponse{Accepted: true}, nil
}

// removeServer drops id from the voter set when this node leads.
func (c *Cluster) removeServer(id string) error {
    if !c.cons.IsLeader() { return nil }
    rc, ok := c.cons.(consensus.Reconfigurer)
    if !ok { return nil }
    if err := rc.RemoveServer(id, reconfigureTimeout); err != nil {
        logutil.Warnf(c.opts.Logger, "remove voter failed: id=%s err=%v", id, err)
        return err
    }
    logutil.Infof(c.opts.Logger, "removed voter: id=%s", id)
    return nil
}
