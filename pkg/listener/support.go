package listener

import (
    "fmt"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/delegate"
    "github.com/amirimatin/go-shardstore/pkg/internal/logutil"
    "github.com/amirimatin/go-shardstore/pkg/observability/metrics"
)

// Support serves RegisterChangeListener for one shard. Registrations made
// while the shard follows are parked and bound when it becomes leader;
// every endpoint ever registered is told about each leadership flip.
//
// Support is not safe for concurrent use; its shard drives it from a
// single goroutine.
type Support struct {
    delegate.Base

    delayed   []*DelayedRegistration
    endpoints []actor.Ref
    seq       int
}

var _ delegate.LeaderLocalDelegateFactory[RegisterChangeListener, datastore.Registration] = (*Support)(nil)

func NewSupport(shard delegate.ShardContext) *Support {
    return &Support{Base: delegate.NewBase(shard)}
}

// OnMessage registers msg now when leading, or parks it otherwise. The
// sender is answered with the registration actor's address in both cases.
func (s *Support) OnMessage(msg RegisterChangeListener, isLeader bool) {
    logutil.Debugf(s.Logger(), "listener: %s: register %s for %s, leader=%v", s.PersistenceID(), msg.ListenerPath, msg.Path, isLeader)
    shard := s.PersistenceID()

    var reg datastore.Registration
    if isLeader {
        r, err := s.CreateDelegate(msg)
        if err != nil {
            metrics.Registrations.WithLabelValues(shard, "failed").Inc()
            logutil.Warnf(s.Logger(), "listener: %s: register %s: %v", shard, msg.Path, err)
            s.TellSender(actor.Failure{Err: err})
            return
        }
        metrics.Registrations.WithLabelValues(shard, "immediate").Inc()
        reg = r
    } else {
        d := NewDelayedRegistration(msg)
        s.delayed = append(s.delayed, d)
        metrics.Registrations.WithLabelValues(shard, "delayed").Inc()
        metrics.DelayedRegistrations.WithLabelValues(shard).Set(float64(len(s.delayed)))
        reg = d
    }

    s.seq++
    ref, err := s.CreateActor(fmt.Sprintf("reg-%d", s.seq), &registrationActor{reg: reg})
    if err != nil {
        _ = reg.Close()
        s.TellSender(actor.Failure{Err: err})
        return
    }
    s.TellSender(RegisterChangeListenerReply{RegistrationPath: ref.Address()})
}

// CreateDelegate enables the endpoint, remembers it for later flips and
// registers a proxy for it with the shard's store.
func (s *Support) CreateDelegate(msg RegisterChangeListener) (datastore.Registration, error) {
    ep := s.SelectActor(msg.ListenerPath)
    ep.Tell(EnableNotification{Enabled: true}, s.Self())
    metrics.EnableNotifications.WithLabelValues(s.PersistenceID(), "true").Inc()
    s.endpoints = append(s.endpoints, ep)
    metrics.ListenerEndpoints.WithLabelValues(s.PersistenceID()).Set(float64(len(s.endpoints)))
    return s.DataStore().RegisterChangeListener(msg.Path, NewProxy(ep, s.Self()), msg.Scope)
}

// OnLeadershipChange tells every known endpoint about the flip and, when the
// shard now leads, binds the parked registrations.
func (s *Support) OnLeadershipChange(isLeader bool) {
    shard := s.PersistenceID()
    logutil.Infof(s.Logger(), "listener: %s: leadership changed, leader=%v endpoints=%d delayed=%d", shard, isLeader, len(s.endpoints), len(s.delayed))
    enabled := fmt.Sprint(isLeader)
    for _, ep := range s.endpoints {
        ep.Tell(EnableNotification{Enabled: isLeader}, s.Self())
        metrics.EnableNotifications.WithLabelValues(shard, enabled).Inc()
    }
    if !isLeader || len(s.delayed) == 0 { return }

    pending := s.delayed
    s.delayed = nil
    metrics.DelayedRegistrations.WithLabelValues(shard).Set(0)
    for _, d := range pending {
        if d.IsClosed() { continue }
        r, err := s.CreateDelegate(d.Request())
        if err != nil {
            metrics.ResolutionFailures.WithLabelValues(shard).Inc()
            logutil.Errorf(s.Logger(), "listener: %s: delayed registration for %s failed: %v", shard, d.Request().Path, err)
            continue
        }
        if !d.SetDelegate(r) {
            _ = r.Close()
        }
    }
}

// Endpoints is the number of endpoints told about leadership flips.
func (s *Support) Endpoints() int { return len(s.endpoints) }

// Delayed is the number of registrations waiting for leadership.
func (s *Support) Delayed() int { return len(s.delayed) }
