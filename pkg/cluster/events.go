package cluster

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-shardstore/pkg/consensus"
    "github.com/amirimatin/go-shardstore/pkg/membership"
)

type EventType string

const (
    EventLeaderChanged EventType = "leader_changed"
    EventMemberJoin    EventType = "member_join"
    EventMemberLeave   EventType = "member_leave"
)

// Event is an application-consumable event describing cluster state changes.
// Only the fields relevant to Type are populated; leader events carry the
// shard whose local replica observed the change.
type Event struct {
    Type   EventType
    At     time.Time
    Shard  string
    Leader *consensus.LeaderInfo
    Member *membership.MemberInfo
    Term   uint64
}

// Subscribe returns a channel of events. The returned channel is buffered and
// closed automatically when ctx is done. Events may be dropped if the consumer
// is too slow.
func (c *Cluster) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    c.eb.add(ch)
    go func() {
        <-ctx.Done()
        c.eb.remove(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil {
        e.subs = make(map[chan Event]struct{})
    }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

// remove closes ch under the lock so publish never sends on a closed channel.
func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if _, ok := e.subs[ch]; ok {
        delete(e.subs, ch)
        close(ch)
    }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
    e.mu.Unlock()
}
