// Package membership abstracts the gossip layer that tells a node who its
// peers are and how to reach their relay, management and raft listeners.
package membership

import (
    "context"
    "time"
)

// Meta keys published by every node.
const (
    MetaRelay = "relay"
    MetaMgmt  = "mgmt"
    MetaRaft  = "raft"
)

// MemberInfo describes a cluster member as observed by the membership layer.
// Meta carries the addresses listed above.
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

type EventType string

const (
    // EventJoin indicates a member joined or became visible.
    EventJoin EventType = "join"
    // EventLeave indicates a member left the cluster.
    EventLeave EventType = "leave"
    // EventUpdate indicates a member changed its metadata.
    EventUpdate EventType = "update"
)

// Event is the translated membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the abstraction over the underlying gossip/failure-detection
// layer. It is responsible for peer discovery, join/leave and event delivery.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}

// Lookup returns the member with the given id.
func Lookup(m Membership, id string) (MemberInfo, bool) {
    for _, mi := range m.Members() {
        if mi.ID == id { return mi, true }
    }
    return MemberInfo{}, false
}

// MetaOf returns the meta value key of member id, if gossiped.
func MetaOf(m Membership, id, key string) (string, bool) {
    mi, ok := Lookup(m, id)
    if !ok { return "", false }
    v, ok := mi.Meta[key]
    return v, ok && v != ""
}
