package cluster

import (
    "github.com/amirimatin/go-shardstore/pkg/membership"
    "github.com/amirimatin/go-shardstore/pkg/shard"
)

// ClusterStatus is a JSON-serializable snapshot of the node and what it
// knows of the cluster, served by the management /status endpoint.
type ClusterStatus struct {
    NodeID string `json:"nodeId"`
    // Healthy is true when a leader is known.
    Healthy    bool   `json:"healthy"`
    Term       uint64 `json:"term"`
    LeaderID   string `json:"leaderId,omitempty"`
    LeaderAddr string `json:"leaderAddr,omitempty"`
    // Members is the gossip view; empty without membership.
    Members []membership.MemberInfo `json:"members,omitempty"`
    // Shards are the local replicas.
    Shards   []shard.Status `json:"shards"`
    Warnings []string       `json:"warnings,omitempty"`
}
