package cluster

import "errors"

var (
    ErrNotLeader    = errors.New("cluster: not leader")
    ErrNoLeader     = errors.New("cluster: no leader known")
    ErrUnknownShard = errors.New("cluster: unknown shard")
    ErrStopped      = errors.New("cluster: stopped")
)
