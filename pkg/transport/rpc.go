package transport

import (
    "context"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/codec"
)

// StatusFunc returns a JSON-encoded status payload for management /status.
// Using []byte avoids import cycles on cluster types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// JoinRequest describes a join intent from a node and carries the raft address
// that should be added as a voter.
type JoinRequest struct {
    ID       string `json:"id"`
    RaftAddr string `json:"raftAddr"`
}

// JoinResponse indicates acceptance and optionally leader address or error.
type JoinResponse struct {
    Accepted bool   `json:"accepted"`
    Leader   string `json:"leader,omitempty"`
    Error    string `json:"error,omitempty"`
}

// JoinFunc handles node join requests (leader-only).
type JoinFunc func(ctx context.Context, req JoinRequest) (JoinResponse, error)

// LeaveRequest requests removal of a node from the cluster.
type LeaveRequest struct {
    ID string `json:"id"`
}

// LeaveResponse indicates whether the leave/remove was accepted.
type LeaveResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

// LeaveFunc handles node leave requests (leader-only).
type LeaveFunc func(ctx context.Context, req LeaveRequest) (LeaveResponse, error)

// Data operations.
const (
    OpRead   = "read"
    OpWrite  = "write"
    OpMerge  = "merge"
    OpDelete = "delete"
)

// DataRequest reads or changes the subtree at Path of one shard. Record is
// the envelope-wrapped subtree for write and merge.
type DataRequest struct {
    Shard  string            `json:"shard"`
    Path   string            `json:"path"`
    Op     string            `json:"op"`
    Record *codec.WireRecord `json:"record,omitempty"`
}

// DataResponse carries the record read, if any.
type DataResponse struct {
    Found  bool              `json:"found"`
    Record *codec.WireRecord `json:"record,omitempty"`
    Error  string            `json:"error,omitempty"`
}

// DataFunc serves data requests; the node routes them to the leading shard.
type DataFunc func(ctx context.Context, req DataRequest) (DataResponse, error)

// DeliverFunc hands a relayed actor envelope to the local system.
type DeliverFunc func(ctx context.Context, env actor.WireEnvelope) error

// Handlers is the set of callbacks a server exposes. Nil handlers are
// answered as unsupported.
type Handlers struct {
    Status  StatusFunc
    Join    JoinFunc
    Leave   LeaveFunc
    Data    DataFunc
    Deliver DeliverFunc
}

// RPCServer exposes management endpoints (status, join, leave, data) and,
// where supported, actor relay delivery.
type RPCServer interface {
    Start(ctx context.Context, h Handlers) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient performs management calls to other nodes using the chosen
// protocol (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    PostJoin(ctx context.Context, addr string, req JoinRequest) (JoinResponse, error)
    PostLeave(ctx context.Context, addr string, req LeaveRequest) (LeaveResponse, error)
    Data(ctx context.Context, addr string, req DataRequest) (DataResponse, error)
}
