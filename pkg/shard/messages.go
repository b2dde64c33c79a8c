package shard

import (
    "encoding/json"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/codec"
    "github.com/amirimatin/go-shardstore/pkg/listener"
    "github.com/amirimatin/go-shardstore/pkg/schema"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

type Op string

const (
    OpWrite  Op = "write"
    OpMerge  Op = "merge"
    OpDelete Op = "delete"
)

// Commit asks the leading shard to replicate a change. Data is nil for
// OpDelete. The reply is CommitReply or an actor.Failure wrapping a
// *datastore.CommitFailedError.
type Commit struct {
    Op   Op
    Path yang.InstanceIdentifier
    Data tree.Node
}

type CommitReply struct{}

type GetStatus struct{}

// Status is the reply to GetStatus.
type Status struct {
    Name      string `json:"name"`
    Leader    bool   `json:"leader"`
    Endpoints int    `json:"endpoints"`
    Delayed   int    `json:"delayed"`
}

// LeadershipChanged tells the shard actor whether its replica now leads.
// It is sent locally by whoever watches consensus.
type LeadershipChanged struct {
    Leader bool
}

// RegisterMessages makes shard and listener messages relayable; trees are
// carried as records encoded against finder.
func RegisterMessages(reg *actor.Registry, finder schema.ModuleFinder) {
    listener.RegisterMessages(reg, finder)
    reg.RegisterCodec("shard.Commit", Commit{}, commitCodec{finder: finder})
    reg.Register("shard.CommitReply", CommitReply{})
    reg.Register("shard.GetStatus", GetStatus{})
    reg.Register("shard.Status", Status{})
}

type commitWire struct {
    Op     Op                `json:"op"`
    Path   string            `json:"path"`
    Record *codec.WireRecord `json:"record,omitempty"`
}

type commitCodec struct {
    finder schema.ModuleFinder
}

func (c commitCodec) Marshal(msg any) (json.RawMessage, error) {
    m := msg.(Commit)
    w := commitWire{Op: m.Op, Path: m.Path.String()}
    if m.Data != nil {
        rec, err := codec.EncodeAt(c.finder, m.Path, m.Data)
        if err != nil { return nil, err }
        w.Record = rec
    }
    return json.Marshal(w)
}

func (c commitCodec) Unmarshal(payload json.RawMessage) (any, error) {
    var w commitWire
    if err := json.Unmarshal(payload, &w); err != nil { return nil, err }
    p, err := yang.ParsePath("", w.Path)
    if err != nil { return nil, err }
    m := Commit{Op: w.Op, Path: p}
    if w.Record != nil {
        if m.Data, err = codec.DecodeAt(c.finder, p, w.Record); err != nil { return nil, err }
    }
    return m, nil
}
