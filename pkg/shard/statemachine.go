package shard

import (
    "errors"
    "fmt"
    "sync"

    "github.com/fxamacker/cbor/v2"

    "github.com/amirimatin/go-shardstore/pkg/codec"
    "github.com/amirimatin/go-shardstore/pkg/consensus"
    "github.com/amirimatin/go-shardstore/pkg/datastore/inmem"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var (
    ErrUnknownShard = errors.New("shard: unknown shard")
    ErrUnknownOp    = errors.New("shard: unknown op")
)

// mutation is the CBOR payload of a replicated command.
type mutation struct {
    Shard  string            `cbor:"shard"`
    Path   string            `cbor:"path"`
    Record *codec.WireRecord `cbor:"record,omitempty"`
}

// EncodeCommand builds the replicated form of a change to shard name.
func EncodeCommand(st *inmem.Store, name string, op Op, path yang.InstanceIdentifier, data tree.Node) (consensus.Command, error) {
    m := mutation{Shard: name, Path: path.String()}
    switch op {
    case OpWrite, OpMerge:
        rec, err := codec.EncodeAt(st.Schema(), path, data)
        if err != nil { return consensus.Command{}, err }
        m.Record = rec
    case OpDelete:
    default:
        return consensus.Command{}, fmt.Errorf("%w: %q", ErrUnknownOp, op)
    }
    b, err := cbor.Marshal(m)
    if err != nil { return consensus.Command{}, err }
    return consensus.Command{Op: string(op), Payload: b}, nil
}

// StateMachine applies replicated commands to the stores of the shards
// hosted by one node, every replica alike.
type StateMachine struct {
    mu     sync.RWMutex
    stores map[string]*inmem.Store
}

var _ consensus.StateMachine = (*StateMachine)(nil)

func NewStateMachine() *StateMachine { return &StateMachine{stores: map[string]*inmem.Store{}} }

// Add hosts st under name. Commands for unknown shards fail.
func (m *StateMachine) Add(name string, st *inmem.Store) {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.stores[name] = st
}

func (m *StateMachine) Store(name string) (*inmem.Store, bool) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    st, ok := m.stores[name]
    return st, ok
}

func (m *StateMachine) Apply(cmd consensus.Command) error {
    var mut mutation
    if err := cbor.Unmarshal(cmd.Payload, &mut); err != nil { return fmt.Errorf("shard: decode command: %w", err) }
    st, ok := m.Store(mut.Shard)
    if !ok { return fmt.Errorf("%w: %q", ErrUnknownShard, mut.Shard) }
    path, err := yang.ParsePath("", mut.Path)
    if err != nil { return err }
    switch Op(cmd.Op) {
    case OpWrite, OpMerge:
        if mut.Record == nil { return fmt.Errorf("shard: %s of %s without data", cmd.Op, path) }
        n, err := codec.DecodeAt(st.Schema(), path, mut.Record)
        if err != nil { return err }
        if Op(cmd.Op) == OpWrite { return st.Write(path, n) }
        return st.Merge(path, n)
    case OpDelete:
        return st.Delete(path)
    }
    return fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
}

// Snapshot encodes every hosted store.
func (m *StateMachine) Snapshot() ([]byte, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    all := make(map[string][]codec.WireRecord, len(m.stores))
    for name, st := range m.stores {
        recs, err := st.Snapshot()
        if err != nil { return nil, fmt.Errorf("shard %s: %w", name, err) }
        all[name] = recs
    }
    return cbor.Marshal(all)
}

// Restore replaces the content of every hosted store; stores missing from
// the snapshot end up empty.
func (m *StateMachine) Restore(data []byte) error {
    var all map[string][]codec.WireRecord
    if err := cbor.Unmarshal(data, &all); err != nil { return fmt.Errorf("shard: decode snapshot: %w", err) }
    m.mu.RLock()
    defer m.mu.RUnlock()
    for name, st := range m.stores {
        if err := st.Restore(all[name]); err != nil { return fmt.Errorf("shard %s: %w", name, err) }
    }
    return nil
}
