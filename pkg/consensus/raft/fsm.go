package raftcons

import (
    "fmt"
    "io"

    "github.com/fxamacker/cbor/v2"
    "github.com/hashicorp/raft"

    c "github.com/amirimatin/go-shardstore/pkg/consensus"
)

// stateFSM feeds raft log entries, CBOR encoded commands, to a StateMachine.
type stateFSM struct {
    sm c.StateMachine
}

var _ raft.FSM = (*stateFSM)(nil)

func (f *stateFSM) Apply(l *raft.Log) interface{} {
    var cmd c.Command
    if err := cbor.Unmarshal(l.Data, &cmd); err != nil { return fmt.Errorf("raftcons: decode log %d: %w", l.Index, err) }
    return f.sm.Apply(cmd)
}

func (f *stateFSM) Snapshot() (raft.FSMSnapshot, error) {
    blob, err := f.sm.Snapshot()
    if err != nil { return nil, err }
    return &snapshot{blob: blob}, nil
}

func (f *stateFSM) Restore(rc io.ReadCloser) error {
    defer rc.Close()
    data, err := io.ReadAll(rc)
    if err != nil { return err }
    return f.sm.Restore(data)
}

type snapshot struct {
    blob []byte
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
    if _, err := sink.Write(s.blob); err != nil {
        _ = sink.Cancel()
        return err
    }
    return sink.Close()
}

func (s *snapshot) Release() {}
