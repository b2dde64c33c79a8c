package local

import (
    "errors"
    "testing"

    c "github.com/amirimatin/go-shardstore/pkg/consensus"
)

type counter struct{ n int }

func (s *counter) Apply(c.Command) error     { s.n++; return nil }
func (s *counter) Snapshot() ([]byte, error) { return nil, nil }
func (s *counter) Restore([]byte) error      { return nil }

func TestEngine_LeadershipGatesApply(t *testing.T) {
    sm := &counter{}
    e := New("n1", sm)
    if err := e.Apply(c.Command{Op: "write"}, 0); !errors.Is(err, c.ErrNotLeader) {
        t.Fatalf("follower apply: %v", err)
    }
    e.SetLeader(true)
    e.SetLeader(true)
    if err := e.Apply(c.Command{Op: "write"}, 0); err != nil || sm.n != 1 {
        t.Fatalf("leader apply: %v n=%d", err, sm.n)
    }
    e.SetLeader(false)

    var got []c.LeaderInfo
    for len(e.LeaderCh()) > 0 { got = append(got, <-e.LeaderCh()) }
    if len(got) != 2 || !got[0].Self || got[0].ID != "n1" || got[1].Self || got[1].ID != "" {
        t.Fatalf("observations: %+v", got)
    }
    if e.Term() != 1 { t.Fatalf("term = %d", e.Term()) }
}
