package static

import (
    "testing"

    "github.com/google/go-cmp/cmp"

    "github.com/amirimatin/go-shardstore/pkg/discovery"
)

func TestParse(t *testing.T) {
    cases := []struct {
        in   string
        want []string
    }{
        {"", nil},
        {"a:1", []string{"a:1"}},
        {" a:1 , b:2 ", []string{"a:1", "b:2"}},
        {",,a:1, ,b:2,", []string{"a:1", "b:2"}},
    }
    for _, c := range cases {
        if diff := cmp.Diff(c.want, Parse(c.in)); diff != "" {
            t.Fatalf("%q (-want +got):\n%s", c.in, diff)
        }
    }
}

func TestNew_ReturnsCopies(t *testing.T) {
    d := New(" a:1 ", "", "b:2")
    got := d.Seeds()
    if diff := cmp.Diff([]string{"a:1", "b:2"}, got); diff != "" { t.Fatalf("(-want +got):\n%s", diff) }
    got[0] = "x"
    if d.Seeds()[0] != "a:1" { t.Fatalf("seeds shared with caller") }
}

func TestMerge(t *testing.T) {
    d := discovery.Merge(New("b:2", "a:1"), nil, New("a:1", "c:3"))
    if diff := cmp.Diff([]string{"a:1", "b:2", "c:3"}, d.Seeds()); diff != "" {
        t.Fatalf("(-want +got):\n%s", diff)
    }
}
