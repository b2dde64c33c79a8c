// Package discovery provides the gossip seeds a node joins through.
package discovery

import "sort"

// Discovery abstracts how seed nodes are provided.
type Discovery interface {
    Seeds() []string
}

type merged []Discovery

// Merge returns a Discovery yielding the sorted union of the seeds of ds.
func Merge(ds ...Discovery) Discovery { return merged(ds) }

func (m merged) Seeds() []string {
    set := map[string]struct{}{}
    for _, d := range m {
        if d == nil { continue }
        for _, s := range d.Seeds() { set[s] = struct{}{} }
    }
    return Sorted(set)
}

// Sorted returns the keys of set in order.
func Sorted(set map[string]struct{}) []string {
    out := make([]string, 0, len(set))
    for s := range set { out = append(out, s) }
    sort.Strings(out)
    return out
}
