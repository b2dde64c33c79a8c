package static

import (
    "strings"

    "github.com/amirimatin/go-shardstore/pkg/discovery"
)

type seeds []string

func (s seeds) Seeds() []string { return append([]string(nil), s...) }

// New returns a Discovery that always returns the given seeds, blanks removed.
func New(list ...string) discovery.Discovery {
    out := make(seeds, 0, len(list))
    for _, v := range list {
        if v = strings.TrimSpace(v); v != "" {
            out = append(out, v)
        }
    }
    return out
}

// Parse converts a comma-separated list into seeds.
func Parse(csv string) []string {
    if csv == "" { return nil }
    return []string(New(strings.Split(csv, ",")...).(seeds))
}
