// Command gossipdemo runs a bare membership node and prints what it learns
// about its peers, including the listener addresses shard store nodes
// gossip. Useful to check seeds and advertise addresses before running
// shardctl.
package main

import (
    "context"
    "flag"
    "fmt"
    "log"
    "os/signal"
    "sort"
    "syscall"
    "time"

    "github.com/amirimatin/go-shardstore/pkg/discovery/static"
    base "github.com/amirimatin/go-shardstore/pkg/membership"
    ml "github.com/amirimatin/go-shardstore/pkg/membership/memberlist"
)

func main() {
    var (
        id        = flag.String("id", "node-1", "node id")
        bind      = flag.String("bind", ":7946", "bind host:port")
        advertise = flag.String("advertise", "", "advertise host:port (optional)")
        joinCSV   = flag.String("join", "", "comma-separated seeds (host:port)")
        relay     = flag.String("relay", "", "relay address to gossip (optional)")
        every     = flag.Duration("every", 10*time.Second, "print the member table this often")
    )
    flag.Parse()

    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()

    meta := map[string]string{}
    if *relay != "" {
        meta[base.MetaRelay] = *relay
    }
    m, err := ml.New(ml.Options{NodeID: *id, Bind: *bind, Advertise: *advertise, Logger: log.Default(), Meta: meta})
    if err != nil {
        log.Fatal(err)
    }
    if err := m.Start(ctx); err != nil {
        log.Fatal(err)
    }

    if seeds := static.New(static.Parse(*joinCSV)...).Seeds(); len(seeds) > 0 {
        if err := m.Join(seeds); err != nil {
            log.Printf("join error: %v", err)
        }
    }

    fmt.Println("gossipdemo started. Press Ctrl+C to exit.")
    go func(evch <-chan base.Event) {
        for e := range evch {
            fmt.Printf("event: %-6s id=%s addr=%s relay=%s at=%s\n", e.Type, e.Member.ID, e.Member.Addr, e.Member.Meta[base.MetaRelay], e.At.Format(time.RFC3339))
        }
    }(m.Events())

    t := time.NewTicker(*every)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            _ = m.Leave()
            _ = m.Stop()
            return
        case <-t.C:
            printMembers(m)
        }
    }
}

func printMembers(m *ml.Membership) {
    ms := m.Members()
    sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
    fmt.Printf("members (health score %d):\n", m.HealthScore())
    for _, mi := range ms {
        fmt.Printf("  %-12s %-21s relay=%s mgmt=%s raft=%s\n", mi.ID, mi.Addr, mi.Meta[base.MetaRelay], mi.Meta[base.MetaMgmt], mi.Meta[base.MetaRaft])
    }
}
