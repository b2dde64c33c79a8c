// Package dns resolves gossip seeds from SRV records or host names.
package dns

import (
    "context"
    "log"
    "net"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-shardstore/pkg/discovery"
    "github.com/amirimatin/go-shardstore/pkg/internal/logutil"
)

// Options configures DNS-based discovery.
type Options struct {
    // Names are SRV names ("_gossip._tcp.store.example"), host names or
    // literal host:port seeds.
    Names []string
    // Port is used for host names; A/AAAA answers carry no port.
    Port int
    // Refresh is how long a resolution is reused. Default 5s.
    Refresh time.Duration
    // Timeout bounds one resolution round. Default 2s.
    Timeout  time.Duration
    Resolver *net.Resolver
    Logger   *log.Logger
}

type resolver struct {
    opts  Options
    mu    sync.Mutex
    last  time.Time
    cache []string
}

// New returns a Discovery resolving opts.Names on demand and caching the
// result for opts.Refresh. A failed round keeps the previous seeds.
func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 {
        opts.Refresh = 5 * time.Second
    }
    if opts.Timeout <= 0 {
        opts.Timeout = 2 * time.Second
    }
    if opts.Port == 0 {
        opts.Port = 7946
    }
    if opts.Resolver == nil {
        opts.Resolver = net.DefaultResolver
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &resolver{opts: opts}
}

func (d *resolver) Seeds() []string {
    d.mu.Lock()
    defer d.mu.Unlock()
    if len(d.cache) > 0 && time.Since(d.last) < d.opts.Refresh { return append([]string(nil), d.cache...) }
    ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
    defer cancel()
    if res := d.resolveAll(ctx); len(res) > 0 || len(d.cache) == 0 {
        d.cache, d.last = res, time.Now()
    }
    return append([]string(nil), d.cache...)
}

func (d *resolver) resolveAll(ctx context.Context) []string {
    set := map[string]struct{}{}
    for _, name := range d.opts.Names {
        name = strings.TrimSpace(name)
        switch {
        case name == "":
        case !strings.HasPrefix(name, "_") && strings.Contains(name, ":"):
            set[name] = struct{}{}
        case isSRV(name):
            for _, hp := range d.lookupSRV(ctx, name) { set[hp] = struct{}{} }
        default:
            for _, hp := range d.lookupHost(ctx, name) { set[hp] = struct{}{} }
        }
    }
    return discovery.Sorted(set)
}

func (d *resolver) lookupSRV(ctx context.Context, fqdn string) []string {
    svc, proto, domain := parseSRVName(fqdn)
    _, addrs, err := d.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
    if err != nil {
        logutil.Warnf(d.opts.Logger, "discovery: srv %s: %v", fqdn, err)
        return nil
    }
    out := make([]string, 0, len(addrs))
    for _, a := range addrs {
        out = append(out, net.JoinHostPort(strings.TrimSuffix(a.Target, "."), strconv.Itoa(int(a.Port))))
    }
    return out
}

func (d *resolver) lookupHost(ctx context.Context, host string) []string {
    ips, err := d.opts.Resolver.LookupHost(ctx, host)
    if err != nil {
        logutil.Warnf(d.opts.Logger, "discovery: host %s: %v", host, err)
        return nil
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips { out = append(out, net.JoinHostPort(ip, strconv.Itoa(d.opts.Port))) }
    return out
}

func isSRV(name string) bool {
    svc, proto, domain := parseSRVName(name)
    return svc != "" && proto != "" && domain != ""
}

// parseSRVName splits "_service._proto.domain".
func parseSRVName(fqdn string) (service, proto, domain string) {
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 || !strings.HasPrefix(parts[0], "_") || !strings.HasPrefix(parts[1], "_") { return "", "", "" }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
