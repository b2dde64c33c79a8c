// Package file reads seeds from files: one seed per line (comma-separated
// lists allowed, # comments) or, for .yaml/.yml files, a "seeds" list.
// An environment variable, when set, takes precedence.
package file

import (
    "bufio"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-shardstore/pkg/discovery"
)

type Options struct {
    // Path is a file or a glob.
    Path string
    // Env overrides the file when non-empty.
    Env string
    // Refresh bounds cache staleness. Zero means 5s.
    Refresh time.Duration
}

type source struct {
    opts  Options
    mu    sync.Mutex
    last  time.Time
    cache []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 {
        opts.Refresh = 5 * time.Second
    }
    return &source{opts: opts}
}

func (s *source) Seeds() []string {
    if s.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(s.opts.Env)); v != "" { return normalize(strings.Split(v, ",")) }
    }
    if s.opts.Path == "" { return nil }
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.cache != nil && time.Since(s.last) < s.opts.Refresh && !s.changedSince(s.last) {
        return append([]string(nil), s.cache...)
    }
    matches, _ := filepath.Glob(s.opts.Path)
    var all []string
    for _, m := range matches { all = append(all, load(m)...) }
    s.cache, s.last = normalize(all), time.Now()
    return append([]string(nil), s.cache...)
}

func (s *source) changedSince(t time.Time) bool {
    matches, _ := filepath.Glob(s.opts.Path)
    for _, m := range matches {
        if st, err := os.Stat(m); err == nil && st.ModTime().After(t) { return true }
    }
    return false
}

func load(path string) []string {
    if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" { return loadYAML(path) }
    f, err := os.Open(path)
    if err != nil { return nil }
    defer f.Close()
    var out []string
    sc := bufio.NewScanner(f)
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        out = append(out, strings.Split(line, ",")...)
    }
    if sc.Err() != nil { return nil }
    return out
}

func loadYAML(path string) []string {
    b, err := os.ReadFile(path)
    if err != nil { return nil }
    var doc struct {
        Seeds []string `yaml:"seeds"`
    }
    if yaml.Unmarshal(b, &doc) != nil { return nil }
    return doc.Seeds
}

func normalize(in []string) []string {
    set := map[string]struct{}{}
    for _, s := range in {
        if s = strings.TrimSpace(s); s != "" {
            set[s] = struct{}{}
        }
    }
    return discovery.Sorted(set)
}
