// Package inmem is a schema-validated, copy-on-write tree store with scoped
// change notification.
//
// Data written to the store is normalized through the wire codec first, so
// stored values are always canonical and compare equal to decoded replicas.
// Listeners are invoked after the store lock is released, in registration
// order, and must not write to the store from within the callback.
package inmem

import (
    "errors"
    "fmt"
    "log"
    "sync"
    "sync/atomic"

    "github.com/amirimatin/go-shardstore/pkg/codec"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/internal/logutil"
    "github.com/amirimatin/go-shardstore/pkg/observability/metrics"
    "github.com/amirimatin/go-shardstore/pkg/schema"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var (
    ErrInvalidPath = errors.New("inmem: invalid path")
    ErrNoSchema    = errors.New("inmem: schema required")
)

type Options struct {
    Schema schema.ModuleFinder
    Logger *log.Logger
}

type Store struct {
    schema schema.ModuleFinder
    logger *log.Logger

    mu   sync.RWMutex
    root *tree.Container
    regs []*registration

    // notify serializes deliveries so listeners observe writes in order.
    notify sync.Mutex
}

var _ datastore.Store = (*Store)(nil)

func New(opts Options) (*Store, error) {
    if opts.Schema == nil { return nil, ErrNoSchema }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &Store{schema: opts.Schema, logger: opts.Logger, root: tree.NewContainer(yang.QName{})}, nil
}

// Schema returns the model the store validates against.
func (s *Store) Schema() schema.ModuleFinder { return s.schema }

// Read returns the node at path. The root path returns the root container,
// whose children are the top-level containers.
func (s *Store) Read(path yang.InstanceIdentifier) (tree.Node, bool, error) {
    if !path.IsRoot() {
        if _, err := s.resolve(path); err != nil { return nil, false, err }
    }
    s.mu.RLock()
    defer s.mu.RUnlock()
    n, ok := tree.Find(s.root, path)
    return n, ok, nil
}

// Write replaces whatever is stored at path with data.
func (s *Store) Write(path yang.InstanceIdentifier, data tree.Node) error {
    steps, data, err := s.prepare(path, data)
    if err != nil { return err }
    return s.apply(func(root tree.Node) (tree.Node, error) { return setAt(root, steps, data) })
}

// Merge overlays data onto what is stored at path: leaves are replaced,
// other nodes are merged child by child.
func (s *Store) Merge(path yang.InstanceIdentifier, data tree.Node) error {
    _, data, err := s.prepare(path, data)
    if err != nil { return err }
    return s.apply(func(root tree.Node) (tree.Node, error) { return s.mergeAt(root, path, data) })
}

// Delete removes the node at path. Deleting a missing node is a no-op.
func (s *Store) Delete(path yang.InstanceIdentifier) error {
    if path.IsRoot() { return fmt.Errorf("%w: cannot delete the root", ErrInvalidPath) }
    steps, err := s.resolve(path)
    if err != nil { return err }
    return s.apply(func(root tree.Node) (tree.Node, error) { return setAt(root, steps, nil) })
}

// Snapshot encodes every top-level container.
func (s *Store) Snapshot() ([]codec.WireRecord, error) {
    s.mu.RLock()
    root := s.root
    s.mu.RUnlock()
    out := make([]codec.WireRecord, 0, len(root.Children))
    for _, c := range root.Children {
        rec, err := codec.Encode(s.schema, c)
        if err != nil { return nil, fmt.Errorf("snapshot %s: %w", c.QName().Local, err) }
        out = append(out, *rec)
    }
    return out, nil
}

// Restore replaces the whole content with the decoded records. Listeners
// see the difference as one change.
func (s *Store) Restore(recs []codec.WireRecord) error {
    children := make([]tree.Node, 0, len(recs))
    for i := range recs {
        n, err := codec.Decode(s.schema, &recs[i])
        if err != nil { return fmt.Errorf("restore %s: %w", recs[i].NodeIdentifier, err) }
        children = append(children, n)
    }
    return s.apply(func(tree.Node) (tree.Node, error) { return tree.NewContainer(yang.QName{}, children...), nil })
}

// RegisterChangeListener attaches l to changes at or below path.
func (s *Store) RegisterChangeListener(path yang.InstanceIdentifier, l datastore.Listener, scope datastore.Scope) (datastore.Registration, error) {
    if l == nil { return nil, errors.New("inmem: nil listener") }
    if !path.IsRoot() {
        if _, err := s.resolve(path); err != nil { return nil, err }
    }
    r := &registration{store: s, path: path, scope: scope, listener: l}
    s.mu.Lock()
    s.regs = append(s.regs, r)
    s.mu.Unlock()
    logutil.Debugf(s.logger, "inmem: listener registered at %s scope=%s", path, scope)
    return r, nil
}

func (s *Store) resolve(path yang.InstanceIdentifier) ([]schema.PathStep, error) {
    if path.IsRoot() { return nil, fmt.Errorf("%w: root", ErrInvalidPath) }
    steps, err := schema.ResolvePath(s.schema, path)
    if err != nil { return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err) }
    return steps, nil
}

// prepare validates path and returns data in canonical form.
func (s *Store) prepare(path yang.InstanceIdentifier, data tree.Node) ([]schema.PathStep, tree.Node, error) {
    steps, err := s.resolve(path)
    if err != nil { return nil, nil, err }
    rec, err := codec.EncodeAt(s.schema, path, data)
    if err != nil { return nil, nil, err }
    n, err := codec.DecodeAt(s.schema, path, rec)
    if err != nil { return nil, nil, err }
    return steps, n, nil
}

func (s *Store) apply(fn func(tree.Node) (tree.Node, error)) error {
    s.mu.Lock()
    old := s.root
    next, err := fn(old)
    if err != nil {
        s.mu.Unlock()
        return err
    }
    root, ok := next.(*tree.Container)
    if !ok {
        s.mu.Unlock()
        return fmt.Errorf("%w: root replaced by %T", ErrInvalidPath, next)
    }
    s.root = root
    pending := s.changes(old, root)
    s.notify.Lock()
    s.mu.Unlock()
    defer s.notify.Unlock()
    for _, p := range pending {
        if p.reg.closed.Load() { continue }
        p.reg.listener.OnDataChanged(p.event)
        metrics.ChangeEvents.Inc()
    }
    return nil
}

type delivery struct {
    reg   *registration
    event datastore.ChangeEvent
}

func (s *Store) changes(old, next tree.Node) []delivery {
    var out []delivery
    for _, r := range s.regs {
        before, _ := tree.Find(old, r.path)
        after, _ := tree.Find(next, r.path)
        if before == after || tree.Equal(before, after) { continue }
        ev := datastore.ChangeEvent{Path: r.path, OriginalSubtree: before, UpdatedSubtree: after}
        diff(&ev, r.path, before, after, r.scope.Depth())
        if ev.Empty() { continue }
        out = append(out, delivery{reg: r, event: ev})
    }
    return out
}

func (s *Store) remove(r *registration) {
    s.mu.Lock()
    defer s.mu.Unlock()
    for i, x := range s.regs {
        if x == r {
            s.regs = append(s.regs[:i:i], s.regs[i+1:]...)
            return
        }
    }
}

type registration struct {
    store    *Store
    path     yang.InstanceIdentifier
    scope    datastore.Scope
    listener datastore.Listener
    closed   atomic.Bool
}

func (r *registration) Close() error {
    if r.closed.Swap(true) { return nil }
    r.store.remove(r)
    return nil
}
