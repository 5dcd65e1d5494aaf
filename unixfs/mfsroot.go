// MFS (the mutable filesystem overlay) is grounded on
// _examples/gloudx-ues/repository/head_storage.go's HeadStorage pattern:
// a single mutable "current state" CID guarded by a mutex, persisted
// through a storage interface and fanned out to watchers on every swap.
// See repository/head_storage.go's headStorage.SetHead/GetHead for the
// same shape applied to an entire repository rather than one directory
// subtree.
package unixfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"

	corestore "corenode/blockstore"
	"corenode/corerr"
)

// RootStorage is MFS's persistence boundary, adapted from
// repository/head_storage.go's HeadStorage: LoadHead/SaveHead/WatchHead
// renamed to the single-CID shape an MFS root actually is.
// RepositoryState{Head,Prev,RootIndex,Version,RepoID} had three CIDs
// because an atproto commit tracks head/prev/index; an MFS root per
// spec.md §4.11 is one CID owned by one writer, so LoadRoot/SaveRoot
// traffic in a bare cid.Cid instead of carrying the extra fields as
// dead struct members.
type RootStorage interface {
	// LoadRoot returns the last root CID saved for name, or cid.Undef if
	// nothing has been saved yet.
	LoadRoot(ctx context.Context, name string) (cid.Cid, error)

	// SaveRoot persists root as name's current root and wakes every
	// watcher registered on name.
	SaveRoot(ctx context.Context, name string, root cid.Cid) error

	// WatchRoot streams every root saved for name from this call
	// onward. The channel closes once ctx is done.
	WatchRoot(ctx context.Context, name string) (<-chan cid.Cid, error)

	Close() error
}

// watcherSet is the notify/register/remove machinery shared by both
// RootStorage implementations below, kept almost verbatim from
// datastoreHeadStorage/fileHeadStorage's near-identical copies of the
// same three methods.
type watcherSet struct {
	mu       sync.RWMutex
	watchers map[string][]chan cid.Cid
}

func newWatcherSet() watcherSet {
	return watcherSet{watchers: make(map[string][]chan cid.Cid)}
}

func (w *watcherSet) register(ctx context.Context, name string) <-chan cid.Cid {
	ch := make(chan cid.Cid, 10)

	w.mu.Lock()
	w.watchers[name] = append(w.watchers[name], ch)
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.remove(name, ch)
		close(ch)
	}()

	return ch
}

func (w *watcherSet) notify(name string, root cid.Cid) {
	w.mu.RLock()
	watchers := w.watchers[name]
	w.mu.RUnlock()

	for _, ch := range watchers {
		select {
		case ch <- root:
		default:
			// a slow watcher drops the notification rather than
			// blocking the writer
		}
	}
}

func (w *watcherSet) remove(name string, target chan cid.Cid) {
	w.mu.Lock()
	defer w.mu.Unlock()

	watchers := w.watchers[name]
	for i, ch := range watchers {
		if ch == target {
			w.watchers[name] = append(watchers[:i], watchers[i+1:]...)
			break
		}
	}
}

func (w *watcherSet) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, watchers := range w.watchers {
		for _, ch := range watchers {
			close(ch)
		}
	}
	w.watchers = make(map[string][]chan cid.Cid)
}

func rootKey(name string) ds.Key {
	return ds.NewKey("mfs").ChildString(name).ChildString("root")
}

// datastoreRootStorage is RootStorage over a go-datastore, mirroring
// datastoreHeadStorage: the node's own badger4 store in production, an
// in-memory dssync.MutexWrap(ds.NewMapDatastore()) for NewRoot's
// no-persistence convenience constructor and for tests.
type datastoreRootStorage struct {
	ds ds.Datastore
	watcherSet
}

// NewDatastoreRootStorage opens RootStorage over an already-open
// datastore (e.g. the same badger4 store the blockstore/pin packages
// use).
func NewDatastoreRootStorage(store ds.Datastore) RootStorage {
	return &datastoreRootStorage{ds: store, watcherSet: newWatcherSet()}
}

func (s *datastoreRootStorage) LoadRoot(ctx context.Context, name string) (cid.Cid, error) {
	data, err := s.ds.Get(ctx, rootKey(name))
	if err != nil {
		if err == ds.ErrNotFound {
			return cid.Undef, nil
		}
		return cid.Undef, err
	}
	_, c, err := cid.CidFromBytes(data)
	if err != nil {
		return cid.Undef, err
	}
	return c, nil
}

func (s *datastoreRootStorage) SaveRoot(ctx context.Context, name string, root cid.Cid) error {
	if err := s.ds.Put(ctx, rootKey(name), root.Bytes()); err != nil {
		return err
	}
	s.notify(name, root)
	return nil
}

func (s *datastoreRootStorage) WatchRoot(ctx context.Context, name string) (<-chan cid.Cid, error) {
	return s.register(ctx, name), nil
}

func (s *datastoreRootStorage) Close() error {
	s.closeAll()
	return nil
}

// fileRootStorage is RootStorage over the plain filesystem, mirroring
// fileHeadStorage's atomic-rename write for callers that would rather
// not stand up a datastore just to persist one CID per MFS mount.
type fileRootStorage struct {
	baseDir string
	watcherSet
}

// NewFileRootStorage opens RootStorage rooted at baseDir, creating it
// if absent.
func NewFileRootStorage(baseDir string) (RootStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("mfs root storage: %w", err)
	}
	return &fileRootStorage{baseDir: baseDir, watcherSet: newWatcherSet()}, nil
}

type fileRootRecord struct {
	Root string `json:"root"`
}

func (s *fileRootStorage) path(name string) string {
	return filepath.Join(s.baseDir, name+".json")
}

func (s *fileRootStorage) LoadRoot(ctx context.Context, name string) (cid.Cid, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return cid.Undef, nil
		}
		return cid.Undef, err
	}
	var rec fileRootRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return cid.Undef, err
	}
	if rec.Root == "" {
		return cid.Undef, nil
	}
	return cid.Decode(rec.Root)
}

func (s *fileRootStorage) SaveRoot(ctx context.Context, name string, root cid.Cid) error {
	data, err := json.Marshal(fileRootRecord{Root: root.String()})
	if err != nil {
		return err
	}

	target := s.path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}

	s.notify(name, root)
	return nil
}

func (s *fileRootStorage) WatchRoot(ctx context.Context, name string) (<-chan cid.Cid, error) {
	return s.register(ctx, name), nil
}

func (s *fileRootStorage) Close() error {
	s.closeAll()
	return nil
}

// Root is the MFS mutable overlay from spec.md §4.11: a single writer
// holding the current directory-tree root CID. Mutations walk the
// path, rebuild each ancestor directory with copy-on-write, persist
// the new root through storage, and atomically swap r.cur only once
// that persist succeeds. Per spec, concurrent mutations on one Root
// serialize on its mutex; there is no cross-instance coordination
// beyond what storage's watchers surface.
type Root struct {
	bstore  corestore.Blockstore
	storage RootStorage
	name    string

	mu  sync.Mutex
	cur cid.Cid
}

// NewRoot opens an MFS overlay rooted at root (which must already be a
// DIRECTORY node CID — use EmptyDirectory to create a fresh one). It
// persists through an ephemeral in-memory RootStorage, so Watch still
// works but nothing survives process restart; use NewRootWithStorage
// for a root backed by the node's datastore or filesystem.
func NewRoot(bstore corestore.Blockstore, root cid.Cid) *Root {
	storage := NewDatastoreRootStorage(dssync.MutexWrap(ds.NewMapDatastore()))
	return &Root{bstore: bstore, storage: storage, name: "default", cur: root}
}

// NewRootWithStorage opens an MFS overlay identified by name, loading
// its last-saved root from storage (falling back to empty if none has
// been saved yet) so the mount survives process restarts and can be
// watched externally via storage.WatchRoot.
func NewRootWithStorage(ctx context.Context, bstore corestore.Blockstore, storage RootStorage, name string, empty cid.Cid) (*Root, error) {
	loaded, err := storage.LoadRoot(ctx, name)
	if err != nil {
		return nil, err
	}
	if !loaded.Defined() {
		loaded = empty
		if err := storage.SaveRoot(ctx, name, loaded); err != nil {
			return nil, err
		}
	}
	return &Root{bstore: bstore, storage: storage, name: name, cur: loaded}, nil
}

// Cid returns the current root CID.
func (r *Root) Cid() cid.Cid {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

// Watch streams every root this overlay swaps to, including ones swapped
// in on another Root instance constructed over the same storage and
// name (e.g. across a replica or a restart). The channel closes when
// ctx is done.
func (r *Root) Watch(ctx context.Context) (<-chan cid.Cid, error) {
	return r.storage.WatchRoot(ctx, r.name)
}

// Mkdir creates an empty directory at path, erroring ALREADY_EXISTS if
// the final path segment is already taken.
func (r *Root) Mkdir(ctx context.Context, path string) error {
	return r.mutate(ctx, path, func(ctx context.Context, parent cid.Cid, name string) (cid.Cid, error) {
		return Mkdir(ctx, r.bstore, parent, name)
	})
}

// Cp adds or replaces the entry at path with srcCid.
func (r *Root) Cp(ctx context.Context, path string, srcCid cid.Cid) error {
	return r.mutate(ctx, path, func(ctx context.Context, parent cid.Cid, name string) (cid.Cid, error) {
		return Cp(ctx, r.bstore, parent, srcCid, name)
	})
}

// Rm removes the entry at path, erroring DOES_NOT_EXIST if absent.
func (r *Root) Rm(ctx context.Context, path string) error {
	return r.mutate(ctx, path, func(ctx context.Context, parent cid.Cid, name string) (cid.Cid, error) {
		return Rm(ctx, r.bstore, parent, name)
	})
}

// Ls lists the directory at path.
func (r *Root) Ls(ctx context.Context, path string) (<-chan Entry, <-chan error) {
	dirCid, err := r.resolveDir(ctx, path)
	if err != nil {
		errc := make(chan error, 1)
		errc <- err
		close(errc)
		out := make(chan Entry)
		close(out)
		return out, errc
	}
	return Ls(ctx, r.bstore, dirCid)
}

// mutate implements the copy-on-write ancestry rebuild: it resolves
// every ancestor directory down to path's parent, applies op to
// (parent, finalName), rebuilds each ancestor in reverse with the new
// child CID, persists the result through storage, and only then swaps
// r.cur — a failed persist leaves the in-memory root untouched rather
// than diverging from what storage (and any watcher) last saw.
func (r *Root) mutate(ctx context.Context, path string, op func(ctx context.Context, parent cid.Cid, name string) (cid.Cid, error)) error {
	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	segs := SplitPath(norm)
	if len(segs) == 0 {
		return corerr.New(corerr.InvalidPath, path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ancestors := []cid.Cid{r.cur}
	names := []string{}
	cur := r.cur
	for _, seg := range segs[:len(segs)-1] {
		pn, err := loadDirectory(ctx, r.bstore, cur)
		if err != nil {
			return err
		}
		l, ok := findLink(pn, seg)
		if !ok {
			return corerr.New(corerr.DoesNotExist, seg)
		}
		names = append(names, seg)
		cur = l.Cid
		ancestors = append(ancestors, cur)
	}

	finalName := segs[len(segs)-1]
	newChild, err := op(ctx, cur, finalName)
	if err != nil {
		return err
	}

	for i := len(names) - 1; i >= 0; i-- {
		newChild, err = Cp(ctx, r.bstore, ancestors[i], newChild, names[i])
		if err != nil {
			return err
		}
	}

	if err := r.storage.SaveRoot(ctx, r.name, newChild); err != nil {
		return err
	}
	r.cur = newChild
	return nil
}

func (r *Root) resolveDir(ctx context.Context, path string) (cid.Cid, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return cid.Undef, err
	}
	segs := SplitPath(norm)

	r.mu.Lock()
	cur := r.cur
	r.mu.Unlock()

	for _, seg := range segs {
		pn, err := loadDirectory(ctx, r.bstore, cur)
		if err != nil {
			return cid.Undef, err
		}
		l, ok := findLink(pn, seg)
		if !ok {
			return cid.Undef, corerr.New(corerr.DoesNotExist, seg)
		}
		cur = l.Cid
	}
	return cur, nil
}
