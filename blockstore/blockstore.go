// Package blockstore implements the durable CID→bytes map (spec.md C1):
// a cached, hash-verifying wrapper around a badger4-backed go-datastore,
// plus a thin CARv2 import/export pass-through.
//
// Grounded on gloudx-ues/blockstore/blockstore.go: the LRU-cached
// Put/Get/PutMany/DeleteBlock/View shape and the CARv2 pass-through are
// kept; the generic ipld-prime LinkSystem surface (PutNode/GetNodeAny/
// Walk/GetSubgraph/Prefetch/PutStruct/GetStruct) is dropped, since no
// SPEC_FULL.md component calls for a generic-node traversal API — the
// UnixFS and IPNS packages each define their own typed codecs instead.
package blockstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	bstor "github.com/ipfs/boxo/blockstore"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	carv2 "github.com/ipld/go-car/v2"
	"github.com/ipld/go-ipld-prime/linking"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/ipld/go-ipld-prime/storage"
	"github.com/ipld/go-ipld-prime/traversal/selector"
	selb "github.com/ipld/go-ipld-prime/traversal/selector/builder"
	"github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"

	"corenode/corerr"
	corestore "corenode/datastore"
)

// DefaultCacheSize bounds the in-process LRU block cache.
const DefaultCacheSize = 1024

// Blockstore is the C1 contract: durable get/put/has/delete plus lazy
// iteration and verified writes. It embeds boxo's blockstore.Blockstore
// for the underlying datastore encoding, adding an LRU cache and
// mandatory hash verification on Put.
type Blockstore interface {
	bstor.Blockstore
	bstor.Viewer

	// Iterate returns a lazy sequence of blocks. The out channel is
	// closed when iteration completes or ctx is cancelled; errc carries
	// at most one error.
	Iterate(ctx context.Context) (<-chan blocks.Block, <-chan error)

	// ExportCARV2 streams every block reachable from roots (by walking
	// dag-pb/dag-cbor links) as a CARv2 archive.
	ExportCARV2(ctx context.Context, roots []cid.Cid, w io.Writer) error

	// ImportCARV2 reads a CAR (v1 or v2) from r, verifying and storing
	// every block it contains, and returns the archive's declared roots.
	ImportCARV2(ctx context.Context, r io.Reader) ([]cid.Cid, error)

	io.Closer
}

type blockstore struct {
	bstor.Blockstore
	ds    corestore.Datastore
	mu    sync.RWMutex
	cache *lru.Cache[string, blocks.Block]
}

var _ Blockstore = (*blockstore)(nil)

// New wraps an already-open corenode datastore (typically badger4-backed,
// see corenode/datastore) into a verified, cached Blockstore.
func New(store corestore.Datastore) Blockstore {
	bs := &blockstore{
		Blockstore: bstor.NewBlockstore(store),
		ds:         store,
	}
	cache, _ := lru.New[string, blocks.Block](DefaultCacheSize)
	bs.cache = cache
	return bs
}

func (bs *blockstore) cacheGet(key string) (blocks.Block, bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	if bs.cache == nil {
		return nil, false
	}
	return bs.cache.Get(key)
}

func (bs *blockstore) cachePut(b blocks.Block) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.cache != nil {
		bs.cache.Add(b.Cid().String(), b)
	}
}

func (bs *blockstore) cacheDrop(c cid.Cid) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.cache != nil {
		bs.cache.Remove(c.String())
	}
}

// Put stores a block, first verifying that rehashing its bytes with the
// multihash algorithm named by the CID reproduces the CID's digest. A
// mismatch is rejected (corerr.InvalidBlock) rather than silently
// ingested. Put is idempotent.
func (bs *blockstore) Put(ctx context.Context, b blocks.Block) error {
	if err := verifyBlock(b); err != nil {
		return err
	}
	if err := bs.Blockstore.Put(ctx, b); err != nil {
		return fmt.Errorf("blockstore put: %w", err)
	}
	bs.cachePut(b)
	return nil
}

func (bs *blockstore) PutMany(ctx context.Context, blks []blocks.Block) error {
	for _, b := range blks {
		if err := verifyBlock(b); err != nil {
			return err
		}
	}
	if err := bs.Blockstore.PutMany(ctx, blks); err != nil {
		return fmt.Errorf("blockstore put many: %w", err)
	}
	for _, b := range blks {
		bs.cachePut(b)
	}
	return nil
}

func (bs *blockstore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	if b, ok := bs.cacheGet(c.String()); ok {
		return b, nil
	}
	b, err := bs.Blockstore.Get(ctx, c)
	if err != nil {
		if errors.Is(err, bstor.ErrNotFound) {
			return nil, corerr.Wrap(corerr.NotFound, c.String(), err)
		}
		return nil, err
	}
	bs.cachePut(b)
	return b, nil
}

func (bs *blockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	if err := bs.Blockstore.DeleteBlock(ctx, c); err != nil {
		return err
	}
	bs.cacheDrop(c)
	return nil
}

func (bs *blockstore) View(ctx context.Context, c cid.Cid, cb func([]byte) error) error {
	if v, ok := bs.Blockstore.(bstor.Viewer); ok {
		return v.View(ctx, c, cb)
	}
	b, err := bs.Blockstore.Get(ctx, c)
	if err != nil {
		return err
	}
	return cb(b.RawData())
}

func (bs *blockstore) Iterate(ctx context.Context) (<-chan blocks.Block, <-chan error) {
	out := make(chan blocks.Block)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		keys, err := bs.Blockstore.AllKeysChan(ctx)
		if err != nil {
			errc <- err
			return
		}
		for {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			case c, ok := <-keys:
				if !ok {
					return
				}
				b, err := bs.Get(ctx, c)
				if err != nil {
					errc <- err
					return
				}
				select {
				case out <- b:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}
	}()

	return out, errc
}

// blockstoreStorage adapts our Blockstore onto ipld-prime's read/write
// storage interfaces, the same role gloudx-ues/blockstore.go's
// bsrvadapter.Adapter plays over a blockservice — here done directly
// against the blockstore since no blockservice sits in this path.
type blockstoreStorage struct {
	ctx context.Context
	bs  *blockstore
}

func (a blockstoreStorage) Get(_ context.Context, key string) ([]byte, error) {
	c, err := cid.Cast([]byte(key))
	if err != nil {
		return nil, err
	}
	b, err := a.bs.Get(a.ctx, c)
	if err != nil {
		return nil, err
	}
	return b.RawData(), nil
}

func (a blockstoreStorage) Has(ctx context.Context, key string) (bool, error) {
	c, err := cid.Cast([]byte(key))
	if err != nil {
		return false, err
	}
	return a.bs.Has(ctx, c)
}

var _ storage.ReadableStorage = blockstoreStorage{}

func (bs *blockstore) linkSystem(ctx context.Context) linking.LinkSystem {
	lsys := cidlink.DefaultLinkSystem()
	adapter := blockstoreStorage{ctx: ctx, bs: bs}
	lsys.SetReadStorage(adapter)
	return lsys
}

// ExportCARV2 walks every root's reachable subgraph and writes a CARv2
// archive of the visited blocks. Grounded directly on
// gloudx-ues/blockstore.go's ExportCARV2 (carv2.NewSelectiveWriter over a
// LinkSystem and an explore-all selector node), trimmed to a fixed
// explore-everything selector and multiple roots instead of one.
func (bs *blockstore) ExportCARV2(ctx context.Context, roots []cid.Cid, w io.Writer) error {
	lsys := bs.linkSystem(ctx)
	sb := selb.NewSelectorSpecBuilder(basicnode.Prototype.Any)
	selNode := sb.ExploreRecursive(selector.RecursionLimitNone(),
		sb.ExploreAll(sb.ExploreRecursiveEdge()),
	).Node()

	for _, root := range roots {
		writer, err := carv2.NewSelectiveWriter(ctx, &lsys, root, selNode)
		if err != nil {
			return fmt.Errorf("export car: %w", err)
		}
		if _, err := writer.WriteTo(w); err != nil {
			return fmt.Errorf("export car: write %s: %w", root, err)
		}
	}
	return nil
}

// ImportCARV2 reads a CAR (v1 or v2) from r and stores every block found
// in it, verifying each one through the same Put path as any other write.
func (bs *blockstore) ImportCARV2(ctx context.Context, r io.Reader) ([]cid.Cid, error) {
	br, err := carv2.NewBlockReader(r)
	if err != nil {
		return nil, fmt.Errorf("car import: %w", err)
	}
	roots := br.Roots
	for {
		blk, err := br.Next()
		if err == io.EOF {
			return roots, nil
		}
		if err != nil {
			return nil, fmt.Errorf("car import: %w", err)
		}
		if err := bs.Put(ctx, blk); err != nil {
			return nil, err
		}
	}
}

func (bs *blockstore) Close() error {
	return bs.ds.Close()
}

// verifyBlock recomputes the multihash over b's bytes and compares it to
// the digest declared in b's CID, returning corerr.InvalidBlock on
// mismatch. Per spec.md §4.1, an unknown hash function is accepted
// without verification (we cannot recompute it), matching the "when the
// hash function is known" qualifier.
func verifyBlock(b blocks.Block) error {
	decoded, err := multihash.Decode(b.Cid().Hash())
	if err != nil {
		return nil
	}
	if !multihash.ValidCode(decoded.Code) {
		return nil
	}
	expected, err := sumMultihash(b.RawData(), decoded.Code, decoded.Length)
	if err != nil {
		// Hash function recognized by name but not computable here
		// (e.g. identity-only codes); accept without verification.
		return nil
	}
	if !bytes.Equal(expected, b.Cid().Hash()) {
		return newInvalidBlock(b.Cid())
	}
	return nil
}

// sumMultihash computes the multihash digest for code over data. BLAKE3
// is handled separately from go-multihash's own Sum: multihash's table
// of computable hash functions doesn't include it, so (as in
// gloudx-ues/entitystore.go's StoreEntity) the digest is produced with
// lukechampine's blake3 and then wrapped with multihash.Encode.
func sumMultihash(data []byte, code uint64, length int) (multihash.Multihash, error) {
	if code == multihash.BLAKE3 {
		size := length
		if size <= 0 {
			size = 32
		}
		h := blake3.New(size, nil)
		h.Write(data)
		return multihash.Encode(h.Sum(nil), multihash.BLAKE3)
	}
	return multihash.Sum(data, code, length)
}

// NewRawBlock mints a raw-codec (CIDv1) block over data, hashed with
// code (e.g. multihash.SHA2_256 or multihash.BLAKE3). It is the shared
// construction path for every caller that hands the blockstore raw
// bytes rather than an already-built DAG node: unixfs's raw-leaves
// path and the cmd/ tools' bare block-put commands.
func NewRawBlock(data []byte, code uint64) (blocks.Block, error) {
	h, err := sumMultihash(data, code, -1)
	if err != nil {
		return nil, err
	}
	return blocks.NewBlockWithCid(data, cid.NewCidV1(cid.Raw, h))
}
