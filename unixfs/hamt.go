package unixfs

import (
	"context"
	"hash/fnv"

	dag "github.com/ipfs/boxo/ipld/merkledag"
	ufs "github.com/ipfs/boxo/ipld/unixfs"
	unixfspb "github.com/ipfs/boxo/ipld/unixfs/pb"
	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"

	corestore "corenode/blockstore"
	"corenode/corerr"
)

// DefaultHAMTFanout is the number of buckets a sharded directory
// hashes entry names into. spec.md §4.11 leaves directory
// implementation to "DIRECTORY nodes whose links are the entries"
// without mandating sharding; this is a supplementary feature for
// directories too large for a flat link list to stay practical,
// grounded on the same bucket-by-hash idea the teacher's mst package
// used for its own index sharding (a simplified, directory-specific
// variant — not go-unixfs's production HAMT bit-trie, which needs a
// consistent-hashing bitfield this repo has no other use for).
const DefaultHAMTFanout = 256

// HAMTShard is a sharded directory: entries are distributed across
// DefaultHAMTFanout child DIRECTORY nodes by a hash of their name,
// rather than all living as direct links on one node. Each bucket is
// itself a plain DIRECTORY node (loaded/stored via the same
// loadDirectory/storeDirectory helpers), so Ls/Mkdir/Cp/Rm on a shard
// compose from the flat-directory operations one bucket at a time.
type HAMTShard struct {
	bstore corestore.Blockstore
	fanout int
}

// NewHAMTShard wraps bstore for sharded-directory operations.
func NewHAMTShard(bstore corestore.Blockstore) *HAMTShard {
	return &HAMTShard{bstore: bstore, fanout: DefaultHAMTFanout}
}

func (h *HAMTShard) bucket(name string) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(name))
	return int(f.Sum32() % uint32(h.fanout))
}

// EmptyShard builds a HAMTShard-typed root node with fanout empty
// bucket links (bucket names are their index as two lowercase hex
// digits), and returns its
// CID.
func (h *HAMTShard) EmptyShard(ctx context.Context) (cid.Cid, error) {
	var links []*format.Link
	for i := 0; i < h.fanout; i++ {
		bc, err := EmptyDirectory(ctx, h.bstore)
		if err != nil {
			return cid.Undef, err
		}
		links = append(links, &format.Link{Name: bucketName(i), Cid: bc, Size: 0})
	}
	return h.storeShardRoot(ctx, links)
}

func (h *HAMTShard) storeShardRoot(ctx context.Context, links []*format.Link) (cid.Cid, error) {
	fsn := ufs.NewFSNode(unixfspb.Data_HAMTShard)
	fsBytes, err := fsn.GetBytes()
	if err != nil {
		return cid.Undef, err
	}
	pn := dag.NodeWithData(fsBytes)
	for _, l := range links {
		if err := pn.AddRawLink(l.Name, l); err != nil {
			return cid.Undef, err
		}
	}
	if err := h.bstore.Put(ctx, pn); err != nil {
		return cid.Undef, err
	}
	return pn.Cid(), nil
}

func (h *HAMTShard) loadShardRoot(ctx context.Context, root cid.Cid) (*dag.ProtoNode, error) {
	blk, err := h.bstore.Get(ctx, root)
	if err != nil {
		return nil, err
	}
	pn, err := dag.DecodeProtobuf(blk.RawData())
	if err != nil {
		return nil, corerr.Wrap(corerr.NotUnixFS, root.String(), err)
	}
	fsn, err := ufs.FSNodeFromBytes(pn.Data())
	if err != nil {
		return nil, corerr.Wrap(corerr.NotUnixFS, root.String(), err)
	}
	if fsn.Type() != unixfspb.Data_HAMTShard {
		return nil, corerr.New(corerr.NotUnixFS, root.String())
	}
	return pn, nil
}

// Put adds or replaces name -> target in the shard rooted at root,
// returning the new shard root CID (copy-on-write, same as a flat
// directory: only the touched bucket and the root are rewritten).
func (h *HAMTShard) Put(ctx context.Context, root cid.Cid, name string, target cid.Cid, size uint64) (cid.Cid, error) {
	pn, err := h.loadShardRoot(ctx, root)
	if err != nil {
		return cid.Undef, err
	}
	idx := h.bucket(name)
	bucketLink, ok := findLink(pn, bucketName(idx))
	if !ok {
		return cid.Undef, corerr.New(corerr.NotUnixFS, root.String())
	}

	newBucket, err := Cp(ctx, h.bstore, bucketLink.Cid, target, name)
	if err != nil {
		return cid.Undef, err
	}

	links := replaceLink(pn.Links(), bucketName(idx), &format.Link{Name: bucketName(idx), Cid: newBucket, Size: 0})
	return h.storeShardRoot(ctx, links)
}

// Remove deletes name from the shard rooted at root.
func (h *HAMTShard) Remove(ctx context.Context, root cid.Cid, name string) (cid.Cid, error) {
	pn, err := h.loadShardRoot(ctx, root)
	if err != nil {
		return cid.Undef, err
	}
	idx := h.bucket(name)
	bucketLink, ok := findLink(pn, bucketName(idx))
	if !ok {
		return cid.Undef, corerr.New(corerr.DoesNotExist, name)
	}

	newBucket, err := Rm(ctx, h.bstore, bucketLink.Cid, name)
	if err != nil {
		return cid.Undef, err
	}

	links := replaceLink(pn.Links(), bucketName(idx), &format.Link{Name: bucketName(idx), Cid: newBucket, Size: 0})
	return h.storeShardRoot(ctx, links)
}

// Get looks up name in the shard rooted at root.
func (h *HAMTShard) Get(ctx context.Context, root cid.Cid, name string) (cid.Cid, bool, error) {
	pn, err := h.loadShardRoot(ctx, root)
	if err != nil {
		return cid.Undef, false, err
	}
	idx := h.bucket(name)
	bucketLink, ok := findLink(pn, bucketName(idx))
	if !ok {
		return cid.Undef, false, nil
	}
	bucketPn, err := loadDirectory(ctx, h.bstore, bucketLink.Cid)
	if err != nil {
		return cid.Undef, false, err
	}
	l, ok := findLink(bucketPn, name)
	if !ok {
		return cid.Undef, false, nil
	}
	return l.Cid, true, nil
}

// Ls lists every entry across every bucket, in bucket order then link
// order within a bucket (not overall insertion order, since buckets
// have no ordering relationship to each other).
func (h *HAMTShard) Ls(ctx context.Context, root cid.Cid) (<-chan Entry, <-chan error) {
	out := make(chan Entry)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		pn, err := h.loadShardRoot(ctx, root)
		if err != nil {
			errc <- err
			return
		}

		for _, bucketLink := range pn.Links() {
			entries, bucketErrc := Ls(ctx, h.bstore, bucketLink.Cid)
			for e := range entries {
				select {
				case out <- e:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			if err := <-bucketErrc; err != nil {
				errc <- err
				return
			}
		}
	}()

	return out, errc
}

func bucketName(i int) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{hexDigits[(i>>4)&0xf], hexDigits[i&0xf]})
}

func replaceLink(links []*format.Link, name string, replacement *format.Link) []*format.Link {
	out := make([]*format.Link, 0, len(links))
	for _, l := range links {
		if l.Name == name {
			out = append(out, replacement)
			continue
		}
		out = append(out, l)
	}
	return out
}
