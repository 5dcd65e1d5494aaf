// Package unixfs implements the C9-C11 UnixFS layer: a chunker and
// balanced DAG builder, a streaming reader, and directory operations
// including an MFS mutable overlay.
//
// Grounded on _examples/gloudx-ues/blockstore/blockstore.go's AddFile/
// GetFile/GetReader (the teacher's own UnixFS wiring: boxo's chunker,
// ipld/unixfs, ipld/unixfs/io and ipld/merkledag packages) and
// _examples/ThNam203-ipfs-demo's AddFile/importer/balanced usage for
// the same dependency set applied slightly differently. This package
// builds the dag-pb nodes directly with boxo/ipld/unixfs's FSNode and
// boxo/ipld/merkledag's ProtoNode rather than delegating to boxo's
// importer/balanced package, since spec.md §4.9 fixes the exact
// balanced-tree shape (max_children, blocksizes, deterministic root)
// the importer's own heuristics don't guarantee byte-for-byte.
package unixfs

import (
	"context"
	"io"

	dag "github.com/ipfs/boxo/ipld/merkledag"
	ufs "github.com/ipfs/boxo/ipld/unixfs"
	unixfspb "github.com/ipfs/boxo/ipld/unixfs/pb"
	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"
	"github.com/multiformats/go-multihash"

	corestore "corenode/blockstore"
)

// DefaultChunkSize is spec.md §4.9's default fixed chunk size, 1 MiB.
const DefaultChunkSize = 1 << 20

// DefaultMaxChildren is spec.md §4.9's default fan-out per DAG level.
const DefaultMaxChildren = 174

// AddOptions configures Add.
type AddOptions struct {
	ChunkSize   int
	MaxChildren int
	RawLeaves   bool

	// HashFunc is the multihash code used for raw leaves (ignored
	// unless RawLeaves is set; FILE nodes are always sha2-256 since
	// dag-pb/merkledag.NodeWithData fixes the codec's own hashing).
	// Defaults to multihash.SHA2_256; multihash.BLAKE3 is also
	// supported, per spec.md §6's "additional hash function" allowance.
	HashFunc uint64
}

// DefaultAddOptions returns spec.md §4.9's defaults.
func DefaultAddOptions() AddOptions {
	return AddOptions{ChunkSize: DefaultChunkSize, MaxChildren: DefaultMaxChildren, HashFunc: multihash.SHA2_256}
}

func (o AddOptions) normalized() AddOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxChildren <= 0 {
		o.MaxChildren = DefaultMaxChildren
	}
	if o.HashFunc == 0 {
		o.HashFunc = multihash.SHA2_256
	}
	return o
}

// node is one already-stored block in the tree being built: its CID
// and its logical (UnixFS) byte size, which is what a parent's
// blocksizes entry records for this child.
type node struct {
	cid  cid.Cid
	size uint64
}

// Add implements spec.md §4.9: chunk payload, build a balanced UnixFS
// DAG over it, insert every block into bstore, and return the
// deterministic root CID. Identical bytes and options always produce
// the identical root.
func Add(ctx context.Context, bstore corestore.Blockstore, payload io.Reader, opts AddOptions) (cid.Cid, error) {
	opts = opts.normalized()
	buf := make([]byte, opts.ChunkSize)

	n, rerr := io.ReadFull(payload, buf)
	if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
		return cid.Undef, rerr
	}
	first := append([]byte(nil), buf[:n]...)
	if n < opts.ChunkSize {
		// Reader ran out within the first chunk: the whole payload
		// fits in one FILE node, per spec.md §4.9.
		return addSingleChunk(ctx, bstore, first)
	}

	// The first chunk exactly filled the buffer; a one-byte lookahead
	// (without materializing the rest of the payload) tells us whether
	// a second chunk exists at all.
	pending, ok, err := readOne(payload)
	if err != nil {
		return cid.Undef, err
	}
	if !ok {
		return addSingleChunk(ctx, bstore, first)
	}

	var leaves []node
	leaf, err := addLeaf(ctx, bstore, first, opts.RawLeaves, opts.HashFunc)
	if err != nil {
		return cid.Undef, err
	}
	leaves = append(leaves, leaf)

	for {
		m, rerr := io.ReadFull(payload, buf[1:])
		if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
			return cid.Undef, rerr
		}
		chunk := make([]byte, m+1)
		chunk[0] = pending
		copy(chunk[1:], buf[1:1+m])

		leaf, err := addLeaf(ctx, bstore, chunk, opts.RawLeaves, opts.HashFunc)
		if err != nil {
			return cid.Undef, err
		}
		leaves = append(leaves, leaf)

		if m < len(buf)-1 {
			// Short read: the reader is exhausted, this was the last chunk.
			break
		}

		next, ok, err := readOne(payload)
		if err != nil {
			return cid.Undef, err
		}
		if !ok {
			break
		}
		pending = next
	}

	return buildBalanced(ctx, bstore, leaves, opts.MaxChildren)
}

// readOne reads a single byte, reporting ok=false at a clean EOF with
// no data rather than an error.
func readOne(r io.Reader) (byte, bool, error) {
	var b [1]byte
	n, err := io.ReadFull(r, b[:])
	if n == 0 {
		if err == io.EOF {
			return 0, false, nil
		}
		return 0, false, err
	}
	return b[0], true, nil
}

func addSingleChunk(ctx context.Context, bstore corestore.Blockstore, data []byte) (cid.Cid, error) {
	fsn := ufs.NewFSNode(unixfspb.Data_File)
	fsn.SetData(data)
	fsBytes, err := fsn.GetBytes()
	if err != nil {
		return cid.Undef, err
	}
	pn := dag.NodeWithData(fsBytes)
	if err := bstore.Put(ctx, pn); err != nil {
		return cid.Undef, err
	}
	return pn.Cid(), nil
}

// addLeaf stores one fixed-size chunk as either a raw block or a
// leaf FILE node, per spec.md §4.9's raw_leaves toggle. hashFunc picks
// the multihash code for the raw-block path.
func addLeaf(ctx context.Context, bstore corestore.Blockstore, data []byte, rawLeaves bool, hashFunc uint64) (node, error) {
	if rawLeaves {
		blk, err := corestore.NewRawBlock(data, hashFunc)
		if err != nil {
			return node{}, err
		}
		if err := bstore.Put(ctx, blk); err != nil {
			return node{}, err
		}
		return node{cid: blk.Cid(), size: uint64(len(data))}, nil
	}

	fsn := ufs.NewFSNode(unixfspb.Data_File)
	fsn.SetData(data)
	fsBytes, err := fsn.GetBytes()
	if err != nil {
		return node{}, err
	}
	pn := dag.NodeWithData(fsBytes)
	if err := bstore.Put(ctx, pn); err != nil {
		return node{}, err
	}
	return node{cid: pn.Cid(), size: uint64(len(data))}, nil
}

// buildBalanced groups leaves (or, recursively, prior level parents)
// into parents of up to maxChildren, repeating until exactly one node
// remains, per spec.md §4.9's balanced-tree construction.
func buildBalanced(ctx context.Context, bstore corestore.Blockstore, level []node, maxChildren int) (cid.Cid, error) {
	for len(level) > 1 {
		var next []node
		for i := 0; i < len(level); i += maxChildren {
			end := i + maxChildren
			if end > len(level) {
				end = len(level)
			}
			group := level[i:end]
			parent, err := buildParent(ctx, bstore, group)
			if err != nil {
				return cid.Undef, err
			}
			next = append(next, parent)
		}
		level = next
	}
	return level[0].cid, nil
}

func buildParent(ctx context.Context, bstore corestore.Blockstore, children []node) (node, error) {
	fsn := ufs.NewFSNode(unixfspb.Data_File)
	var total uint64
	for _, c := range children {
		fsn.AddBlockSize(c.size)
		total += c.size
	}
	fsBytes, err := fsn.GetBytes()
	if err != nil {
		return node{}, err
	}
	pn := dag.NodeWithData(fsBytes)
	for i, c := range children {
		if err := pn.AddRawLink(linkName(i), &format.Link{Cid: c.cid, Size: c.size}); err != nil {
			return node{}, err
		}
	}
	if err := bstore.Put(ctx, pn); err != nil {
		return node{}, err
	}
	return node{cid: pn.Cid(), size: total}, nil
}

// linkName gives each balanced-tree link an empty name: UnixFS file
// DAG links (as opposed to directory links) carry no meaningful name,
// only position, which AddRawLink preserves via link order.
func linkName(i int) string { return "" }
