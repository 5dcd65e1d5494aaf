package unixfs

import (
	"context"

	dag "github.com/ipfs/boxo/ipld/merkledag"
	ufs "github.com/ipfs/boxo/ipld/unixfs"
	unixfspb "github.com/ipfs/boxo/ipld/unixfs/pb"
	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"

	corestore "corenode/blockstore"
	"corenode/corerr"
)

// EntryType distinguishes a directory entry's target kind for Ls.
type EntryType int

const (
	EntryFile EntryType = iota
	EntryDirectory
)

// Entry is one directory listing row, per spec.md §4.11's
// (name, cid, size, type) tuple.
type Entry struct {
	Name string
	Cid  cid.Cid
	Size uint64
	Type EntryType
}

// EmptyDirectory builds and stores a new DIRECTORY node with no
// entries, returning its CID.
func EmptyDirectory(ctx context.Context, bstore corestore.Blockstore) (cid.Cid, error) {
	return storeDirectory(ctx, bstore, nil)
}

func loadDirectory(ctx context.Context, bstore corestore.Blockstore, dirCid cid.Cid) (*dag.ProtoNode, error) {
	blk, err := bstore.Get(ctx, dirCid)
	if err != nil {
		return nil, err
	}
	pn, err := dag.DecodeProtobuf(blk.RawData())
	if err != nil {
		return nil, corerr.Wrap(corerr.NotUnixFS, dirCid.String(), err)
	}
	fsn, err := ufs.FSNodeFromBytes(pn.Data())
	if err != nil {
		return nil, corerr.Wrap(corerr.NotUnixFS, dirCid.String(), err)
	}
	if fsn.Type() != unixfspb.Data_Directory {
		return nil, corerr.New(corerr.NotUnixFS, dirCid.String())
	}
	return pn, nil
}

func storeDirectory(ctx context.Context, bstore corestore.Blockstore, links []*format.Link) (cid.Cid, error) {
	fsn := ufs.NewFSNode(unixfspb.Data_Directory)
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
	if err := bstore.Put(ctx, pn); err != nil {
		return cid.Undef, err
	}
	return pn.Cid(), nil
}

func findLink(pn *dag.ProtoNode, name string) (*format.Link, bool) {
	for _, l := range pn.Links() {
		if l.Name == name {
			return l, true
		}
	}
	return nil, false
}

// Mkdir implements spec.md §4.11's mkdir: add a link to a fresh empty
// DIRECTORY node under name, erroring ALREADY_EXISTS if name is taken.
func Mkdir(ctx context.Context, bstore corestore.Blockstore, dirCid cid.Cid, name string) (cid.Cid, error) {
	pn, err := loadDirectory(ctx, bstore, dirCid)
	if err != nil {
		return cid.Undef, err
	}
	if _, ok := findLink(pn, name); ok {
		return cid.Undef, corerr.New(corerr.AlreadyExists, name)
	}

	childCid, err := EmptyDirectory(ctx, bstore)
	if err != nil {
		return cid.Undef, err
	}

	links := append(append([]*format.Link{}, pn.Links()...), &format.Link{Name: name, Cid: childCid, Size: 0})
	return storeDirectory(ctx, bstore, links)
}

// Cp implements spec.md §4.11's cp: add or replace the name -> srcCid
// link, copy-on-write.
func Cp(ctx context.Context, bstore corestore.Blockstore, dirCid cid.Cid, srcCid cid.Cid, name string) (cid.Cid, error) {
	pn, err := loadDirectory(ctx, bstore, dirCid)
	if err != nil {
		return cid.Undef, err
	}

	size, err := entrySize(ctx, bstore, srcCid)
	if err != nil {
		return cid.Undef, err
	}

	existing := pn.Links()
	links := make([]*format.Link, 0, len(existing)+1)
	replaced := false
	for _, l := range existing {
		if l.Name == name {
			links = append(links, &format.Link{Name: name, Cid: srcCid, Size: size})
			replaced = true
			continue
		}
		links = append(links, l)
	}
	if !replaced {
		links = append(links, &format.Link{Name: name, Cid: srcCid, Size: size})
	}
	return storeDirectory(ctx, bstore, links)
}

// Rm implements spec.md §4.11's rm: remove the name link, erroring
// DOES_NOT_EXIST if absent.
func Rm(ctx context.Context, bstore corestore.Blockstore, dirCid cid.Cid, name string) (cid.Cid, error) {
	pn, err := loadDirectory(ctx, bstore, dirCid)
	if err != nil {
		return cid.Undef, err
	}
	if _, ok := findLink(pn, name); !ok {
		return cid.Undef, corerr.New(corerr.DoesNotExist, name)
	}

	existing := pn.Links()
	links := make([]*format.Link, 0, len(existing))
	for _, l := range existing {
		if l.Name == name {
			continue
		}
		links = append(links, l)
	}
	return storeDirectory(ctx, bstore, links)
}

// Ls implements spec.md §4.11's ls: a lazy sequence of directory
// entries in link order.
func Ls(ctx context.Context, bstore corestore.Blockstore, dirCid cid.Cid) (<-chan Entry, <-chan error) {
	out := make(chan Entry)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		pn, err := loadDirectory(ctx, bstore, dirCid)
		if err != nil {
			errc <- err
			return
		}

		for _, l := range pn.Links() {
			t := EntryFile
			if isDirectory(ctx, bstore, l.Cid) {
				t = EntryDirectory
			}
			select {
			case out <- Entry{Name: l.Name, Cid: l.Cid, Size: l.Size, Type: t}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return out, errc
}

func isDirectory(ctx context.Context, bstore corestore.Blockstore, c cid.Cid) bool {
	if c.Type() != cid.DagProtobuf {
		return false
	}
	blk, err := bstore.Get(ctx, c)
	if err != nil {
		return false
	}
	pn, err := dag.DecodeProtobuf(blk.RawData())
	if err != nil {
		return false
	}
	fsn, err := ufs.FSNodeFromBytes(pn.Data())
	if err != nil {
		return false
	}
	return fsn.Type() == unixfspb.Data_Directory || fsn.Type() == unixfspb.Data_HAMTShard
}

func entrySize(ctx context.Context, bstore corestore.Blockstore, c cid.Cid) (uint64, error) {
	if c.Type() == cid.Raw {
		blk, err := bstore.Get(ctx, c)
		if err != nil {
			return 0, err
		}
		return uint64(len(blk.RawData())), nil
	}
	blk, err := bstore.Get(ctx, c)
	if err != nil {
		return 0, err
	}
	pn, err := dag.DecodeProtobuf(blk.RawData())
	if err != nil {
		return uint64(len(blk.RawData())), nil
	}
	fsn, err := ufs.FSNodeFromBytes(pn.Data())
	if err != nil {
		return uint64(len(blk.RawData())), nil
	}
	return fsn.FileSize(), nil
}
