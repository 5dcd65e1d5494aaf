package unixfs

import (
	"context"
	"io"

	dag "github.com/ipfs/boxo/ipld/merkledag"
	ufs "github.com/ipfs/boxo/ipld/unixfs"
	unixfspb "github.com/ipfs/boxo/ipld/unixfs/pb"
	"github.com/ipfs/go-cid"

	corestore "corenode/blockstore"
	"corenode/corerr"
)

// Cat implements spec.md §4.10: a lazy, bounded byte range read over a
// UnixFS file DAG rooted at root, streamed into w without materializing
// the whole file. offset and length bound the range; length < 0 means
// "to the end of the file".
func Cat(ctx context.Context, bstore corestore.Blockstore, root cid.Cid, offset, length int64, w io.Writer) error {
	if offset < 0 {
		offset = 0
	}
	_, err := catNode(ctx, bstore, root, offset, length, w)
	return err
}

// catNode reads [offset, offset+length) (length<0 meaning unbounded)
// relative to the start of the subtree rooted at c, writing any
// in-range bytes to w. It returns the number of bytes written, so a
// caller can decrement a bounded length budget across siblings.
func catNode(ctx context.Context, bstore corestore.Blockstore, c cid.Cid, offset, length int64, w io.Writer) (int64, error) {
	if length == 0 {
		return 0, nil
	}

	if c.Type() == cid.Raw {
		blk, err := bstore.Get(ctx, c)
		if err != nil {
			return 0, err
		}
		return writeRange(w, blk.RawData(), offset, length)
	}

	blk, err := bstore.Get(ctx, c)
	if err != nil {
		return 0, err
	}
	pn, err := dag.DecodeProtobuf(blk.RawData())
	if err != nil {
		return 0, corerr.Wrap(corerr.NotUnixFS, c.String(), err)
	}
	fsn, err := ufs.FSNodeFromBytes(pn.Data())
	if err != nil {
		return 0, corerr.Wrap(corerr.NotUnixFS, c.String(), err)
	}

	if fsn.Type() != unixfspb.Data_File && fsn.Type() != unixfspb.Data_Raw {
		return 0, corerr.New(corerr.NotUnixFS, c.String())
	}

	if fsn.NumChildren() == 0 {
		return writeRange(w, fsn.Data(), offset, length)
	}

	// Interior node: walk blocksizes to find which children intersect
	// [offset, offset+length).
	links := pn.Links()
	var written int64
	var pos int64
	for i := 0; i < fsn.NumChildren(); i++ {
		childSize := int64(fsn.BlockSize(i))
		childStart := pos
		childEnd := pos + childSize
		pos = childEnd

		if childEnd <= offset {
			continue
		}
		remaining := length
		if remaining >= 0 {
			remaining -= written
			if remaining <= 0 {
				break
			}
		}
		if length >= 0 && childStart >= offset+length {
			break
		}

		childOffset := int64(0)
		if offset > childStart {
			childOffset = offset - childStart
		}
		childLength := remaining
		if childLength >= 0 {
			maxFromChild := childSize - childOffset
			if childLength > maxFromChild {
				childLength = maxFromChild
			}
		}

		n, err := catNode(ctx, bstore, links[i].Cid, childOffset, childLength, w)
		if err != nil {
			return written, err
		}
		written += n

		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}
	}
	return written, nil
}

func writeRange(w io.Writer, data []byte, offset, length int64) (int64, error) {
	if offset >= int64(len(data)) {
		return 0, nil
	}
	end := int64(len(data))
	if length >= 0 && offset+length < end {
		end = offset + length
	}
	n, err := w.Write(data[offset:end])
	return int64(n), err
}
