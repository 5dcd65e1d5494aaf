package blockstore

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"corenode/corerr"
)

func newInvalidBlock(c cid.Cid) error {
	return corerr.New(corerr.InvalidBlock, fmt.Sprintf("hash mismatch for %s", c))
}
