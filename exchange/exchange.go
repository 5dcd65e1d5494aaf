// Package exchange implements the C8 Blockstore-with-Bitswap decorator:
// a Blockstore whose Get falls through to a session-coordinated network
// fetch on a local miss, then caches the result, exactly like
// boxo/blockservice composes a blockstore.Blockstore with an
// exchange.Interface.
//
// Grounded on _examples/ThNam203-ipfs-demo/ipfs/ipfs/ipfs.go's
// setupBlockService (blockservice.New(bstore, bswap) wrapping a
// boxo bitswap.New(ctx, net, bstore) exchange), generalized per
// spec.md §4.8's decorator contract against this repo's own
// blockstore.Blockstore and bitswap/session.Coordinator instead of
// boxo's types.
package exchange

import (
	"context"
	"io"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"

	corestore "corenode/blockstore"
	"corenode/bitswap/session"
)

// Exchange is a Blockstore that transparently fetches missing blocks
// over Bitswap. Every other operation passes through to the underlying
// Blockstore unchanged.
type Exchange struct {
	corestore.Blockstore
	coordinator *session.Coordinator
	opts        []session.Option
}

// New wraps bstore so that Get misses trigger a single-CID session
// against coordinator before failing, per spec.md §4.8. opts configure
// every session opened this way (timeout, query concurrency, ...).
func New(bstore corestore.Blockstore, coordinator *session.Coordinator, opts ...session.Option) *Exchange {
	return &Exchange{Blockstore: bstore, coordinator: coordinator, opts: opts}
}

// Get consults the underlying blockstore first; on miss it opens a
// single-CID session, awaits the result, inserts it into the
// underlying blockstore, and returns it.
func (e *Exchange) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	if b, err := e.Blockstore.Get(ctx, c); err == nil {
		return b, nil
	}

	s := e.coordinator.NewSession(e.opts...)
	defer s.End()

	b, err := s.GetOne(ctx, c)
	if err != nil {
		return nil, err
	}

	if err := e.Blockstore.Put(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GetSize behaves like Get but only needs the block's length; it still
// goes through the full fetch-and-cache path on a miss since Bitswap
// has no "size only" query.
func (e *Exchange) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	if n, err := e.Blockstore.GetSize(ctx, c); err == nil {
		return n, nil
	}
	b, err := e.Get(ctx, c)
	if err != nil {
		return 0, err
	}
	return len(b.RawData()), nil
}

// Put inserts b locally and notifies the coordinator so any session
// already waiting on b.Cid() (and any peer owed a HAVE gossip) is
// satisfied without a redundant network round trip, per spec.md §4.7's
// "notification of fresh local blocks".
func (e *Exchange) Put(ctx context.Context, b blocks.Block) error {
	if err := e.Blockstore.Put(ctx, b); err != nil {
		return err
	}
	e.coordinator.NotifyLocalBlock(ctx, b, nil)
	return nil
}

// PutMany is Put applied to every block, in order.
func (e *Exchange) PutMany(ctx context.Context, bs []blocks.Block) error {
	for _, b := range bs {
		if err := e.Put(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

var _ io.Closer = (*Exchange)(nil)

// Close closes the underlying blockstore. The session coordinator has
// no resources of its own to release.
func (e *Exchange) Close() error {
	return e.Blockstore.Close()
}
