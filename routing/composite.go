package routing

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ipfs/go-cid"
)

// Composite fans a single FindProviders call out over every member
// router concurrently and merges their results in arrival order, per
// spec.md §4.3's "multiple router instances may be composed". Provide
// is announced to every member; individual failures are swallowed,
// matching the interface's best-effort contract.
type Composite struct {
	routers []ContentRouter
}

// NewComposite builds a Composite over the given routers, queried in
// the order given but merged as results arrive.
func NewComposite(routers ...ContentRouter) *Composite {
	return &Composite{routers: routers}
}

func (c *Composite) FindProviders(ctx context.Context, id cid.Cid, max int) (<-chan peer.AddrInfo, error) {
	out := make(chan peer.AddrInfo)

	var wg sync.WaitGroup
	for _, r := range c.routers {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := r.FindProviders(ctx, id, max)
			if err != nil {
				return
			}
			for {
				select {
				case <-ctx.Done():
					return
				case info, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- info:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (c *Composite) Provide(ctx context.Context, id cid.Cid) error {
	for _, r := range c.routers {
		_ = r.Provide(ctx, id)
	}
	return nil
}
