package routing

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ipfs/go-cid"
)

// StaticRouter is a process-local, in-memory test double: an operator
// seeds it with known provider sets per CID, and FindProviders simply
// replays them. Used by Bitswap cold-fetch tests in place of a live
// DHT, matching spec.md §8 scenario 4's "test content router".
type StaticRouter struct {
	mu        sync.Mutex
	providers map[string][]peer.AddrInfo
}

// NewStaticRouter returns an empty StaticRouter.
func NewStaticRouter() *StaticRouter {
	return &StaticRouter{providers: map[string][]peer.AddrInfo{}}
}

// Seed registers info as a provider of c for future FindProviders calls.
func (s *StaticRouter) Seed(c cid.Cid, info peer.AddrInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[c.String()] = append(s.providers[c.String()], info)
}

func (s *StaticRouter) FindProviders(ctx context.Context, c cid.Cid, max int) (<-chan peer.AddrInfo, error) {
	s.mu.Lock()
	known := append([]peer.AddrInfo(nil), s.providers[c.String()]...)
	s.mu.Unlock()

	if max > 0 && len(known) > max {
		known = known[:max]
	}

	out := make(chan peer.AddrInfo, len(known))
	for _, info := range known {
		out <- info
	}
	close(out)
	return out, nil
}

// Provide records nothing; a StaticRouter has no notion of its own
// content, only seeded knowledge of others'.
func (s *StaticRouter) Provide(ctx context.Context, c cid.Cid) error {
	return nil
}
