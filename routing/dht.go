package routing

import (
	"context"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ipfs/go-cid"
)

// DHTRouter adapts a go-libp2p-kad-dht IpfsDHT to the ContentRouter
// interface. It is a thin pass-through: the DHT's own
// FindProvidersAsync already returns a lazy channel and its own
// Provide already tolerates failures internally.
type DHTRouter struct {
	dht *dht.IpfsDHT
}

// NewDHTRouter wraps an already-bootstrapped DHT node.
func NewDHTRouter(d *dht.IpfsDHT) *DHTRouter {
	return &DHTRouter{dht: d}
}

func (r *DHTRouter) FindProviders(ctx context.Context, c cid.Cid, max int) (<-chan peer.AddrInfo, error) {
	return r.dht.FindProvidersAsync(ctx, c, max), nil
}

func (r *DHTRouter) Provide(ctx context.Context, c cid.Cid) error {
	return r.dht.Provide(ctx, c, true)
}
