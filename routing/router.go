// Package routing implements the C3 content router: the capability
// interface the Bitswap session coordinator uses to discover peers that
// might hold a CID, and to announce CIDs it now holds itself.
//
// No example in the corpus implements a from-scratch content router —
// gloudx-ues never performs provider discovery. The interface shape
// below follows spec.md §4.3 directly; the DHT-backed and HTTP-gateway
// implementations are grounded on go-libp2p-kad-dht's types and
// helia-routers/src/http_gateway_routing.rs respectively (see
// routing/dht.go, routing/gateway.go).
package routing

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ipfs/go-cid"
)

// ContentRouter is the C3 interface consumed by the session
// coordinator. FindProviders returns a lazy, finite sequence of
// candidates — it may start empty and ends when the router runs out of
// candidates or the caller stops reading. Provide is a best-effort
// announce; a failure here is not fatal to the caller.
type ContentRouter interface {
	FindProviders(ctx context.Context, c cid.Cid, max int) (<-chan peer.AddrInfo, error)
	Provide(ctx context.Context, c cid.Cid) error
}
