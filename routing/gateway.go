package routing

import (
	"context"
	"fmt"
	"net/url"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"

	"corenode/corerr"
	"github.com/ipfs/go-cid"
)

// GatewayRouter returns a fixed set of HTTP gateways as "providers" for
// any CID, a fallback content router for when no DHT peer can be
// reached. Grounded on helia-routers/src/http_gateway_routing.rs: each
// gateway gets a synthetic peer identity derived from its host, and
// Provide is unsupported since gateways are read-only.
type GatewayRouter struct {
	gateways []*url.URL
}

// DefaultGateways mirrors the original's HTTPGatewayRoutingInit default.
var DefaultGateways = []string{
	"https://ipfs.io",
	"https://dweb.link",
}

// NewGatewayRouter builds a GatewayRouter over the given gateway base
// URLs. A nil/empty slice falls back to DefaultGateways.
func NewGatewayRouter(gateways []string) (*GatewayRouter, error) {
	if len(gateways) == 0 {
		gateways = DefaultGateways
	}
	g := &GatewayRouter{}
	for _, raw := range gateways {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("routing: parse gateway url %q: %w", raw, err)
		}
		g.gateways = append(g.gateways, u)
	}
	return g, nil
}

func gatewayPeerID(u *url.URL) (peer.ID, error) {
	h, err := multihash.Sum([]byte(u.Host), multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return peer.ID(h), nil
}

func gatewayMultiaddr(u *url.URL) (ma.Multiaddr, error) {
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	port := u.Port()
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return ma.NewMultiaddr(fmt.Sprintf("/dns4/%s/tcp/%s/%s", u.Hostname(), port, scheme))
}

func (g *GatewayRouter) FindProviders(ctx context.Context, c cid.Cid, max int) (<-chan peer.AddrInfo, error) {
	var infos []peer.AddrInfo
	for _, u := range g.gateways {
		id, err := gatewayPeerID(u)
		if err != nil {
			continue
		}
		addr, err := gatewayMultiaddr(u)
		if err != nil {
			continue
		}
		infos = append(infos, peer.AddrInfo{ID: id, Addrs: []ma.Multiaddr{addr}})
		if max > 0 && len(infos) >= max {
			break
		}
	}

	out := make(chan peer.AddrInfo, len(infos))
	for _, info := range infos {
		out <- info
	}
	close(out)
	return out, nil
}

// Provide always fails: HTTP gateways are read-only and cannot be told
// about new content.
func (g *GatewayRouter) Provide(ctx context.Context, c cid.Cid) error {
	return corerr.New(corerr.Protocol, "gateway router does not support provide")
}
