// Package network implements the C6 Bitswap network engine: a
// per-peer connection state machine, a debounced coalescing send
// queue, and a worker-pool-capped concurrent sender, all driven over a
// small capability interface instead of a concrete libp2p host so it
// can be exercised with an in-memory double in tests.
//
// Grounded on _examples/ThNam203-ipfs-demo/ipfs/ipfs/ipfs.go's real
// boxo-over-libp2p wiring (network.NewFromIpfsHost(host, dht)) for the
// shape of a Bitswap transport built on libp2p core types, generalized
// per spec.md §1's explicit "network transport is a capability
// interface" framing.
package network

import (
	"context"
	"io"

	"github.com/libp2p/go-libp2p/core/host"
	corenetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"corenode/bitswap/message"
)

// Stream is the minimal bidirectional byte stream a Network hands back
// for one peer conversation, matching the subset of
// libp2p/core/network.Stream this package actually uses.
type Stream interface {
	io.ReadWriteCloser
	Protocol() protocol.ID
	RemotePeer() peer.ID
}

// Network is the capability interface the engine drives: open/accept
// Bitswap streams, know who we're connected to, and identify ourselves.
// A LibP2PNetwork implements this over a real host.Host; tests use an
// in-memory double (see network_test.go).
type Network interface {
	OpenStream(ctx context.Context, p peer.ID) (Stream, error)
	Connected(p peer.ID) bool
	SetStreamHandler(handler func(Stream))
	PeerID() peer.ID
}

// LibP2PNetwork adapts a libp2p host.Host to Network, negotiating the
// Bitswap protocol versions in message.ProtocolVersions order.
type LibP2PNetwork struct {
	host host.Host
}

// NewLibP2PNetwork wraps an already-constructed libp2p host.
func NewLibP2PNetwork(h host.Host) *LibP2PNetwork {
	return &LibP2PNetwork{host: h}
}

func (n *LibP2PNetwork) OpenStream(ctx context.Context, p peer.ID) (Stream, error) {
	s, err := n.host.NewStream(ctx, p, message.ProtocolV1_2_0, message.ProtocolV1_1_0, message.ProtocolV1_0_0)
	if err != nil {
		return nil, err
	}
	return streamAdapter{s}, nil
}

func (n *LibP2PNetwork) Connected(p peer.ID) bool {
	return n.host.Network().Connectedness(p) == corenetwork.Connected
}

func (n *LibP2PNetwork) SetStreamHandler(handler func(Stream)) {
	for _, v := range message.ProtocolVersions {
		n.host.SetStreamHandler(v, func(s corenetwork.Stream) {
			handler(streamAdapter{s})
		})
	}
}

func (n *LibP2PNetwork) PeerID() peer.ID {
	return n.host.ID()
}

type streamAdapter struct {
	corenetwork.Stream
}

func (s streamAdapter) Protocol() protocol.ID {
	return s.Stream.Protocol()
}

func (s streamAdapter) RemotePeer() peer.ID {
	return s.Stream.Conn().RemotePeer()
}
