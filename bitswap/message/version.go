package message

import "github.com/libp2p/go-libp2p/core/protocol"

// ProtocolVersions lists the Bitswap protocol IDs this node offers,
// in negotiation preference order (spec.md §4.4): newest first, the
// legacy v1.0.0 last.
var ProtocolVersions = []protocol.ID{
	ProtocolV1_2_0,
	ProtocolV1_1_0,
	ProtocolV1_0_0,
}

const (
	ProtocolV1_2_0 protocol.ID = "/ipfs/bitswap/1.2.0"
	ProtocolV1_1_0 protocol.ID = "/ipfs/bitswap/1.1.0"
	ProtocolV1_0_0 protocol.ID = "/ipfs/bitswap/1.0.0"
)

// SupportsBlockPresence reports whether the negotiated protocol
// version allows HAVE/DONT_HAVE block-presence entries. v1.0.0 predates
// block presence and a sender MUST NOT emit them on that version.
func SupportsBlockPresence(v protocol.ID) bool {
	return v != ProtocolV1_0_0
}
