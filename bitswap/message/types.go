package message

import "github.com/ipfs/go-cid"

// WantType distinguishes a full-block request from a have-only probe.
type WantType int

const (
	WantBlock WantType = iota
	WantHave
)

// Entry is one line of a wantlist: a target CID plus the sender's
// priority, want type, cancellation flag, and whether the sender wants
// an explicit DONT_HAVE if the receiver lacks the block.
type Entry struct {
	Cid          cid.Cid
	Priority     int32
	Cancel       bool
	WantType     WantType
	SendDontHave bool
}

// PresenceType is the two-valued closed enumeration spec.md §4.4 names
// for blockPresences.
type PresenceType int

const (
	Have PresenceType = iota
	DontHave
)

// BlockPresence answers "do you have this CID" without sending its
// bytes.
type BlockPresence struct {
	Cid  cid.Cid
	Type PresenceType
}
