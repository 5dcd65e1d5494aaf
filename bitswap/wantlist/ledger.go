// Package wantlist implements the C5 per-peer wantlist ledger: the
// bidirectional view of what we have asked a peer for and what that
// peer has asked us for, per spec.md §4.5.
//
// No corpus example maintains a Bitswap ledger from scratch; the shape
// here follows spec.md §4.5 directly, with the vendored go-ipfs
// bitswap package (other_examples) lending its "decision engine" naming
// for the inbound side.
package wantlist

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"

	"corenode/bitswap/message"
)

// recentHaveCacheSize bounds the per-peer cache of recent inbound HAVE
// answers the session coordinator consults when ranking peers, so a
// long-lived connection's ledger doesn't grow without bound once
// outbound wants are cleared on delivery.
const recentHaveCacheSize = 256

// OutboundState is the terminal/non-terminal status of a want we asked
// a peer for.
type OutboundState int

const (
	// Pending means we are waiting on the peer; no terminal response
	// received yet.
	Pending OutboundState = iota
	// Have means the peer answered a HAVE presence for a want_have
	// entry; the block itself has not been requested or delivered yet.
	Have
	// Delivered means the peer sent us the block. Terminal.
	Delivered
	// DontHave means the peer answered DONT_HAVE. Terminal.
	DontHave
)

func (s OutboundState) terminal() bool {
	return s == Delivered || s == DontHave
}

// OutboundWant is our view of one CID we've asked a peer for.
type OutboundWant struct {
	Cid           cid.Cid
	Priority      int32
	WantType      message.WantType
	CancelPending bool
	State         OutboundState
}

// InboundWant is the peer's view of one CID it has asked us for.
type InboundWant struct {
	Cid          cid.Cid
	SendDontHave bool
}

// Ledger is the per-peer bidirectional wantlist state. Safe for
// concurrent use.
type Ledger struct {
	mu       sync.Mutex
	outbound map[string]*OutboundWant
	inbound  map[string]*InboundWant

	dirtyOut map[string]struct{}
	dirtyIn  map[string]struct{}

	recentHave *lru.Cache[string, struct{}]
}

// New returns an empty per-peer ledger.
func New() *Ledger {
	cache, _ := lru.New[string, struct{}](recentHaveCacheSize)
	return &Ledger{
		outbound:   map[string]*OutboundWant{},
		inbound:    map[string]*InboundWant{},
		dirtyOut:   map[string]struct{}{},
		dirtyIn:    map[string]struct{}{},
		recentHave: cache,
	}
}

// RecentlyHad reports whether this peer recently answered HAVE for c,
// used by the session coordinator to prefer peers it already knows
// hold a block.
func (l *Ledger) RecentlyHad(c cid.Cid) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.recentHave.Get(c.KeyString())
	return ok
}

// AddWant records that we now want c from this peer. If c is already
// in state Have (the peer told us it has the block but we only probed
// with want_have), upgrading to WantBlock re-enqueues it to
// immediately request the block body, per spec.md §4.5's "adding a
// want already in state HAVE immediately requests the block".
func (l *Ledger) AddWant(c cid.Cid, priority int32, wantType message.WantType) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := c.KeyString()
	existing, ok := l.outbound[key]
	if !ok {
		l.outbound[key] = &OutboundWant{Cid: c, Priority: priority, WantType: wantType, State: Pending}
		l.dirtyOut[key] = struct{}{}
		return
	}

	existing.Priority = priority
	existing.CancelPending = false
	if existing.State == Have && wantType == message.WantBlock {
		existing.WantType = message.WantBlock
		existing.State = Pending
		l.dirtyOut[key] = struct{}{}
		return
	}
	existing.WantType = wantType
	l.dirtyOut[key] = struct{}{}
}

// CancelWant flips the pending-cancel bit for c. A no-op if c is
// unknown or already cancel-pending.
func (l *Ledger) CancelWant(c cid.Cid) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := c.KeyString()
	w, ok := l.outbound[key]
	if !ok || w.CancelPending {
		return
	}
	w.CancelPending = true
	l.dirtyOut[key] = struct{}{}
}

// RecordHave marks c as answered-HAVE by the peer, if it is still an
// active (non-terminal) outbound want.
func (l *Ledger) RecordHave(c cid.Cid) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.outbound[c.KeyString()]; ok && !w.State.terminal() {
		w.State = Have
	}
	l.recentHave.Add(c.KeyString(), struct{}{})
}

// RecordDontHave marks c terminally DONT_HAVE.
func (l *Ledger) RecordDontHave(c cid.Cid) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.outbound[c.KeyString()]; ok {
		w.State = DontHave
	}
}

// RecordDelivered marks c terminally delivered and removes it from the
// active outbound set.
func (l *Ledger) RecordDelivered(c cid.Cid) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.outbound, c.KeyString())
}

// EffectiveOutbound returns every want that is still outstanding: not
// cancel-pending and not terminally resolved, per spec.md §4.5's
// invariant.
func (l *Ledger) EffectiveOutbound() []OutboundWant {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []OutboundWant
	for _, w := range l.outbound {
		if w.CancelPending || w.State.terminal() {
			continue
		}
		out = append(out, *w)
	}
	return out
}

// DrainDirtyOutbound returns (and clears) the set of CIDs whose
// outbound state changed since the last drain, for the network engine
// to fold into its next debounced send.
func (l *Ledger) DrainDirtyOutbound() []OutboundWant {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []OutboundWant
	for key := range l.dirtyOut {
		if w, ok := l.outbound[key]; ok {
			out = append(out, *w)
		}
	}
	l.dirtyOut = map[string]struct{}{}
	return out
}

// OnPeerWants records that the peer has asked us for c. cancel==true
// removes the inbound interest instead.
func (l *Ledger) OnPeerWants(c cid.Cid, sendDontHave, cancel bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := c.KeyString()
	if cancel {
		delete(l.inbound, key)
		delete(l.dirtyIn, key)
		return
	}
	l.inbound[key] = &InboundWant{Cid: c, SendDontHave: sendDontHave}
	l.dirtyIn[key] = struct{}{}
}

// DrainDirtyInbound returns (and clears) the peer-requested CIDs that
// changed since the last drain, for the engine to answer with a block
// payload or a DONT_HAVE presence.
func (l *Ledger) DrainDirtyInbound() []InboundWant {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []InboundWant
	for key := range l.dirtyIn {
		if w, ok := l.inbound[key]; ok {
			out = append(out, *w)
		}
	}
	l.dirtyIn = map[string]struct{}{}
	return out
}
