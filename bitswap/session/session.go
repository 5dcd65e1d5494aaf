// Package session implements the C7 session coordinator: spec.md §4.7
// calls it "the hardest component" because it is the only piece that
// owns cross-session, cross-peer shared state — the pending-want table
// that lets two callers asking for the same CID at the same time share
// one in-flight network request instead of issuing two.
//
// No corpus example builds anything like this from scratch; the shape
// here follows spec.md §4.7's numbered algorithm directly. The old
// vendored go-ipfs bitswap package's much simpler single-pass Session
// type lent only its naming (sessID, "session" as the unit of a
// caller's retrieval), not its implementation.
package session

import (
	"context"
	"sync"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"

	bsmessage "corenode/bitswap/message"
	bsnetwork "corenode/bitswap/network"
	"corenode/bitswap/wantlist"
	"corenode/corerr"
	"corenode/routing"
)

// Defaults per spec.md §4.7.
const (
	DefaultMaxProviders      = 5
	DefaultQueryConcurrency  = 5
	DefaultPerWantTimeout    = 30 * time.Second
	DefaultMinCandidatePeers = 2
)

// Blockstore is the subset of blockstore.Blockstore the coordinator
// needs: a local-hit check and a place to put delivered blocks.
type Blockstore interface {
	Get(ctx context.Context, c cid.Cid) (blocks.Block, error)
	Put(ctx context.Context, b blocks.Block) error
}

// Sender is the subset of bitswap/network.Engine the coordinator drives
// to actually talk to peers.
type Sender interface {
	Connect(ctx context.Context, p peer.ID) error
	Enqueue(p peer.ID, delta *bsmessage.Message)
	State(p peer.ID) bsnetwork.State
}

// Result is what a waiter receives for one target CID.
type Result struct {
	Cid   cid.Cid
	Block blocks.Block
	Err   error
}

// peerWant tracks one (cid, peer) in-flight request, enforcing the
// at-most-one-outstanding-request-per-peer-per-CID invariant across
// every session sharing the Coordinator.
type peerWant struct {
	peer      peer.ID
	wantType  bsmessage.WantType
	exhausted bool
}

type pending struct {
	mu       sync.Mutex
	cid      cid.Cid
	waiters  []chan Result
	delivered bool
	attempts map[peer.ID]*peerWant
	tried    map[peer.ID]bool // peers that answered DONT_HAVE
	timer    *time.Timer
}

// Coordinator owns the process-wide pending-want table and the ledgers
// (one per connected peer) that back peer preference ranking. One
// Coordinator typically backs a single node's Bitswap exchange.
type Coordinator struct {
	bstore Blockstore
	router routing.ContentRouter
	net    Sender

	mu       sync.Mutex
	ledgers  map[peer.ID]*wantlist.Ledger
	inflight map[peer.ID]int // in-flight want count per peer, across all sessions
	pendingMu sync.Mutex
	pendingCIDs map[string]*pending

	connected map[peer.ID]struct{}
}

// New builds a coordinator over the given blockstore, content router
// and network sender.
func New(bstore Blockstore, router routing.ContentRouter, net Sender) *Coordinator {
	return &Coordinator{
		bstore:      bstore,
		router:      router,
		net:         net,
		ledgers:     map[peer.ID]*wantlist.Ledger{},
		inflight:    map[peer.ID]int{},
		pendingCIDs: map[string]*pending{},
		connected:   map[peer.ID]struct{}{},
	}
}

// ledgerFor returns (creating if needed) the wantlist ledger tracking
// our conversation with p.
func (c *Coordinator) ledgerFor(p peer.ID) *wantlist.Ledger {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.ledgers[p]
	if !ok {
		l = wantlist.New()
		c.ledgers[p] = l
	}
	return l
}

// AddConnectedPeer seeds the candidate pool with an already-connected
// peer, per spec.md §4.7 step 3's "seed from currently-connected
// peers".
func (c *Coordinator) AddConnectedPeer(p peer.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected[p] = struct{}{}
}

func (c *Coordinator) connectedPeers() []peer.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]peer.ID, 0, len(c.connected))
	for p := range c.connected {
		out = append(out, p)
	}
	return out
}

// Session is one caller's coordinated multi-CID retrieval.
type Session struct {
	ID               uuid.UUID
	coordinator      *Coordinator
	queryConcurrency int
	maxProviders     int
	timeout          time.Duration
	pinnedPeer       peer.ID
	discover         bool

	mu      sync.Mutex
	ownWant map[string]cid.Cid // CIDs this session caused to be wanted, for end-of-session cleanup
}

// Option configures a Session.
type Option func(*Session)

// WithTimeout overrides DefaultPerWantTimeout.
func WithTimeout(d time.Duration) Option { return func(s *Session) { s.timeout = d } }

// WithQueryConcurrency overrides DefaultQueryConcurrency.
func WithQueryConcurrency(n int) Option { return func(s *Session) { s.queryConcurrency = n } }

// WithMaxProviders overrides DefaultMaxProviders.
func WithMaxProviders(n int) Option { return func(s *Session) { s.maxProviders = n } }

// WithPinnedPeer adds a known-good peer to every want's candidate set,
// alongside the connected peers. It does not exclude the other peers or
// router discovery, and the pinned peer is ranked like any other.
func WithPinnedPeer(p peer.ID) Option { return func(s *Session) { s.pinnedPeer = p } }

// WithoutDiscovery disables content-router provider discovery, relying
// only on the currently-connected peer set.
func WithoutDiscovery() Option { return func(s *Session) { s.discover = false } }

// NewSession opens a new coordinated retrieval.
func (c *Coordinator) NewSession(opts ...Option) *Session {
	s := &Session{
		ID:               uuid.New(),
		coordinator:      c,
		queryConcurrency: DefaultQueryConcurrency,
		maxProviders:     DefaultMaxProviders,
		timeout:          DefaultPerWantTimeout,
		discover:         true,
		ownWant:          map[string]cid.Cid{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetOne retrieves one target CID, honoring the session's timeout. This
// is the shape the Blockstore-with-Bitswap decorator (C8) uses.
func (s *Session) GetOne(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	results := s.GetMany(ctx, []cid.Cid{c})
	r := <-results
	return r.Block, r.Err
}

// GetMany retrieves every target CID, streaming results as they
// arrive. The channel is closed once every target has either been
// delivered or has timed out.
func (s *Session) GetMany(ctx context.Context, targets []cid.Cid) <-chan Result {
	out := make(chan Result, len(targets))
	var wg sync.WaitGroup

	for _, c := range targets {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			out <- s.fetchOne(ctx, c)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// End implements spec.md §4.7 step 9: cancel any want this session
// caused that is still outstanding (i.e. no other session is also
// waiting on it). Callers that run GetOne/GetMany to completion don't
// need this — per-CID cleanup already happens on delivery or timeout —
// but a caller that abandons a session early (cancels its own context
// without waiting for every target) should call End to release
// wants that would otherwise sit until some other caller's timeout.
func (s *Session) End() {
	s.mu.Lock()
	owned := make([]cid.Cid, 0, len(s.ownWant))
	for _, c := range s.ownWant {
		owned = append(owned, c)
	}
	s.ownWant = map[string]cid.Cid{}
	s.mu.Unlock()

	for _, c := range owned {
		s.coordinator.pendingMu.Lock()
		p, ok := s.coordinator.pendingCIDs[c.KeyString()]
		s.coordinator.pendingMu.Unlock()
		if !ok {
			continue
		}

		p.mu.Lock()
		remaining := len(p.waiters) - 1
		p.mu.Unlock()
		if remaining > 0 {
			// Other callers are still waiting on this CID; leave it
			// outstanding for them.
			continue
		}
		s.coordinator.cancelWant(c, p)
	}
}

func (s *Session) fetchOne(ctx context.Context, c cid.Cid) Result {
	// Step 1: local hit.
	if b, err := s.coordinator.bstore.Get(ctx, c); err == nil {
		return Result{Cid: c, Block: b}
	}

	waiter := make(chan Result, 1)
	p := s.coordinator.register(c, waiter)
	s.mu.Lock()
	s.ownWant[c.KeyString()] = c
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.fanOut(ctx, c, p)

	select {
	case r := <-waiter:
		return r
	case <-ctx.Done():
		// Another session may still be waiting on this same CID
		// (fetchOne only sees its own timeout, not theirs): detach just
		// this waiter and only tear the shared want down once nobody
		// else is left holding it, mirroring End()'s own remaining-
		// waiter guard.
		if s.coordinator.removeWaiter(p, waiter) == 0 {
			s.coordinator.cancelWant(c, p)
		}
		return Result{Cid: c, Err: corerr.New(corerr.Timeout, c.String())}
	}
}

// register adds waiter to the pending-want table, creating the entry
// if this is the first caller for c, per spec.md §4.7 step 2.
func (c *Coordinator) register(target cid.Cid, waiter chan Result) *pending {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	key := target.KeyString()
	p, ok := c.pendingCIDs[key]
	if !ok {
		p = &pending{cid: target, attempts: map[peer.ID]*peerWant{}, tried: map[peer.ID]bool{}}
		c.pendingCIDs[key] = p
	}
	p.mu.Lock()
	p.waiters = append(p.waiters, waiter)
	p.mu.Unlock()
	return p
}

// removeWaiter detaches waiter from p's waiter list and reports how
// many waiters remain. A caller that owns no remaining waiter is free
// to tear the shared want down (cancelWant); one that still has
// co-waiters must leave it outstanding for them.
func (c *Coordinator) removeWaiter(p *pending, waiter chan Result) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == waiter {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	return len(p.waiters)
}

func (c *Coordinator) forget(target cid.Cid) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pendingCIDs, target.KeyString())
}

// fanOut implements spec.md §4.7 steps 3-4: seed candidates from
// connected peers (and, if below DefaultMinCandidatePeers, fan out
// provider discovery), rank them, and send wants to the top
// queryConcurrency candidates that don't already have an outstanding
// request for this CID.
func (s *Session) fanOut(ctx context.Context, c cid.Cid, p *pending) {
	candidates := s.candidatesFor(ctx, c)

	sent := 0
	for _, peerID := range candidates {
		if sent >= s.queryConcurrency {
			break
		}
		if !s.coordinator.tryClaim(p, peerID) {
			continue
		}
		s.sendWant(ctx, peerID, c)
		sent++
	}
}

func (s *Session) candidatesFor(ctx context.Context, c cid.Cid) []peer.ID {
	var candidates []peer.ID
	if s.pinnedPeer != "" {
		candidates = append(candidates, s.pinnedPeer)
	}
	candidates = append(candidates, s.coordinator.connectedPeers()...)

	if len(candidates) < DefaultMinCandidatePeers && s.discover && s.coordinator.router != nil {
		discoverCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		found, err := s.coordinator.router.FindProviders(discoverCtx, c, s.maxProviders)
		if err == nil {
			for info := range found {
				s.coordinator.AddConnectedPeer(info.ID)
				candidates = append(candidates, info.ID)
			}
		}
	}

	return rankPeers(candidates, s.coordinator, c)
}

// tryClaim enforces the at-most-one-in-flight-per-peer invariant: it
// records peerID as having an outstanding request for p.cid, refusing
// if one is already outstanding or that peer already answered
// DONT_HAVE for this CID.
func (c *Coordinator) tryClaim(p *pending, peerID peer.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tried[peerID] {
		return false
	}
	if pw, ok := p.attempts[peerID]; ok && !pw.exhausted {
		return false
	}
	p.attempts[peerID] = &peerWant{peer: peerID, wantType: bsmessage.WantHave}
	return true
}

func (s *Session) sendWant(ctx context.Context, peerID peer.ID, c cid.Cid) {
	coord := s.coordinator
	if coord.net.State(peerID) != bsnetwork.Ready {
		_ = coord.net.Connect(ctx, peerID)
	}

	l := coord.ledgerFor(peerID)
	l.AddWant(c, 1, bsmessage.WantHave)

	coord.mu.Lock()
	coord.inflight[peerID]++
	coord.mu.Unlock()

	delta := bsmessage.New()
	delta.AddEntry(bsmessage.Entry{Cid: c, Priority: 1, WantType: bsmessage.WantHave, SendDontHave: true})
	coord.net.Enqueue(peerID, delta)
}

// cancelWant cancels this session's outstanding request for c across
// every peer it was sent to, per spec.md §4.7 step 9 (and the timeout
// path's implicit cancel).
func (c *Coordinator) cancelWant(target cid.Cid, p *pending) {
	p.mu.Lock()
	peers := make([]peer.ID, 0, len(p.attempts))
	for pr := range p.attempts {
		peers = append(peers, pr)
	}
	p.mu.Unlock()

	for _, pr := range peers {
		l := c.ledgerFor(pr)
		l.CancelWant(target)
		c.mu.Lock()
		if c.inflight[pr] > 0 {
			c.inflight[pr]--
		}
		c.mu.Unlock()

		delta := bsmessage.New()
		delta.AddEntry(bsmessage.Entry{Cid: target, Cancel: true})
		c.net.Enqueue(pr, delta)
	}
	c.forget(target)
}

// OnHave implements spec.md §4.7 step 5: a HAVE response upgrades a
// want_have probe to a want_block request against the same peer.
func (c *Coordinator) OnHave(p peer.ID, target cid.Cid) {
	l := c.ledgerFor(p)
	l.RecordHave(target)

	c.pendingMu.Lock()
	pend, ok := c.pendingCIDs[target.KeyString()]
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	pend.mu.Lock()
	if pw, ok := pend.attempts[p]; ok {
		pw.wantType = bsmessage.WantBlock
	}
	pend.mu.Unlock()

	l.AddWant(target, 1, bsmessage.WantBlock)
	delta := bsmessage.New()
	delta.AddEntry(bsmessage.Entry{Cid: target, Priority: 1, WantType: bsmessage.WantBlock})
	c.net.Enqueue(p, delta)
}

// OnDontHave implements spec.md §4.7 step 7: mark the peer exhausted
// for this CID and, if there is no other outstanding attempt, let a
// future fanOut call pick the next candidate (the Session's own
// fetchOne call already owns retry timing via its context deadline; a
// longer-lived coordinator could re-trigger fanOut here for a live
// session, which is intentionally left to the caller wrapping
// GetMany/GetOne in its own retry loop for CIDs that span multiple
// rounds of discovery).
func (c *Coordinator) OnDontHave(p peer.ID, target cid.Cid) {
	l := c.ledgerFor(p)
	l.RecordDontHave(target)

	c.mu.Lock()
	if c.inflight[p] > 0 {
		c.inflight[p]--
	}
	c.mu.Unlock()

	c.pendingMu.Lock()
	pend, ok := c.pendingCIDs[target.KeyString()]
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	pend.mu.Lock()
	pend.tried[p] = true
	if pw, ok := pend.attempts[p]; ok {
		pw.exhausted = true
	}
	pend.mu.Unlock()
}

// OnBlock implements spec.md §4.7 step 6: the first delivery for a CID
// cancels every other outstanding want for it and satisfies every
// waiter exactly once, across every session.
func (c *Coordinator) OnBlock(ctx context.Context, from peer.ID, b blocks.Block) {
	if from != "" {
		c.ledgerFor(from).RecordDelivered(b.Cid())
	}

	c.pendingMu.Lock()
	pend, ok := c.pendingCIDs[b.Cid().KeyString()]
	if ok {
		delete(c.pendingCIDs, b.Cid().KeyString())
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	pend.mu.Lock()
	if pend.delivered {
		pend.mu.Unlock()
		return
	}
	pend.delivered = true
	waiters := pend.waiters
	peers := make([]peer.ID, 0, len(pend.attempts))
	for p := range pend.attempts {
		if p != from {
			peers = append(peers, p)
		}
	}
	pend.mu.Unlock()

	_ = c.bstore.Put(ctx, b)

	for _, p := range peers {
		c.ledgerFor(p).CancelWant(b.Cid())
		delta := bsmessage.New()
		delta.AddEntry(bsmessage.Entry{Cid: b.Cid(), Cancel: true})
		c.net.Enqueue(p, delta)
	}

	for _, w := range waiters {
		w <- Result{Cid: b.Cid(), Block: b}
	}
}

// NotifyLocalBlock implements spec.md §4.7's "notification of fresh
// local blocks": when the host stores a new block outside of Bitswap
// (e.g. a UnixFS import), synthesize the same delivery path OnBlock
// would have taken, plus a HAVE gossip to any peer that had
// send_dont_have set on an inbound want for this CID.
func (c *Coordinator) NotifyLocalBlock(ctx context.Context, b blocks.Block, gossipTo func(p peer.ID)) {
	c.pendingMu.Lock()
	_, hasWaiters := c.pendingCIDs[b.Cid().KeyString()]
	c.pendingMu.Unlock()
	if hasWaiters {
		c.OnBlock(ctx, "", b)
	}

	if gossipTo == nil {
		return
	}
	c.mu.Lock()
	peers := make([]peer.ID, 0, len(c.ledgers))
	for p := range c.ledgers {
		peers = append(peers, p)
	}
	c.mu.Unlock()
	for _, p := range peers {
		gossipTo(p)
	}
}
