package network

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"corenode/bitswap/message"
	"corenode/corerr"
)

// State is the per-peer connection state spec.md §4.6 diagrams as
// DISCONNECTED → CONNECTING → READY, collapsing back to DISCONNECTED
// on close or error.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
)

// DefaultDebounce is the coalescing window spec.md §4.6 calls
// "typically 20ms".
const DefaultDebounce = 20 * time.Millisecond

// DefaultMaxWorkers bounds cross-peer concurrent sends, "typically 32".
const DefaultMaxWorkers = 32

// DefaultMaxInboundStreams bounds concurrent peer-initiated streams,
// "typically 32".
const DefaultMaxInboundStreams = 32

type peerConn struct {
	mu        sync.Mutex
	id        peer.ID
	state     State
	stream    Stream
	firstSend bool
	pending   *message.Message
	timer     *time.Timer
	sendMu    sync.Mutex // held for the whole of one flush, so sends to this peer never overlap
}

// Engine is the C6 network engine: it owns one peerConn per peer,
// dispatches inbound messages, and serializes/debounces outbound sends.
type Engine struct {
	net Network

	mu    sync.Mutex
	conns map[peer.ID]*peerConn

	debounce     time.Duration
	sem          chan struct{}
	inboundSem   chan struct{}
	onReceive    func(p peer.ID, m *message.Message)
	onDisconnect func(p peer.ID)
}

// NewEngine builds an engine over net. onReceive is called from a
// per-peer read goroutine for every successfully decoded message;
// onDisconnect (optional) is called whenever a peer transitions back to
// Disconnected, letting the session coordinator treat its outstanding
// wants as failed-over rather than auto-retried.
func NewEngine(net Network, onReceive func(peer.ID, *message.Message), onDisconnect func(peer.ID)) *Engine {
	e := &Engine{
		net:          net,
		conns:        map[peer.ID]*peerConn{},
		debounce:     DefaultDebounce,
		sem:          make(chan struct{}, DefaultMaxWorkers),
		inboundSem:   make(chan struct{}, DefaultMaxInboundStreams),
		onReceive:    onReceive,
		onDisconnect: onDisconnect,
	}
	net.SetStreamHandler(e.handleInbound)
	return e
}

func (e *Engine) conn(p peer.ID) *peerConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.conns[p]
	if !ok {
		pc = &peerConn{id: p, state: Disconnected}
		e.conns[p] = pc
	}
	return pc
}

// State reports a peer's current connection state.
func (e *Engine) State(p peer.ID) State {
	pc := e.conn(p)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

// Connect opens an outbound stream to p, transitioning
// Disconnected → Connecting → Ready.
func (e *Engine) Connect(ctx context.Context, p peer.ID) error {
	pc := e.conn(p)

	pc.mu.Lock()
	if pc.state == Ready {
		pc.mu.Unlock()
		return nil
	}
	pc.state = Connecting
	pc.mu.Unlock()

	stream, err := e.net.OpenStream(ctx, p)
	if err != nil {
		pc.mu.Lock()
		pc.state = Disconnected
		pc.mu.Unlock()
		return corerr.Wrap(corerr.Protocol, "open stream to "+p.String(), err)
	}

	pc.mu.Lock()
	pc.state = Ready
	pc.stream = stream
	pc.firstSend = true
	pc.mu.Unlock()

	go e.readLoop(pc, stream)
	return nil
}

// handleInbound is installed as the stream handler for every Bitswap
// protocol version. A peer opening a stream at us does not by itself
// make it Ready for our outbound sends (it has no bearing on whether we
// can open a stream back), but we still read it on its own goroutine
// and attribute each message to s.RemotePeer(), so its wantlist-ledger
// state stays keyed by peer.ID like the outbound path. No peerConn is
// created or updated for an inbound stream.
func (e *Engine) handleInbound(s Stream) {
	select {
	case e.inboundSem <- struct{}{}:
	default:
		// At the ~32-stream cap: refuse rather than let an
		// unbounded number of peer-initiated streams pile up.
		s.Close()
		return
	}
	defer func() { <-e.inboundSem }()

	e.readStream(s, s.RemotePeer())
}

func (e *Engine) readLoop(pc *peerConn, s Stream) {
	e.readStream(s, pc.id)
	pc.mu.Lock()
	pc.state = Disconnected
	pc.stream = nil
	pc.mu.Unlock()
	if e.onDisconnect != nil {
		e.onDisconnect(pc.id)
	}
}

func (e *Engine) readStream(s Stream, p peer.ID) {
	for {
		m, err := message.ReadFrom(s)
		if err != nil {
			s.Close()
			return
		}
		if e.onReceive != nil {
			e.onReceive(p, m)
		}
	}
}

// Enqueue folds delta into p's coalescing send buffer. The first
// Enqueue since the last flush starts a e.debounce timer; later calls
// before it fires just add to the same pending message, so the flush
// happens on a fixed interval from the first unflushed change rather
// than resetting on every call, bounding worst-case latency.
func (e *Engine) Enqueue(p peer.ID, delta *message.Message) {
	pc := e.conn(p)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.pending == nil {
		pc.pending = message.New()
	}
	pc.pending.Wantlist = append(pc.pending.Wantlist, delta.Wantlist...)
	pc.pending.Blocks = append(pc.pending.Blocks, delta.Blocks...)
	pc.pending.BlockPresences = append(pc.pending.BlockPresences, delta.BlockPresences...)
	if delta.PendingBytes != 0 {
		pc.pending.PendingBytes = delta.PendingBytes
	}

	if pc.timer == nil {
		pc.timer = time.AfterFunc(e.debounce, func() { e.flush(pc) })
	}
}

func (e *Engine) flush(pc *peerConn) {
	pc.sendMu.Lock()
	defer pc.sendMu.Unlock()

	pc.mu.Lock()
	stream := pc.stream
	pending := pc.pending
	pc.pending = nil
	pc.timer = nil
	full := pc.firstSend
	pc.firstSend = false
	pc.mu.Unlock()

	if stream == nil || pending == nil || pending.Empty() {
		return
	}
	pending.Full = full

	e.sem <- struct{}{}
	defer func() { <-e.sem }()
	for _, part := range splitMessage(pending) {
		if _, err := part.WriteTo(stream, stream.Protocol()); err != nil {
			stream.Close()
			pc.mu.Lock()
			pc.state = Disconnected
			pc.stream = nil
			pc.mu.Unlock()
			return
		}
	}
}

// splitMessage breaks m into pieces no larger than
// message.MaxMessageSize by halving its entry/block/presence lists
// until each half's rough byte footprint fits, matching spec.md §4.6's
// "split at entry boundaries". A message with a single oversized block
// is returned as-is; WriteTo will reject it.
func splitMessage(m *message.Message) []*message.Message {
	if approxSize(m) <= message.MaxMessageSize {
		return []*message.Message{m}
	}
	if len(m.Wantlist)+len(m.Blocks)+len(m.BlockPresences) <= 1 {
		return []*message.Message{m}
	}

	a, b := halveMessage(m)
	return append(splitMessage(a), splitMessage(b)...)
}

func halveMessage(m *message.Message) (*message.Message, *message.Message) {
	a, b := message.New(), message.New()
	a.Full = m.Full

	wlMid := len(m.Wantlist) / 2
	a.Wantlist, b.Wantlist = m.Wantlist[:wlMid], m.Wantlist[wlMid:]

	blkMid := len(m.Blocks) / 2
	a.Blocks, b.Blocks = m.Blocks[:blkMid], m.Blocks[blkMid:]

	bpMid := len(m.BlockPresences) / 2
	a.BlockPresences, b.BlockPresences = m.BlockPresences[:bpMid], m.BlockPresences[bpMid:]

	return a, b
}

func approxSize(m *message.Message) int {
	n := 0
	for _, e := range m.Wantlist {
		n += e.Cid.ByteLen() + 16
	}
	for _, b := range m.Blocks {
		n += len(b.RawData()) + 16
	}
	n += len(m.BlockPresences) * 40
	return n
}

// Close transitions p to Disconnected, closing its stream if open.
func (e *Engine) Close(p peer.ID) {
	pc := e.conn(p)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.stream != nil {
		pc.stream.Close()
		pc.stream = nil
	}
	if pc.timer != nil {
		pc.timer.Stop()
		pc.timer = nil
	}
	pc.state = Disconnected
}
