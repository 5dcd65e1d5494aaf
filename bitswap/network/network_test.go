package network

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/test"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corenode/bitswap/message"
)

// pipeStream is an in-memory Stream backed by an io.Pipe, letting two
// memNetwork instances talk to each other without a real transport.
type pipeStream struct {
	io.Reader
	io.Writer
	io.Closer
	proto  protocol.ID
	remote peer.ID
}

func (s pipeStream) Protocol() protocol.ID { return s.proto }
func (s pipeStream) RemotePeer() peer.ID   { return s.remote }

// memNetwork is an in-memory Network double: OpenStream against another
// memNetwork synchronously invokes the peer's registered handler on a
// matching pipe, exactly like two libp2p hosts negotiating a stream.
type memNetwork struct {
	mu      sync.Mutex
	id      peer.ID
	peers   map[peer.ID]*memNetwork
	handler func(Stream)
}

func newMemNetwork(t *testing.T) *memNetwork {
	t.Helper()
	id, err := test.RandPeerID()
	require.NoError(t, err)
	return &memNetwork{id: id, peers: map[peer.ID]*memNetwork{}}
}

func link(a, b *memNetwork) {
	a.peers[b.id] = b
	b.peers[a.id] = a
}

func (n *memNetwork) OpenStream(ctx context.Context, p peer.ID) (Stream, error) {
	remote, ok := n.peers[p]
	if !ok {
		return nil, context.DeadlineExceeded
	}

	r1, w1 := io.Pipe() // n -> remote
	r2, w2 := io.Pipe() // remote -> n

	go func() {
		remote.mu.Lock()
		h := remote.handler
		remote.mu.Unlock()
		if h != nil {
			h(pipeStream{Reader: r1, Writer: w2, Closer: r1, proto: message.ProtocolV1_2_0, remote: n.id})
		}
	}()

	return pipeStream{Reader: r2, Writer: w1, Closer: w1, proto: message.ProtocolV1_2_0, remote: p}, nil
}

func (n *memNetwork) Connected(p peer.ID) bool {
	_, ok := n.peers[p]
	return ok
}

func (n *memNetwork) SetStreamHandler(handler func(Stream)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = handler
}

func (n *memNetwork) PeerID() peer.ID { return n.id }

func testCID(t *testing.T, seed string) cid.Cid {
	t.Helper()
	h, err := multihash.Sum([]byte(seed), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, h)
}

func TestConnectTransitionsToReady(t *testing.T) {
	a, b := newMemNetwork(t), newMemNetwork(t)
	link(a, b)

	eb := NewEngine(b, func(peer.ID, *message.Message) {}, nil)
	_ = eb
	ea := NewEngine(a, func(peer.ID, *message.Message) {}, nil)

	require.Equal(t, Disconnected, ea.State(b.id))
	require.NoError(t, ea.Connect(context.Background(), b.id))
	assert.Equal(t, Ready, ea.State(b.id))
}

func TestEnqueueDebouncesAndDelivers(t *testing.T) {
	a, b := newMemNetwork(t), newMemNetwork(t)
	link(a, b)

	received := make(chan *message.Message, 4)
	eb := NewEngine(b, func(_ peer.ID, m *message.Message) { received <- m }, nil)
	_ = eb
	ea := NewEngine(a, func(peer.ID, *message.Message) {}, nil)
	ea.debounce = 5 * time.Millisecond

	require.NoError(t, ea.Connect(context.Background(), b.id))

	c := testCID(t, "x")
	delta := message.New()
	delta.AddEntry(message.Entry{Cid: c, Priority: 1, WantType: message.WantBlock})
	ea.Enqueue(b.id, delta)

	select {
	case m := <-received:
		require.Len(t, m.Wantlist, 1)
		assert.True(t, m.Wantlist[0].Cid.Equals(c))
		assert.True(t, m.Full, "first send on a fresh connection must be full")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced message")
	}
}

func TestEnqueueCoalescesMultipleDeltasIntoOneSend(t *testing.T) {
	a, b := newMemNetwork(t), newMemNetwork(t)
	link(a, b)

	received := make(chan *message.Message, 4)
	eb := NewEngine(b, func(_ peer.ID, m *message.Message) { received <- m }, nil)
	_ = eb
	ea := NewEngine(a, func(peer.ID, *message.Message) {}, nil)
	ea.debounce = 30 * time.Millisecond

	require.NoError(t, ea.Connect(context.Background(), b.id))

	c1, c2 := testCID(t, "y1"), testCID(t, "y2")
	d1, d2 := message.New(), message.New()
	d1.AddEntry(message.Entry{Cid: c1, Priority: 1, WantType: message.WantBlock})
	d2.AddEntry(message.Entry{Cid: c2, Priority: 1, WantType: message.WantBlock})
	ea.Enqueue(b.id, d1)
	ea.Enqueue(b.id, d2)

	select {
	case m := <-received:
		assert.Len(t, m.Wantlist, 2, "both deltas should have coalesced into a single message")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coalesced message")
	}

	select {
	case <-received:
		t.Fatal("expected only one flushed message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseTransitionsToDisconnected(t *testing.T) {
	a, b := newMemNetwork(t), newMemNetwork(t)
	link(a, b)

	ea := NewEngine(a, func(peer.ID, *message.Message) {}, nil)
	eb := NewEngine(b, func(peer.ID, *message.Message) {}, nil)
	_ = eb

	require.NoError(t, ea.Connect(context.Background(), b.id))
	require.Equal(t, Ready, ea.State(b.id))

	ea.Close(b.id)
	assert.Equal(t, Disconnected, ea.State(b.id))
}

func TestSplitMessageRespectsMaxSize(t *testing.T) {
	m := message.New()
	big := make([]byte, message.MaxMessageSize/2)
	for i := 0; i < 3; i++ {
		h, err := multihash.Sum(append(big, byte(i)), multihash.SHA2_256, -1)
		require.NoError(t, err)
		c := cid.NewCidV1(cid.Raw, h)
		data := append([]byte{}, big...)
		blk, err := blocks.NewBlockWithCid(data, c)
		require.NoError(t, err)
		m.AddBlock(blk)
	}

	parts := splitMessage(m)
	assert.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, approxSize(p), message.MaxMessageSize)
	}
}
