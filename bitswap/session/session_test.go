package session

import (
	"context"
	"sync"
	"testing"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/test"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bsmessage "corenode/bitswap/message"
	bsnetwork "corenode/bitswap/network"
	"corenode/corerr"
)

type fakeBlockstore struct {
	mu sync.Mutex
	m  map[string]blocks.Block
}

func newFakeBlockstore() *fakeBlockstore { return &fakeBlockstore{m: map[string]blocks.Block{}} }

func (f *fakeBlockstore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.m[c.KeyString()]
	if !ok {
		return nil, corerr.New(corerr.NotFound, c.String())
	}
	return b, nil
}

func (f *fakeBlockstore) Put(ctx context.Context, b blocks.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[b.Cid().KeyString()] = b
	return nil
}

type sentEntry struct {
	peer  peer.ID
	entry bsmessage.Entry
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentEntry
}

func newFakeSender() *fakeSender { return &fakeSender{} }

func (f *fakeSender) Connect(ctx context.Context, p peer.ID) error { return nil }

func (f *fakeSender) Enqueue(p peer.ID, delta *bsmessage.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range delta.Wantlist {
		f.sent = append(f.sent, sentEntry{peer: p, entry: e})
	}
}

func (f *fakeSender) State(p peer.ID) bsnetwork.State { return bsnetwork.Ready }

func (f *fakeSender) snapshot() []sentEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentEntry, len(f.sent))
	copy(out, f.sent)
	return out
}

func testCID(t *testing.T, seed string) cid.Cid {
	t.Helper()
	h, err := multihash.Sum([]byte(seed), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, h)
}

func testBlock(t *testing.T, data []byte) blocks.Block {
	t.Helper()
	h, err := multihash.Sum(data, multihash.SHA2_256, -1)
	require.NoError(t, err)
	b, err := blocks.NewBlockWithCid(data, cid.NewCidV1(cid.Raw, h))
	require.NoError(t, err)
	return b
}

func randPeer(t *testing.T) peer.ID {
	t.Helper()
	p, err := test.RandPeerID()
	require.NoError(t, err)
	return p
}

func TestGetOneLocalHit(t *testing.T) {
	bstore := newFakeBlockstore()
	blk := testBlock(t, []byte("hello"))
	require.NoError(t, bstore.Put(context.Background(), blk))

	c := New(bstore, nil, newFakeSender())
	s := c.NewSession()

	got, err := s.GetOne(context.Background(), blk.Cid())
	require.NoError(t, err)
	assert.Equal(t, blk.Cid(), got.Cid())
}

func TestGetOneDeliveredByOnBlock(t *testing.T) {
	bstore := newFakeBlockstore()
	sender := newFakeSender()
	c := New(bstore, nil, sender)

	p := randPeer(t)
	c.AddConnectedPeer(p)

	s := c.NewSession(WithTimeout(5 * time.Second))
	blk := testBlock(t, []byte("world"))

	resultCh := make(chan Result, 1)
	go func() {
		b, err := s.GetOne(context.Background(), blk.Cid())
		resultCh <- Result{Block: b, Err: err}
	}()

	require.Eventually(t, func() bool {
		for _, e := range sender.snapshot() {
			if e.peer == p && e.entry.Cid.Equals(blk.Cid()) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "expected a want to be sent to the connected peer")

	c.OnBlock(context.Background(), p, blk)

	select {
	case r := <-resultCh:
		require.NoError(t, r.Err)
		assert.Equal(t, blk.Cid(), r.Block.Cid())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session result")
	}

	stored, err := bstore.Get(context.Background(), blk.Cid())
	require.NoError(t, err)
	assert.Equal(t, blk.RawData(), stored.RawData())
}

func TestGetOneTimesOutWithNoCandidates(t *testing.T) {
	bstore := newFakeBlockstore()
	c := New(bstore, nil, newFakeSender())
	s := c.NewSession(WithTimeout(30*time.Millisecond), WithoutDiscovery())

	_, err := s.GetOne(context.Background(), testCID(t, "z"))
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.Timeout))
}

func TestOnHaveUpgradesToWantBlock(t *testing.T) {
	bstore := newFakeBlockstore()
	sender := newFakeSender()
	c := New(bstore, nil, sender)

	p := randPeer(t)
	c.AddConnectedPeer(p)
	target := testCID(t, "upgrade")

	s := c.NewSession(WithTimeout(2 * time.Second))
	go s.GetOne(context.Background(), target) //nolint:errcheck

	require.Eventually(t, func() bool {
		for _, e := range sender.snapshot() {
			if e.peer == p && e.entry.Cid.Equals(target) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	c.OnHave(p, target)

	require.Eventually(t, func() bool {
		for _, e := range sender.snapshot() {
			if e.peer == p && e.entry.Cid.Equals(target) && e.entry.WantType == bsmessage.WantBlock {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "expected a want_block upgrade after HAVE")
}

func TestOnDontHaveExhaustsPeer(t *testing.T) {
	bstore := newFakeBlockstore()
	sender := newFakeSender()
	c := New(bstore, nil, sender)

	p := randPeer(t)
	c.AddConnectedPeer(p)
	target := testCID(t, "exhaust")

	s := c.NewSession(WithTimeout(40 * time.Millisecond))
	done := make(chan error, 1)
	go func() {
		_, err := s.GetOne(context.Background(), target)
		done <- err
	}()

	require.Eventually(t, func() bool {
		for _, e := range sender.snapshot() {
			if e.peer == p {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	c.OnDontHave(p, target)

	err := <-done
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.Timeout))
}

func TestCancelSendsCancelEntryOnTimeout(t *testing.T) {
	bstore := newFakeBlockstore()
	sender := newFakeSender()
	c := New(bstore, nil, sender)

	p := randPeer(t)
	c.AddConnectedPeer(p)
	target := testCID(t, "cancel")

	s := c.NewSession(WithTimeout(30 * time.Millisecond))
	_, err := s.GetOne(context.Background(), target)
	require.Error(t, err)

	var sawCancel bool
	for _, e := range sender.snapshot() {
		if e.entry.Cid.Equals(target) && e.entry.Cancel {
			sawCancel = true
		}
	}
	assert.True(t, sawCancel, "expected a cancel entry after the want timed out")
}

func TestTimeoutLeavesSharedWantAliveForCoWaiter(t *testing.T) {
	bstore := newFakeBlockstore()
	sender := newFakeSender()
	c := New(bstore, nil, sender)

	p := randPeer(t)
	c.AddConnectedPeer(p)
	target := testCID(t, "co-waiter")

	fast := c.NewSession(WithTimeout(30 * time.Millisecond))
	slow := c.NewSession(WithTimeout(2 * time.Second))

	fastDone := make(chan error, 1)
	go func() {
		_, err := fast.GetOne(context.Background(), target)
		fastDone <- err
	}()

	slowResult := make(chan Result, 1)
	go func() {
		b, err := slow.GetOne(context.Background(), target)
		slowResult <- Result{Block: b, Err: err}
	}()

	// Let both sessions register a waiter on the same pending entry
	// before the fast one times out.
	require.Eventually(t, func() bool {
		for _, e := range sender.snapshot() {
			if e.peer == p && e.entry.Cid.Equals(target) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	fastErr := <-fastDone
	require.Error(t, fastErr)
	assert.True(t, corerr.Is(fastErr, corerr.Timeout))

	// The slow session's waiter must still be live: a block arriving
	// after the fast session's timeout has to reach it rather than be
	// silently dropped because the timeout path tore the shared pending
	// entry down.
	blk, err := blocks.NewBlockWithCid([]byte("co-waiter payload"), target)
	require.NoError(t, err)
	c.OnBlock(context.Background(), p, blk)

	select {
	case r := <-slowResult:
		require.NoError(t, r.Err)
		assert.Equal(t, blk.Cid(), r.Block.Cid())
	case <-time.After(2 * time.Second):
		t.Fatal("co-waiting session never received the block delivered after the other session's timeout")
	}
}
