package wantlist

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corenode/bitswap/message"
)

func testCID(t *testing.T, seed string) cid.Cid {
	t.Helper()
	h, err := multihash.Sum([]byte(seed), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, h)
}

func TestAddWantEffectiveOutbound(t *testing.T) {
	l := New()
	c := testCID(t, "a")
	l.AddWant(c, 1, message.WantBlock)

	eff := l.EffectiveOutbound()
	require.Len(t, eff, 1)
	assert.True(t, eff[0].Cid.Equals(c))
	assert.False(t, eff[0].CancelPending)
}

func TestCancelAlreadyCancelledIsNoop(t *testing.T) {
	l := New()
	c := testCID(t, "b")
	l.AddWant(c, 1, message.WantBlock)
	l.CancelWant(c)
	l.DrainDirtyOutbound()

	l.CancelWant(c)
	// A second cancel on an already-pending-cancel entry must not mark
	// it dirty again.
	assert.Empty(t, l.DrainDirtyOutbound())
}

func TestCancelRemovesFromEffectiveOutbound(t *testing.T) {
	l := New()
	c := testCID(t, "c")
	l.AddWant(c, 1, message.WantBlock)
	l.CancelWant(c)

	assert.Empty(t, l.EffectiveOutbound())
}

func TestRecordDeliveredIsTerminal(t *testing.T) {
	l := New()
	c := testCID(t, "d")
	l.AddWant(c, 1, message.WantBlock)
	l.RecordDelivered(c)

	assert.Empty(t, l.EffectiveOutbound())
}

func TestRecordDontHaveIsTerminal(t *testing.T) {
	l := New()
	c := testCID(t, "e")
	l.AddWant(c, 1, message.WantHave)
	l.RecordDontHave(c)

	assert.Empty(t, l.EffectiveOutbound())
}

func TestUpgradeFromHaveRequestsBlock(t *testing.T) {
	l := New()
	c := testCID(t, "f")
	l.AddWant(c, 1, message.WantHave)
	l.DrainDirtyOutbound()

	l.RecordHave(c)
	// state Have is not terminal: the want is still outstanding.
	eff := l.EffectiveOutbound()
	require.Len(t, eff, 1)
	assert.Equal(t, Have, eff[0].State)

	l.AddWant(c, 1, message.WantBlock)
	dirty := l.DrainDirtyOutbound()
	require.Len(t, dirty, 1)
	assert.Equal(t, Pending, dirty[0].State)
	assert.Equal(t, message.WantBlock, dirty[0].WantType)
	assert.True(t, l.RecentlyHad(c))
}

func TestInboundWantsTracked(t *testing.T) {
	l := New()
	c := testCID(t, "g")
	l.OnPeerWants(c, true, false)

	dirty := l.DrainDirtyInbound()
	require.Len(t, dirty, 1)
	assert.True(t, dirty[0].SendDontHave)

	l.OnPeerWants(c, true, true)
	assert.Empty(t, l.DrainDirtyInbound())
}
