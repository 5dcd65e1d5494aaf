package ipns

import (
	"testing"
	"time"

	"github.com/ipfs/boxo/ipns"
	"github.com/ipfs/go-cid"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCid(t *testing.T, seed string) cid.Cid {
	t.Helper()
	h, err := multihash.Sum([]byte(seed), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, h)
}

func TestSignMarshalUnmarshalRoundTrip(t *testing.T) {
	sk, _, err := ic.GenerateEd25519Key(nil)
	require.NoError(t, err)

	value := testCid(t, "hello")
	rec, err := Sign(sk, value, 0, time.Now().Add(time.Hour), 5*time.Minute)
	require.NoError(t, err)

	raw, err := Marshal(rec)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(raw), MaxRecordSize)

	got, err := Unmarshal(raw)
	require.NoError(t, err)

	gotSeq, err := got.Sequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), gotSeq)
}

func TestValidateAcceptsOwnSignature(t *testing.T) {
	sk, _, err := ic.GenerateEd25519Key(nil)
	require.NoError(t, err)
	pub := sk.GetPublic()

	pid, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)
	name := NameFromPeer(pid)

	rec, err := Sign(sk, testCid(t, "x"), 0, time.Now().Add(time.Hour), time.Minute)
	require.NoError(t, err)

	assert.NoError(t, Validate(rec, name))
}

func TestSelectBestPicksHighestSequence(t *testing.T) {
	sk, _, err := ic.GenerateEd25519Key(nil)
	require.NoError(t, err)

	low, err := Sign(sk, testCid(t, "a"), 1, time.Now().Add(time.Hour), time.Minute)
	require.NoError(t, err)
	high, err := Sign(sk, testCid(t, "a"), 2, time.Now().Add(time.Hour), time.Minute)
	require.NoError(t, err)

	best, err := SelectBest([]*ipns.Record{low, high})
	require.NoError(t, err)

	seq, err := best.Sequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
}
