package blockstore

import (
	"bytes"
	"context"
	"testing"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	badger4 "github.com/ipfs/go-ds-badger4"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corenode/corerr"
	corestore "corenode/datastore"
)

func newTestBlockstore(t *testing.T) Blockstore {
	t.Helper()
	ds, err := corestore.NewBadger(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return New(ds)
}

func blockFrom(t *testing.T, data []byte) blocks.Block {
	t.Helper()
	h, err := multihash.Sum(data, multihash.SHA2_256, -1)
	require.NoError(t, err)
	c := cid.NewCidV1(cid.Raw, h)
	b, err := blocks.NewBlockWithCid(data, c)
	require.NoError(t, err)
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	bs := newTestBlockstore(t)
	ctx := context.Background()

	b := blockFrom(t, []byte("hello block"))
	require.NoError(t, bs.Put(ctx, b))

	got, err := bs.Get(ctx, b.Cid())
	require.NoError(t, err)
	assert.Equal(t, b.RawData(), got.RawData())
	assert.True(t, b.Cid().Equals(got.Cid()))
}

func TestGetMissingIsNotFound(t *testing.T) {
	bs := newTestBlockstore(t)
	ctx := context.Background()

	missing := blockFrom(t, []byte("never stored"))
	_, err := bs.Get(ctx, missing.Cid())
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.NotFound))
}

func TestPutGetRoundTripBlake3(t *testing.T) {
	bs := newTestBlockstore(t)
	ctx := context.Background()

	blk, err := NewRawBlock([]byte("blake3 payload"), multihash.BLAKE3)
	require.NoError(t, err)

	require.NoError(t, bs.Put(ctx, blk))
	got, err := bs.Get(ctx, blk.Cid())
	require.NoError(t, err)
	assert.Equal(t, blk.RawData(), got.RawData())
}

func TestPutRejectsBlake3HashMismatch(t *testing.T) {
	bs := newTestBlockstore(t)
	ctx := context.Background()

	good, err := NewRawBlock([]byte("payload"), multihash.BLAKE3)
	require.NoError(t, err)
	bogus, err := NewRawBlock([]byte("different payload"), multihash.BLAKE3)
	require.NoError(t, err)

	tampered, err := blocks.NewBlockWithCid(good.RawData(), bogus.Cid())
	require.NoError(t, err)

	err = bs.Put(ctx, tampered)
	assert.Error(t, err)
}

func TestPutRejectsHashMismatch(t *testing.T) {
	bs := newTestBlockstore(t)
	ctx := context.Background()

	good := blockFrom(t, []byte("payload"))
	bogusCid := blockFrom(t, []byte("different payload")).Cid()
	tampered, err := blocks.NewBlockWithCid(good.RawData(), bogusCid)
	require.NoError(t, err)

	err = bs.Put(ctx, tampered)
	assert.Error(t, err)
}

func TestPutManyAndHas(t *testing.T) {
	bs := newTestBlockstore(t)
	ctx := context.Background()

	var batch []blocks.Block
	for i := 0; i < 5; i++ {
		batch = append(batch, blockFrom(t, []byte{byte(i), byte(i + 1)}))
	}
	require.NoError(t, bs.PutMany(ctx, batch))

	for _, b := range batch {
		ok, err := bs.Has(ctx, b.Cid())
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestDeleteBlock(t *testing.T) {
	bs := newTestBlockstore(t)
	ctx := context.Background()

	b := blockFrom(t, []byte("to be deleted"))
	require.NoError(t, bs.Put(ctx, b))
	require.NoError(t, bs.DeleteBlock(ctx, b.Cid()))

	ok, err := bs.Has(ctx, b.Cid())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestView(t *testing.T) {
	bs := newTestBlockstore(t)
	ctx := context.Background()

	b := blockFrom(t, []byte("viewed data"))
	require.NoError(t, bs.Put(ctx, b))

	var seen []byte
	err := bs.View(ctx, b.Cid(), func(data []byte) error {
		seen = append([]byte(nil), data...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, b.RawData(), seen)
}

func TestIterate(t *testing.T) {
	bs := newTestBlockstore(t)
	ctx := context.Background()

	want := map[string]bool{}
	for i := 0; i < 3; i++ {
		b := blockFrom(t, []byte{byte(10 + i)})
		require.NoError(t, bs.Put(ctx, b))
		want[b.Cid().String()] = true
	}

	out, errc := bs.Iterate(ctx)
	got := map[string]bool{}
	for b := range out {
		got[b.Cid().String()] = true
	}
	require.NoError(t, <-errc)
	assert.Equal(t, want, got)
}

func TestExportImportCARV2RoundTrip(t *testing.T) {
	bs := newTestBlockstore(t)
	ctx := context.Background()

	b := blockFrom(t, []byte("car payload"))
	require.NoError(t, bs.Put(ctx, b))

	var buf bytes.Buffer
	require.NoError(t, bs.ExportCARV2(ctx, []cid.Cid{b.Cid()}, &buf))
	assert.Greater(t, buf.Len(), 0)

	bs2 := newTestBlockstore(t)
	roots, err := bs2.ImportCARV2(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Contains(t, roots, b.Cid())

	got, err := bs2.Get(ctx, b.Cid())
	require.NoError(t, err)
	assert.Equal(t, b.RawData(), got.RawData())
}

func TestClose(t *testing.T) {
	bs := newTestBlockstore(t)
	assert.NoError(t, bs.Close())
}
