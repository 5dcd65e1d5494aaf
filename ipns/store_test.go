package ipns

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutGetByRoutingKeyAndKeyName(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "ipns.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	rec := StoredRecord{
		KeyName:        "self",
		RoutingKey:     "rk-1",
		Raw:            []byte("record-bytes"),
		Sequence:       3,
		RepublishAfter: time.Now().Add(time.Hour),
	}
	require.NoError(t, store.Put(ctx, rec))

	got, ok, err := store.Get(ctx, "rk-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Raw, got.Raw)

	got2, ok, err := store.GetByKeyName(ctx, "self")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), got2.Sequence)
}

func TestStoreDueFiltersByRepublishAfter(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "ipns.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Put(ctx, StoredRecord{
		KeyName: "due", RoutingKey: "rk-due", Raw: []byte("a"), RepublishAfter: now.Add(-time.Minute),
	}))
	require.NoError(t, store.Put(ctx, StoredRecord{
		KeyName: "future", RoutingKey: "rk-future", Raw: []byte("b"), RepublishAfter: now.Add(time.Hour),
	}))

	due, err := store.Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].KeyName)
}

func TestStoreDelete(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "ipns.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, StoredRecord{
		KeyName: "gone", RoutingKey: "rk-gone", Raw: []byte("x"), RepublishAfter: time.Now(),
	}))
	require.NoError(t, store.Delete(ctx, "gone"))

	_, ok, err := store.GetByKeyName(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}
