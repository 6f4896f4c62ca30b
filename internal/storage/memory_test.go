package storage

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rng := rand.New(rand.NewSource(7))

	for _, size := range []int{1, 17, 4096, 1 << 20} {
		payload := make([]byte, size)
		rng.Read(payload)

		handle, err := store.Put(ctx, "statement.xlsx", payload, map[string]string{"owner": "u1"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(handle, "uploads/"))
		assert.True(t, strings.HasSuffix(handle, "/statement.xlsx"))

		got, err := store.Get(ctx, handle)
		require.NoError(t, err)
		assert.Equal(t, payload, got)

		meta, ok := store.Metadata(handle)
		require.True(t, ok)
		assert.Equal(t, "u1", meta["owner"])
		assert.Equal(t, Digest(payload), meta[MetaOriginalHash])
	}
}

func TestMemoryStoreCopiesInput(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	payload := []byte("date,content,amount,type\n")

	handle, err := store.Put(ctx, "a.csv", payload, nil)
	require.NoError(t, err)
	payload[0] = 'X'

	got, err := store.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, byte('d'), got[0])
}

func TestMemoryStoreRejectsEmptyPayload(t *testing.T) {
	_, err := NewMemoryStore().Put(context.Background(), "a.csv", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestMemoryStoreDetectsCorruption(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		corrupt func(*object)
		want    error
	}{
		{"flipped byte", func(o *object) { o.data[3] ^= 0xff }, ErrHashMismatch},
		{"truncated", func(o *object) { o.data = o.data[:5] }, ErrSizeMismatch},
		{"appended", func(o *object) { o.data = append(o.data, '!') }, ErrSizeMismatch},
		{"emptied", func(o *object) { o.data = nil }, ErrEmptyResult},
		{"metadata stripped", func(o *object) { o.meta = nil }, ErrMissingMetadata},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewMemoryStore()
			handle, err := store.Put(ctx, "a.csv", []byte("0123456789"), nil)
			require.NoError(t, err)

			tc.corrupt(store.objects[handle])

			got, err := store.Get(ctx, handle)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, ErrIntegrity)
		})
	}
}

func TestMemoryStoreExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	handle, err := store.Put(ctx, "a.csv", []byte("x"), nil)
	require.NoError(t, err)

	ok, err := store.Exists(ctx, handle)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, handle))
	ok, err = store.Exists(ctx, handle)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, handle)
	assert.ErrorIs(t, err, ErrContentNotFound)
	assert.NoError(t, store.Delete(ctx, handle))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "my_statement_2024.csv", SanitizeName("../../my statement 2024.csv"))
	assert.Equal(t, "report.xlsx", SanitizeName(`C:\Users\x\report.xlsx`))
	assert.Equal(t, "upload.bin", SanitizeName(""))
	assert.Equal(t, "___.csv", SanitizeName("äöü.csv"))
}
