package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "2024/01/a.UserCard.png", "image/png", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://2024/01/a.UserCard.png", uri)

	payload[0] = 'C'
	obj, ok := store.Get("2024/01/a.UserCard.png")
	require.True(t, ok)
	require.Equal(t, "content", string(obj.Data))
	require.Equal(t, "image/png", obj.ContentType)

	obj.Data[0] = 'X'
	again, _ := store.Get("2024/01/a.UserCard.png")
	require.Equal(t, "content", string(again.Data))
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), " ", "image/png", bytes.NewReader(nil))
	require.Error(t, err)
	require.Empty(t, store.Paths())

	_, ok := store.Get("missing")
	require.False(t, ok)
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b.png", "a.png"} {
		_, err := store.PutObject(context.Background(), p, "", bytes.NewReader([]byte(p)))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a.png", "b.png"}, store.Paths())
}
