package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/naoTimesdev/naotimes-og/internal/archive"
)

func TestPublishRecordsNotifications(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id, err := pub.Publish(ctx, "og-renders", archive.Notification{ID: "a", Kind: "UserCard", Bytes: 10})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	id, err = pub.Publish(ctx, "og-renders", archive.Notification{ID: "b", Kind: "OGImage"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "og-renders", msgs[0].Topic)
	require.Equal(t, 10, msgs[0].Notification.Bytes)

	og := pub.ByKind("OGImage")
	require.Len(t, og, 1)
	require.Equal(t, "b", og[0].Notification.ID)
	require.Empty(t, pub.ByKind("Thumb"))

	msgs[0].Topic = "changed"
	require.Equal(t, "og-renders", pub.Messages()[0].Topic)
}

func TestPublishDropsOldestPastLimit(t *testing.T) {
	t.Parallel()

	pub := NewWithLimit(2)
	for _, id := range []string{"a", "b", "c"} {
		_, err := pub.Publish(context.Background(), "t", archive.Notification{ID: id})
		require.NoError(t, err)
	}

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "b", msgs[0].Notification.ID)
	require.Equal(t, "memory-3", msgs[1].ID)
}

func TestPublishHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "t", archive.Notification{ID: "x"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, DefaultLimit, NewWithLimit(0).limit)
}
