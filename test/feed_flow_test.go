package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailtrail/internal/api"
	"tailtrail/internal/connectivity"
	"tailtrail/internal/feed"
	"tailtrail/internal/models"
	"tailtrail/internal/session"
	"tailtrail/internal/store"
)

func TestIntegration_FeedPaginationToExhaustion(t *testing.T) {
	b := startBackend(t)
	b.seedPosts(5)
	sess, client := newClientStack(t, b, nil)
	ctx := context.Background()

	require.NoError(t, sess.Signup(ctx, "finder@example.com", "pw", ""))

	engine := feed.NewEngine(client, sess, feed.Options{PageSize: 5})
	require.NoError(t, engine.Refresh(ctx))

	assert.Len(t, engine.Posts(), 5)
	assert.Equal(t, feed.Cursor{Page: 2, Size: 5}, engine.Cursor())

	// The next page is explicitly empty; that and only that exhausts the feed.
	require.NoError(t, engine.LoadMore(ctx))
	assert.True(t, engine.Cursor().Exhausted)
	assert.Len(t, engine.Posts(), 5)

	require.NoError(t, engine.LoadMore(ctx))
	assert.Len(t, engine.Posts(), 5, "no fetch happens after exhaustion")
}

func TestIntegration_FeedLikeRoundTrip(t *testing.T) {
	b := startBackend(t)
	b.seedPosts(2)
	sess, client := newClientStack(t, b, nil)
	ctx := context.Background()

	require.NoError(t, sess.Signup(ctx, "finder@example.com", "pw", ""))

	engine := feed.NewEngine(client, sess, feed.Options{PageSize: 10})
	require.NoError(t, engine.Refresh(ctx))
	postID := engine.Posts()[0].ID

	engine.ToggleLike(ctx, postID)
	assert.True(t, engine.Liked(postID), "optimistic flip is immediate")

	require.Eventually(t, func() bool { return b.likeCallCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	// A later refresh reflects the server-side like.
	require.NoError(t, engine.Refresh(ctx))
	assert.True(t, engine.Posts()[0].IsLiked)
	assert.Equal(t, 1, engine.Posts()[0].LikesCount)
}

func TestIntegration_FeedOfflineSnapshot(t *testing.T) {
	b := startBackend(t)
	b.seedPosts(4)
	ctx := context.Background()

	local, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	monitor := connectivity.NewManual(true, connectivity.KindWireless)
	sess := session.NewStore(local, nil)
	client, err := api.NewClient(api.Options{
		BaseURL:       b.BaseURL,
		Tokens:        sess,
		Online:        monitor.Online,
		OnAuthExpired: sess.ExpireSession,
	})
	require.NoError(t, err)
	sess.AttachAPI(client)

	require.NoError(t, sess.Signup(ctx, "finder@example.com", "pw", ""))

	engine := feed.NewEngine(client, sess, feed.Options{PageSize: 10, Snapshots: local})
	require.NoError(t, engine.Refresh(ctx))
	require.Len(t, engine.Posts(), 4)

	// Device goes offline; a fresh engine serves the snapshot.
	monitor.Set(false, connectivity.KindNone)
	cold := feed.NewEngine(client, sess, feed.Options{PageSize: 10, Snapshots: local})
	require.NoError(t, cold.LoadCached())
	assert.Len(t, cold.Posts(), 4)

	err = cold.Refresh(ctx)
	assert.True(t, models.IsCode(err, models.CodeNoConnectivity))
	assert.Len(t, cold.Posts(), 0, "refresh reset the list and the reload failed")
}

func TestIntegration_FeedFilterProjection(t *testing.T) {
	b := startBackend(t)
	b.seedPosts(8) // species cycle dog,cat,bird,other
	sess, client := newClientStack(t, b, nil)
	ctx := context.Background()

	require.NoError(t, sess.Signup(ctx, "finder@example.com", "pw", ""))

	engine := feed.NewEngine(client, sess, feed.Options{PageSize: 10})
	require.NoError(t, engine.Refresh(ctx))
	require.Len(t, engine.Posts(), 8)

	dogs := engine.Filtered(models.SpeciesDog, "")
	assert.Len(t, dogs, 2)
	for _, p := range dogs {
		assert.Equal(t, models.SpeciesDog, p.Species)
	}
	assert.Len(t, engine.Posts(), 8, "filtering never mutates the list")
}
