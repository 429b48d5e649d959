package notify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/live/livetest"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/notify"
)

var base = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func notification(id, user string, minute int, read bool) model.Notification {
	return model.Notification{
		ID:        id,
		UserID:    user,
		Kind:      model.NotificationTaskAssigned,
		Message:   "notification " + id,
		Read:      read,
		CreatedAt: base.Add(time.Duration(minute) * time.Minute),
	}
}

func newFeed(t *testing.T, seed ...model.Notification) (*notify.Feed, *livetest.Remote[model.Notification, model.NotificationPatch], *livetest.Feed[model.Notification]) {
	t.Helper()
	remote := livetest.NewRemote[model.Notification, model.NotificationPatch](seed...)
	source := livetest.NewFeed[model.Notification]()
	feed := notify.New(remote, source, notify.DefaultLimit, zerolog.Nop())
	t.Cleanup(feed.Teardown)
	return feed, remote, source
}

func recordIDs(records []model.Notification) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestFeed_OrdersNewestFirst(t *testing.T) {
	feed, _, _ := newFeed(t,
		notification("n3", "u1", 3, false),
		notification("n1", "u1", 1, false),
		notification("n2", "u1", 2, false),
	)

	require.NoError(t, feed.Initialize(context.Background(), "u1"))
	assert.Equal(t, []string{"n3", "n2", "n1"}, recordIDs(feed.Snapshot().Records))
}

func TestFeed_HoldsMostRecentTen(t *testing.T) {
	var seed []model.Notification
	for i := 1; i <= 12; i++ {
		seed = append(seed, notification(string(rune('a'+i)), "u1", i, false))
	}
	feed, _, source := newFeed(t, seed...)

	require.NoError(t, feed.Initialize(context.Background(), "u1"))
	snap := feed.Snapshot()
	require.Len(t, snap.Records, 10)
	assert.Equal(t, seed[11].ID, snap.Records[0].ID)

	source.Push(notification("z", "u1", 20, false))
	snap = feed.Snapshot()
	require.Len(t, snap.Records, 10)
	assert.Equal(t, "z", snap.Records[0].ID)
	assert.Equal(t, seed[3].ID, snap.Records[9].ID)
}

func TestFeed_UnreadCount(t *testing.T) {
	feed, _, source := newFeed(t,
		notification("n1", "u1", 1, true),
		notification("n2", "u1", 2, false),
	)
	require.NoError(t, feed.Initialize(context.Background(), "u1"))
	assert.Equal(t, 1, feed.Unread())

	source.Push(notification("n3", "u1", 3, false))
	assert.Equal(t, 2, feed.Unread())
}

func TestFeed_MarkRead(t *testing.T) {
	feed, remote, _ := newFeed(t,
		notification("n1", "u1", 1, false),
		notification("n2", "u1", 2, false),
	)
	require.NoError(t, feed.Initialize(context.Background(), "u1"))

	require.NoError(t, feed.MarkRead(context.Background(), "n1"))
	assert.Equal(t, 1, feed.Unread())

	stored, _ := remote.Get("n1")
	assert.True(t, stored.Read)
}

func TestFeed_MarkReadTwiceConcurrentlyFloorsAtZero(t *testing.T) {
	feed, _, _ := newFeed(t, notification("n1", "u1", 1, false))
	require.NoError(t, feed.Initialize(context.Background(), "u1"))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, feed.MarkRead(context.Background(), "n1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, feed.Unread())

	require.NoError(t, feed.MarkRead(context.Background(), "n1"))
	assert.Equal(t, 0, feed.Unread())
}

func TestFeed_MarkReadFailureKeepsUnread(t *testing.T) {
	feed, remote, _ := newFeed(t, notification("n1", "u1", 1, false))
	require.NoError(t, feed.Initialize(context.Background(), "u1"))
	remote.UpdateErr = livetest.ErrUnavailable

	err := feed.MarkRead(context.Background(), "n1")
	require.Error(t, err)
	assert.True(t, live.IsRemoteUpdateError(err))
	assert.Equal(t, 1, feed.Unread())
}

func TestFeed_MarkAllRead(t *testing.T) {
	feed, remote, _ := newFeed(t,
		notification("n1", "u1", 1, false),
		notification("n2", "u1", 2, true),
		notification("n3", "u1", 3, false),
	)
	require.NoError(t, feed.Initialize(context.Background(), "u1"))

	require.NoError(t, feed.MarkAllRead(context.Background()))
	assert.Equal(t, 0, feed.Unread())
	assert.Equal(t, int32(2), remote.Updates.Load())
}

func TestFeed_NewNotificationsArriveOnlyByPush(t *testing.T) {
	feed, remote, source := newFeed(t)
	require.NoError(t, feed.Initialize(context.Background(), "u1"))

	remote.Add(notification("n1", "u1", 1, false))
	assert.Empty(t, feed.Snapshot().Records)

	source.Push(notification("n1", "u1", 1, false))
	source.Push(notification("n1", "u1", 1, false))
	assert.Equal(t, []string{"n1"}, recordIDs(feed.Snapshot().Records))
}

func TestPolicy(t *testing.T) {
	p := notify.Policy(0)
	assert.Equal(t, notify.DefaultLimit, p.Limit)
	assert.Equal(t, notify.DefaultLimit, p.Capacity)
	assert.Equal(t, live.NewestFirst, p.Order)
	assert.Equal(t, live.ConfirmByPush, p.Confirm)
	assert.Equal(t, model.TableNotifications, p.Table)
}
