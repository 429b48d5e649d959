package comments_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/portal/internal/comments"
	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/live/livetest"
	"github.com/nhle/portal/internal/model"
)

var base = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func comment(id, task string, minute int) model.Comment {
	at := base.Add(time.Duration(minute) * time.Minute)
	return model.Comment{ID: id, TaskID: task, AuthorID: "e1", Body: "comment " + id, CreatedAt: at, UpdatedAt: at}
}

func newThread(t *testing.T, seed ...model.Comment) (*comments.Thread, *livetest.Remote[model.Comment, model.CommentPatch], *livetest.Feed[model.Comment]) {
	t.Helper()
	remote := livetest.NewRemote[model.Comment, model.CommentPatch](seed...)
	source := livetest.NewFeed[model.Comment]()
	thread := comments.New(remote, source, 0, zerolog.Nop())
	t.Cleanup(thread.Teardown)
	return thread, remote, source
}

func TestThread_OrdersOldestFirst(t *testing.T) {
	thread, _, _ := newThread(t,
		comment("c3", "task-1", 3),
		comment("c1", "task-1", 1),
		comment("c2", "task-1", 2),
	)

	require.NoError(t, thread.Initialize(context.Background(), "task-1"))

	var got []string
	for _, c := range thread.Snapshot().Records {
		got = append(got, c.ID)
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, got)
}

func TestThread_PostOnEmptyTaskIsVisibleAfterRefetch(t *testing.T) {
	thread, remote, source := newThread(t)
	require.NoError(t, thread.Initialize(context.Background(), "task-42"))
	require.Empty(t, thread.Snapshot().Records)

	created, err := thread.Post(context.Background(), "e1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "task-42", created.TaskID)
	assert.NotEmpty(t, created.ID)

	snap := thread.Snapshot()
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "hi", snap.Records[0].Body)
	assert.Equal(t, int32(2), remote.Fetches.Load())

	source.Push(created)
	assert.Len(t, thread.Snapshot().Records, 1)
}

func TestThread_PostRejectsBlankBody(t *testing.T) {
	thread, remote, _ := newThread(t)
	require.NoError(t, thread.Initialize(context.Background(), "task-1"))

	_, err := thread.Post(context.Background(), "e1", "   ")
	assert.ErrorIs(t, err, comments.ErrEmptyBody)
	assert.Equal(t, int32(0), remote.Inserts.Load())
}

func TestThread_PostBeforeInitialize(t *testing.T) {
	thread, _, _ := newThread(t)

	_, err := thread.Post(context.Background(), "e1", "hi")
	assert.ErrorIs(t, err, live.ErrNotReady)
}

func TestThread_PostFailure(t *testing.T) {
	thread, remote, _ := newThread(t)
	require.NoError(t, thread.Initialize(context.Background(), "task-1"))
	remote.InsertErr = livetest.ErrUnavailable

	_, err := thread.Post(context.Background(), "e1", "hi")
	require.Error(t, err)
	assert.True(t, live.IsRemoteUpdateError(err))
	assert.Empty(t, thread.Snapshot().Records)
}

func TestThread_Edit(t *testing.T) {
	thread, remote, _ := newThread(t, comment("c1", "task-1", 1))
	require.NoError(t, thread.Initialize(context.Background(), "task-1"))

	before := time.Now().UTC()
	require.NoError(t, thread.Edit(context.Background(), "c1", "updated"))

	got, ok := thread.Snapshot().Find("c1")
	require.True(t, ok)
	assert.Equal(t, "updated", got.Body)
	assert.False(t, got.UpdatedAt.Before(before), "edit time is shown locally")
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	stored, _ := remote.Get("c1")
	assert.Equal(t, "updated", stored.Body)

	assert.ErrorIs(t, thread.Edit(context.Background(), "c1", ""), comments.ErrEmptyBody)
}

func TestThread_PushFromOtherAuthor(t *testing.T) {
	thread, _, source := newThread(t, comment("c1", "task-1", 1))
	require.NoError(t, thread.Initialize(context.Background(), "task-1"))

	source.Push(comment("c2", "task-1", 2))
	source.Push(comment("x1", "task-2", 2))

	assert.Len(t, thread.Snapshot().Records, 2)
}

func TestPolicy(t *testing.T) {
	p := comments.Policy(0)
	assert.Equal(t, comments.DefaultCapacity, p.Capacity)
	assert.Equal(t, 0, p.Limit)
	assert.Equal(t, live.OldestFirst, p.Order)
	assert.Equal(t, live.ConfirmByRefetch, p.Confirm)
}
