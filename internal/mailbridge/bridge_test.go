package mailbridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/portal/internal/mailbridge"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/store"
	"github.com/nhle/portal/tests/testutil"
)

type fakeMailbox struct {
	messages []mailbridge.Message
	seen     []uint32
	err      error
}

func (m *fakeMailbox) Unseen(context.Context) ([]mailbridge.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.messages, nil
}

func (m *fakeMailbox) MarkSeen(_ context.Context, uids []uint32) error {
	m.seen = append(m.seen, uids...)
	return nil
}

func TestBridge_PostsRepliesAsComments(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	fx := testutil.Seed(t, s)

	sent := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	mb := &fakeMailbox{messages: []mailbridge.Message{
		{UID: 1, From: "alice@example.com", Subject: "Re: [task:" + fx.Task.ID + "] Ship", Date: sent,
			Text: "Looks great\n\nOn Mon, Bob wrote:\n> please review"},
		{UID: 2, From: "stranger@example.com", Subject: "Re: [task:" + fx.Task.ID + "] Ship", Text: "hi"},
		{UID: 3, From: "alice@example.com", Subject: "Lunch?", Text: "noon"},
		{UID: 4, From: "alice@example.com", Subject: "[task:missing] x", Text: "hello"},
		{UID: 5, From: "alice@example.com", Subject: "[task:" + fx.Task.ID + "]", Text: "> quoted only"},
	}}

	bridge := mailbridge.New(mb, s, time.Minute, zerolog.Nop())
	res, err := bridge.Poll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Posted)
	assert.Equal(t, 4, res.Skipped)
	assert.ElementsMatch(t, []uint32{1, 2, 3, 4, 5}, mb.seen)

	list, err := s.ListComments(ctx, fx.Task.ID, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Looks great", list[0].Body)
	assert.Equal(t, fx.Alice.ID, list[0].AuthorID)
	assert.True(t, sent.Equal(list[0].CreatedAt))

	// Bob is the assignee, so Alice's emailed reply notifies him.
	inbox, err := s.ListNotifications(ctx, fx.Bob.ID, store.ListOptions{Desc: true})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.NotificationTaskCommented, inbox[0].Kind)
}

func TestBridge_FutureDateIsClampedToNow(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	fx := testutil.Seed(t, s)

	mb := &fakeMailbox{messages: []mailbridge.Message{
		{UID: 7, From: "alice@example.com", Subject: "Re: [task:" + fx.Task.ID + "] Ship",
			Date: time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC), Text: "from the future"},
	}}

	res, err := mailbridge.New(mb, s, time.Minute, zerolog.Nop()).Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Posted)
	after := time.Now().UTC()

	list, err := s.ListComments(ctx, fx.Task.ID, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].CreatedAt.After(after), "comment time %s is in the future", list[0].CreatedAt)

	inbox, err := s.ListNotifications(ctx, fx.Bob.ID, store.ListOptions{Desc: true})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.False(t, inbox[0].CreatedAt.After(after))
}

func TestBridge_MailboxFailure(t *testing.T) {
	s := testutil.NewTestStore(t)
	mb := &fakeMailbox{err: errors.New("connection refused")}

	_, err := mailbridge.New(mb, s, time.Minute, zerolog.Nop()).Poll(context.Background())
	assert.ErrorContains(t, err, "connection refused")
	assert.Empty(t, mb.seen)
}

func TestBridge_RunStopsOnCancel(t *testing.T) {
	s := testutil.NewTestStore(t)
	mb := &fakeMailbox{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mailbridge.New(mb, s, 10*time.Millisecond, zerolog.Nop()).Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
