package backend_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/portal/internal/backend"
	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/notify"
	"github.com/nhle/portal/internal/realtime"
	"github.com/nhle/portal/internal/store"
	"github.com/nhle/portal/tests/testutil"
)

func TestLocal_AssignmentReachesInbox(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	fx := testutil.Seed(t, s)

	broker := realtime.NewBroker(zerolog.Nop())
	s.SetChangeSink(broker)

	alice, err := backend.NewLocal(ctx, s, broker, fx.Alice.ID, zerolog.Nop())
	require.NoError(t, err)
	defer alice.Close()

	bob, err := backend.NewLocal(ctx, s, broker, fx.Bob.ID, zerolog.Nop())
	require.NoError(t, err)
	defer bob.Close()

	inbox := notify.New(bob.Notifications, bob.NotificationFeed, notify.DefaultLimit, zerolog.Nop())
	defer inbox.Teardown()
	require.NoError(t, inbox.Initialize(ctx, fx.Bob.ID))

	require.NoError(t, alice.Directory.AssignTask(ctx, fx.Task.ID, fx.Bob.ID))

	require.Eventually(t, func() bool { return inbox.Unread() == 1 }, 2*time.Second, 5*time.Millisecond)
	n := inbox.Snapshot().Records[0]
	assert.Equal(t, "Assigned to you: "+fx.Task.Title, n.Message)
	assert.Equal(t, fx.Task.Title, n.TaskTitle)
}

func TestLocal_FetchHonoursOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	fx := testutil.Seed(t, s)
	broker := realtime.NewBroker(zerolog.Nop())

	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.CreateNotification(ctx, model.Notification{
			UserID:    fx.Bob.ID,
			Kind:      model.NotificationTaskStatus,
			Message:   "update",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	client, err := backend.NewLocal(ctx, s, broker, fx.Bob.ID, zerolog.Nop())
	require.NoError(t, err)

	got, err := client.Notifications.Fetch(ctx, live.Query{
		Table:     model.TableNotifications,
		SubjectID: fx.Bob.ID,
		Order:     live.NewestFirst,
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].CreatedAt.After(got[1].CreatedAt))
	assert.True(t, base.Add(2*time.Minute).Equal(got[0].CreatedAt))
}

func TestLocal_UnknownEmployee(t *testing.T) {
	s := testutil.NewTestStore(t)
	_, err := backend.NewLocal(context.Background(), s, realtime.NewBroker(zerolog.Nop()), "nobody", zerolog.Nop())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRealtimeURL(t *testing.T) {
	u, err := backend.RealtimeURL("https://portal.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "wss://portal.example.com/realtime", u)

	u, err = backend.RealtimeURL("http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/realtime", u)

	_, err = backend.RealtimeURL("ftp://nope")
	assert.Error(t, err)
}
