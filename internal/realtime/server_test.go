package realtime_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/realtime"
)

type harness struct {
	broker *realtime.Broker
	tokens *realtime.Tokens
	url    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	broker := realtime.NewBroker(zerolog.Nop())
	tokens := realtime.NewTokens([]byte("test-secret"))
	srv := httptest.NewServer(realtime.NewServer(broker, tokens, nil, zerolog.Nop()))
	t.Cleanup(srv.Close)

	return &harness{
		broker: broker,
		tokens: tokens,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime",
	}
}

func (h *harness) dial(t *testing.T, employeeID string) *realtime.Client {
	t.Helper()

	token, err := h.tokens.Issue(employeeID, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := realtime.Dial(ctx, h.url, token, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServer_DeliversNotificationsToRecipient(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "alice")
	feed := realtime.NewFeed[model.Notification](client, zerolog.Nop())

	got := make(chan model.Notification, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := feed.Subscribe(ctx,
		live.Filter{Table: model.TableNotifications, SubjectID: "alice"},
		func(n model.Notification) { got <- n })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return h.broker.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	h.broker.Publish(model.TableNotifications, "bob", model.Notification{ID: "other", UserID: "bob"})
	h.broker.Publish(model.TableNotifications, "alice", model.Notification{
		ID:        "n1",
		UserID:    "alice",
		Kind:      model.NotificationTaskAssigned,
		Message:   "Assigned to you: Ship it",
		CreatedAt: created,
	})

	n := receive(t, got)
	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, "Assigned to you: Ship it", n.Message)
	assert.True(t, created.Equal(n.CreatedAt))
}

func TestServer_UnsubscribeReleasesBrokerSubscription(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "alice")

	sub, err := client.Subscribe(context.Background(),
		live.Filter{Table: model.TableComments, SubjectID: "task-1"},
		func(realtime.Event) {})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.broker.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sub.Unsubscribe())
	require.Eventually(t, func() bool { return h.broker.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_RejectsForeignNotificationFeed(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "alice")

	_, err := client.Subscribe(context.Background(),
		live.Filter{Table: model.TableNotifications, SubjectID: "bob"},
		func(realtime.Event) {})
	require.Error(t, err)
	assert.True(t, realtime.IsUnauthorized(err))
	assert.Equal(t, 0, h.broker.Len())
}

func TestServer_RejectsBadToken(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := realtime.Dial(ctx, h.url, "garbage", zerolog.Nop())
	require.Error(t, err)
	assert.True(t, realtime.IsUnauthorized(err))
}

func TestClient_ClosedConnectionFailsSubscribe(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "alice")
	require.NoError(t, client.Close())

	_, err := client.Subscribe(context.Background(),
		live.Filter{Table: model.TableComments, SubjectID: "task-1"},
		func(realtime.Event) {})
	assert.ErrorIs(t, err, realtime.ErrClosed)
}
