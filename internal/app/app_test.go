package app

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/portal/internal/backend"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/realtime"
	appsync "github.com/nhle/portal/internal/sync"
	"github.com/nhle/portal/internal/ui/command"
	"github.com/nhle/portal/internal/ui/tasklist"
	"github.com/nhle/portal/tests/testutil"
)

type session struct {
	m     Model
	fx    testutil.Fixture
	alice *backend.Client
}

func newSession(t *testing.T) *session {
	t.Helper()
	ctx := context.Background()

	s := testutil.NewTestStore(t)
	fx := testutil.Seed(t, s)
	broker := realtime.NewBroker(zerolog.Nop())
	s.SetChangeSink(broker)

	alice, err := backend.NewLocal(ctx, s, broker, fx.Alice.ID, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { alice.Close() })

	bob, err := backend.NewLocal(ctx, s, broker, fx.Bob.ID, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { bob.Close() })

	cfg := &model.AppConfig{
		Notifications: model.NotificationsConfig{Limit: 10},
		Comments:      model.CommentsConfig{Capacity: 100},
	}
	m := New(bob, cfg, zerolog.Nop())
	t.Cleanup(func() { m.quit() })

	return &session{m: m, fx: fx, alice: alice}
}

func (s *session) update(msg tea.Msg) tea.Cmd {
	next, cmd := s.m.Update(msg)
	s.m = next.(Model)
	return cmd
}

func TestInboxUnreadReachesHeader(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.alice.Directory.AssignTask(ctx, s.fx.Task.ID, s.fx.Bob.ID))

	s.m.initInbox()()
	s.update(appsync.ChangedMsg{Source: sourceInbox})
	s.update(tea.WindowSizeMsg{Width: 120, Height: 30})

	assert.Equal(t, 1, s.m.unread)
	assert.Contains(t, s.m.View(), "[1 new]")

	id := s.m.inbox.Snapshot().Records[0].ID
	res := s.m.markRead(id)().(resultMsg)
	require.NoError(t, res.err)
	s.update(appsync.ChangedMsg{Source: sourceInbox})
	assert.Equal(t, 0, s.m.unread)
}

func TestOpenTaskAndComment(t *testing.T) {
	s := newSession(t)

	cmd := s.update(tasklist.SelectedTaskMsg{Task: s.fx.Task})
	require.NotNil(t, cmd)
	assert.Equal(t, ViewDetail, s.m.currentView)
	cmd()

	res := s.m.postComment("on it")().(resultMsg)
	require.NoError(t, res.err)
	s.update(appsync.ChangedMsg{Source: sourceThread})

	c, ok := s.m.detail.LastOwnComment()
	require.True(t, ok)
	assert.Equal(t, "on it", c.Body)

	res = s.m.editComment(c.ID, "done soon")().(resultMsg)
	require.NoError(t, res.err)
	assert.Equal(t, "done soon", s.m.thread.Snapshot().Records[0].Body)
}

func TestPaletteChangesTaskFilter(t *testing.T) {
	s := newSession(t)

	s.update(command.CommandMsg{Name: command.Status, Args: []string{"review"}})
	assert.Equal(t, "review", s.m.poller.Filter().Status)
	assert.Equal(t, s.fx.Bob.ID, s.m.poller.Filter().AssigneeID)

	s.update(command.CommandMsg{Name: command.All})
	assert.Empty(t, s.m.poller.Filter().AssigneeID)

	s.update(command.CommandMsg{Name: command.Notifications})
	assert.Equal(t, ViewInbox, s.m.currentView)
}
