package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/store"
	"github.com/nhle/portal/internal/ui/command"
)

// actionTimeout bounds every backend call made on behalf of a key press.
const actionTimeout = 15 * time.Second

// resultMsg reports the outcome of a backend action.
type resultMsg struct {
	err          error
	notice       string
	refreshTasks bool
}

// taskResolvedMsg carries a task looked up by id, for opening from the
// inbox when it is not in the current list.
type taskResolvedMsg struct {
	task model.Task
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), actionTimeout)
}

// initInbox binds the notification feed to the signed-in employee.
// Failures are visible through the feed's own snapshot.
func (m Model) initInbox() tea.Cmd {
	inbox, me, log := m.inbox, m.client.Me.ID, m.log
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		if err := inbox.Initialize(ctx, me); err != nil && !errors.Is(err, live.ErrStale) {
			log.Error().Err(err).Msg("loading notifications")
		}
		return nil
	}
}

// openTask switches to the detail view and loads the task's thread.
func (m *Model) openTask(task model.Task) tea.Cmd {
	if m.currentView != ViewDetail {
		m.previousView = m.currentView
	}
	m.currentView = ViewDetail
	m.detail.SetTask(task)

	thread, log := m.thread, m.log
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		if err := thread.Initialize(ctx, task.ID); err != nil && !errors.Is(err, live.ErrStale) {
			log.Error().Err(err).Str("task", task.ID).Msg("loading comments")
		}
		return nil
	}
}

// resolveTask finds taskID among the listed tasks, falling back to the
// directory when the current filter hides it.
func (m Model) resolveTask(taskID string) tea.Cmd {
	for _, t := range m.tasks {
		if t.ID == taskID {
			return func() tea.Msg { return taskResolvedMsg{task: t} }
		}
	}

	dir := m.client.Directory
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		tasks, err := dir.ListTasks(ctx, store.TaskFilter{})
		if err != nil {
			return resultMsg{err: fmt.Errorf("loading task %s: %w", taskID, err)}
		}
		for _, t := range tasks {
			if t.ID == taskID {
				return taskResolvedMsg{task: t}
			}
		}
		return resultMsg{err: fmt.Errorf("task %s no longer exists", taskID)}
	}
}

func (m Model) updateStatus(taskID, status string) tea.Cmd {
	dir := m.client.Directory
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		if err := dir.UpdateTaskStatus(ctx, taskID, status); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{notice: "moved to " + status, refreshTasks: true}
	}
}

func (m Model) assign(taskID, assigneeID string) tea.Cmd {
	dir := m.client.Directory
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		if err := dir.AssignTask(ctx, taskID, assigneeID); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{notice: "assigned", refreshTasks: true}
	}
}

func (m Model) markRead(id string) tea.Cmd {
	inbox := m.inbox
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		return resultMsg{err: inbox.MarkRead(ctx, id)}
	}
}

func (m Model) markAllRead() tea.Cmd {
	inbox := m.inbox
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		if err := inbox.MarkAllRead(ctx); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{notice: "all caught up"}
	}
}

func (m Model) postComment(body string) tea.Cmd {
	thread, me := m.thread, m.client.Me.ID
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		if _, err := thread.Post(ctx, me, body); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{notice: "comment posted"}
	}
}

func (m Model) editComment(id, body string) tea.Cmd {
	thread := m.thread
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		if err := thread.Edit(ctx, id, body); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{notice: "comment updated"}
	}
}

// refresh re-polls tasks and reloads the inbox and any open thread.
func (m Model) refresh() tea.Cmd {
	m.poller.Refresh()
	inbox, thread, log := m.inbox, m.thread, m.log
	threadOpen := m.currentView == ViewDetail
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		err := inbox.Refresh(ctx)
		if threadOpen {
			err = errors.Join(err, thread.Refresh(ctx))
		}
		if err != nil && !errors.Is(err, live.ErrStale) {
			log.Warn().Err(err).Msg("refresh")
			return resultMsg{err: err}
		}
		return resultMsg{notice: "refreshed"}
	}
}

// executeCommand runs a parsed palette command.
func (m *Model) executeCommand(cmd command.CommandMsg) tea.Cmd {
	filter := m.poller.Filter()
	switch cmd.Name {
	case command.Refresh:
		return m.refresh()
	case command.ReadAll:
		return m.markAllRead()
	case command.Tasks:
		m.currentView = ViewList
	case command.Notifications:
		m.currentView = ViewInbox
	case command.Mine:
		filter.AssigneeID = m.client.Me.ID
		m.poller.SetFilter(filter)
		m.currentView = ViewList
	case command.All:
		m.poller.SetFilter(store.TaskFilter{})
		m.currentView = ViewList
	case command.Status:
		status := cmd.Args[0]
		if status == "any" {
			status = ""
		}
		filter.Status = status
		m.poller.SetFilter(filter)
		m.currentView = ViewList
	case command.Quit:
		return m.quit()
	}
	return nil
}
