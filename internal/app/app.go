package app

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/portal/internal/backend"
	"github.com/nhle/portal/internal/comments"
	"github.com/nhle/portal/internal/keys"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/notify"
	"github.com/nhle/portal/internal/store"
	appsync "github.com/nhle/portal/internal/sync"
	"github.com/nhle/portal/internal/ui"
	"github.com/nhle/portal/internal/ui/command"
	"github.com/nhle/portal/internal/ui/commentform"
	"github.com/nhle/portal/internal/ui/detail"
	helpview "github.com/nhle/portal/internal/ui/help"
	"github.com/nhle/portal/internal/ui/notifications"
	"github.com/nhle/portal/internal/ui/tasklist"
)

// Change sources passed to appsync.Watch.
const (
	sourceInbox  = "notifications"
	sourceThread = "comments"
)

// taskPollInterval is how often the task list is refreshed.
const taskPollInterval = time.Minute

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewInbox
	ViewDetail
	ViewHelp
	ViewCommand
	ViewCommentForm
)

// Model is the root Bubble Tea model. It owns the signed-in employee's
// notification feed, one comment thread reused for whichever task is
// open, and the task poller.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout

	client *backend.Client
	inbox  *notify.Feed
	thread *comments.Thread
	poller *appsync.Poller
	log    zerolog.Logger

	keys        *keys.KeyMap
	taskList    tasklist.Model
	inboxView   notifications.Model
	detail      detail.Model
	helpView    helpview.Model
	commandView command.Model
	form        commentform.Model

	tasks   []model.Task
	unread  int
	notice  string
	ready   bool
	stopped bool
}

// New creates the root model for client. The caller keeps ownership of
// client and closes it after the program exits.
func New(client *backend.Client, cfg *model.AppConfig, log zerolog.Logger) Model {
	k := keys.DefaultKeyMap()
	me := client.Me.ID

	return Model{
		currentView: ViewList,
		client:      client,
		inbox:       notify.New(client.Notifications, client.NotificationFeed, cfg.Notifications.Limit, log),
		thread:      comments.New(client.Comments, client.CommentFeed, cfg.Comments.Capacity, log),
		poller:      appsync.New(client.Directory, store.TaskFilter{AssigneeID: me}, taskPollInterval),
		log:         log,
		keys:        k,
		taskList:    tasklist.New(k, 80, 24),
		inboxView:   notifications.New(k, 80, 24),
		detail:      detail.New(k, me, 80, 24),
		helpView:    helpview.New(k, 80, 24),
		commandView: command.New(80, 24),
		form:        commentform.New(80, 24),
	}
}

// Init loads the inbox, starts the task poller and begins watching both
// live collections for changes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.initInbox(),
		m.poller.Start(),
		appsync.Watch(sourceInbox, m.inbox.Changes()),
		appsync.Watch(sourceThread, m.thread.Changes()),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.taskList.SetSize(w, h)
		m.inboxView.SetSize(w, h)
		m.detail.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		m.form.SetSize(w, h)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case appsync.ChangedMsg:
		switch msg.Source {
		case sourceInbox:
			snap := m.inbox.Snapshot()
			m.unread = notify.CountUnread(snap.Records)
			return m, tea.Batch(m.inboxView.SetSnapshot(snap), appsync.Watch(sourceInbox, m.inbox.Changes()))
		case sourceThread:
			snap := m.thread.Snapshot()
			if task, ok := m.detail.Task(); ok && (snap.SubjectID == "" || snap.SubjectID == task.ID) {
				m.detail.SetThread(snap)
			}
			return m, appsync.Watch(sourceThread, m.thread.Changes())
		}
		return m, nil

	case appsync.TasksMsg:
		if msg.Error != nil {
			m.taskList.SetError(msg.Error)
			if msg.Unauthorized {
				m.notice = "session rejected: issue a new access token with `portal token`"
			}
			return m, m.poller.Next()
		}
		m.tasks = msg.Tasks
		return m, tea.Batch(m.taskList.SetTasks(msg.Tasks), m.poller.Next())

	case resultMsg:
		m.notice = msg.notice
		if msg.err != nil {
			m.notice = msg.err.Error()
			m.log.Warn().Err(msg.err).Msg("action failed")
		}
		if msg.refreshTasks {
			m.poller.Refresh()
		}
		return m, nil

	case taskResolvedMsg:
		return m, m.openTask(msg.task)

	case tasklist.SelectedTaskMsg:
		return m, m.openTask(msg.Task)

	case tasklist.CycleStatusMsg:
		return m, m.updateStatus(msg.TaskID, msg.Status)

	case tasklist.AssignMeMsg:
		return m, m.assign(msg.TaskID, m.client.Me.ID)

	case notifications.MarkReadMsg:
		return m, m.markRead(msg.ID)

	case notifications.MarkAllReadMsg:
		return m, m.markAllRead()

	case notifications.OpenTaskMsg:
		var cmds []tea.Cmd
		if msg.NotificationID != "" {
			cmds = append(cmds, m.markRead(msg.NotificationID))
		}
		cmds = append(cmds, m.resolveTask(msg.TaskID))
		return m, tea.Batch(cmds...)

	case detail.BackMsg:
		m.thread.Teardown()
		m.currentView = m.previousView
		if m.currentView == ViewDetail {
			m.currentView = ViewList
		}
		return m, nil

	case detail.ComposeMsg:
		m.currentView = ViewCommentForm
		return m, m.form.StartCompose(msg.TaskID)

	case detail.EditMsg:
		m.currentView = ViewCommentForm
		return m, m.form.StartEdit(msg.Comment)

	case commentform.SubmitMsg:
		m.currentView = ViewDetail
		if msg.CommentID != "" {
			return m, m.editComment(msg.CommentID, msg.Body)
		}
		return m, m.postComment(msg.Body)

	case commentform.CancelMsg:
		m.currentView = ViewDetail
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(msg)

	case command.ErrorMsg:
		m.currentView = m.previousView
		m.notice = msg.Err.Error()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		if m.currentView == ViewCommand && key.Matches(msg, m.keys.Back) {
			m.currentView = m.previousView
			return m, nil
		}
		if m.acceptsGlobalKeys() {
			if cmd, handled := m.handleGlobalKey(msg); handled {
				return m, cmd
			}
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// acceptsGlobalKeys reports whether single-key shortcuts are live. Text
// inputs (form, palette, list filter) swallow them.
func (m Model) acceptsGlobalKeys() bool {
	switch m.currentView {
	case ViewCommentForm, ViewCommand:
		return false
	case ViewList:
		return !m.taskList.Filtering()
	}
	return true
}

func (m *Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit) && m.currentView != ViewDetail:
		return m.quit(), true

	case key.Matches(msg, m.keys.Help):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return nil, true
		}
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return nil, true

	case key.Matches(msg, m.keys.Command):
		m.previousView = m.currentView
		m.currentView = ViewCommand
		return m.commandView.Focus(), true

	case key.Matches(msg, m.keys.Back) && m.currentView == ViewHelp:
		m.currentView = m.previousView
		return nil, true

	case key.Matches(msg, m.keys.Tasks) && m.currentView != ViewDetail:
		m.currentView = ViewList
		return nil, true

	case key.Matches(msg, m.keys.Notifications) && m.currentView != ViewDetail:
		m.currentView = ViewInbox
		return nil, true

	case key.Matches(msg, m.keys.Refresh):
		return m.refresh(), true
	}
	return nil, false
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.currentView {
	case ViewList:
		m.taskList, cmd = m.taskList.Update(msg)
	case ViewInbox:
		m.inboxView, cmd = m.inboxView.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	case ViewCommentForm:
		m.form, cmd = m.form.Update(msg)
	}
	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := "Portal · " + m.client.Me.Name
	header := m.layout.RenderHeader(title, m.unread, m.syncStatus())
	statusBar := m.layout.RenderStatusBar(m.keyHints())
	return m.layout.RenderWithFrame(header, m.renderTabs(), m.renderContent(), statusBar)
}

// renderTabs shows which pane is on screen. The detail view belongs to
// whichever pane it was opened from.
func (m Model) renderTabs() string {
	pane := m.currentView
	if pane != ViewList && pane != ViewInbox {
		pane = m.previousView
	}
	inbox := "Notifications"
	if badge := ui.UnreadBadge(m.unread); badge != "" {
		inbox += " " + badge
	}
	return m.layout.RenderTabs([]ui.Tab{
		{Label: "Tasks", Active: pane != ViewInbox},
		{Label: inbox, Active: pane == ViewInbox},
	})
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.taskList.View()
	case ViewInbox:
		return m.inboxView.View()
	case ViewDetail:
		return m.detail.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	case ViewCommentForm:
		return m.form.View()
	default:
		return ""
	}
}

// syncStatus summarises the task poller and the inbox feed.
func (m Model) syncStatus() string {
	if snap := m.inbox.Snapshot(); snap.Err != nil {
		return "⚠ inbox offline"
	}
	st := m.poller.Status()
	switch st.State {
	case appsync.SyncRunning:
		return "syncing"
	case appsync.SyncError:
		return "⚠ tasks unreachable"
	}
	if st.LastSync.IsZero() {
		return "connecting"
	}
	return fmt.Sprintf("synced %s", st.LastSync.Format(time.Kitchen))
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.notice != "" && (m.currentView == ViewList || m.currentView == ViewInbox || m.currentView == ViewDetail) {
		return m.notice
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | esc back"
	case ViewDetail:
		return "esc back | c comment | e edit my last comment | j/k scroll"
	case ViewCommentForm:
		return "enter submit | esc cancel"
	case ViewInbox:
		return "enter open | m mark read | M mark all read | t tasks | ? help"
	default:
		return "enter open | s next status | a assign to me | n notifications | / search | ? help"
	}
}

func (m *Model) quit() tea.Cmd {
	if !m.stopped {
		m.stopped = true
		m.poller.Stop()
		m.thread.Teardown()
		m.inbox.Teardown()
	}
	return tea.Quit
}
