package notifications

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/portal/internal/keys"
	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/theme"
)

// MarkReadMsg asks for one notification to be marked read.
type MarkReadMsg struct {
	ID string
}

// MarkAllReadMsg asks for every loaded notification to be marked read.
type MarkAllReadMsg struct{}

// OpenTaskMsg asks the parent to open the task a notification points at.
// The notification is marked read as part of opening it.
type OpenTaskMsg struct {
	NotificationID string
	TaskID         string
}

type item struct {
	n model.Notification
}

func (i item) FilterValue() string { return i.n.Message }

type delegate struct{}

func (delegate) Height() int                         { return 1 }
func (delegate) Spacing() int                        { return 0 }
func (delegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }

func (delegate) Render(w io.Writer, m list.Model, index int, li list.Item) {
	it, ok := li.(item)
	if !ok {
		return
	}
	n := it.n

	marker := "  "
	if !n.Read {
		marker = theme.UnreadStyle.Render("● ")
	}
	kind := theme.KindStyle(n.Kind).Width(10).Render(kindLabel(n.Kind))
	when := lipgloss.NewStyle().Foreground(theme.ColorGray).Render(n.CreatedAt.Format(time.DateTime))

	msg := n.Message
	if !n.Read {
		msg = lipgloss.NewStyle().Bold(true).Render(msg)
	}
	line := fmt.Sprintf("%s%s %s  %s", marker, kind, msg, when)
	if index == m.Index() {
		fmt.Fprint(w, theme.SelectedItemStyle.Render(line))
		return
	}
	fmt.Fprint(w, theme.ListItemStyle.Render(line))
}

func kindLabel(kind string) string {
	switch kind {
	case model.NotificationTaskAssigned:
		return "assigned"
	case model.NotificationTaskCommented:
		return "comment"
	case model.NotificationTaskStatus:
		return "status"
	default:
		return kind
	}
}

// Model is the notification inbox view.
type Model struct {
	list   list.Model
	keys   *keys.KeyMap
	snap   live.Snapshot[model.Notification]
	err    error
	width  int
	height int
}

// New creates an empty inbox view.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, delegate{}, width, height-2)
	l.Title = "Notifications"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{list: l, keys: k, width: width, height: height}
}

// SetSnapshot renders the latest state of the notification feed.
func (m *Model) SetSnapshot(s live.Snapshot[model.Notification]) tea.Cmd {
	m.snap = s
	items := make([]list.Item, len(s.Records))
	for i, n := range s.Records {
		items[i] = item{n: n}
	}
	return m.list.SetItems(items)
}

// SetError shows the result of a failed inbox action until the next one.
func (m *Model) SetError(err error) {
	m.err = err
}

// Update handles messages for the inbox view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		selected, hasSel := m.list.SelectedItem().(item)
		switch {
		case key.Matches(km, m.keys.MarkRead) && hasSel && !selected.n.Read:
			id := selected.n.ID
			return m, func() tea.Msg { return MarkReadMsg{ID: id} }

		case key.Matches(km, m.keys.MarkAllRead):
			return m, func() tea.Msg { return MarkAllReadMsg{} }

		case key.Matches(km, m.keys.Select) && hasSel && selected.n.TaskID != nil:
			open := OpenTaskMsg{NotificationID: selected.n.ID, TaskID: *selected.n.TaskID}
			if selected.n.Read {
				open.NotificationID = ""
			}
			return m, func() tea.Msg { return open }
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the inbox view.
func (m Model) View() string {
	placeholder := ""
	switch {
	case m.snap.State == live.StateUninitialized || m.snap.Loading():
		placeholder = "Loading notifications..."
	case m.snap.State == live.StateError && len(m.snap.Records) == 0:
		placeholder = "Could not load notifications."
	case len(m.snap.Records) == 0:
		placeholder = "You're all caught up."
	}

	body := m.list.View()
	if placeholder != "" {
		body = lipgloss.NewStyle().
			Width(m.width).
			Height(m.height - 1).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render(placeholder)
	}

	errs := m.err
	if errs == nil {
		errs = m.snap.Err
	}
	if errs != nil {
		return lipgloss.JoinVertical(lipgloss.Left, theme.ErrorStyle.Render("⚠ "+errs.Error()), body)
	}
	return body
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
}
