package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/portal/internal/keys"
	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/theme"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// ComposeMsg asks the parent to open the comment form for a new comment.
type ComposeMsg struct {
	TaskID string
}

// EditMsg asks the parent to open the comment form on an existing comment.
type EditMsg struct {
	Comment model.Comment
}

// Model shows one task and its live comment thread.
type Model struct {
	task     *model.Task
	thread   live.Snapshot[model.Comment]
	me       string
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
}

// New creates a new detail view model. me is the signed-in employee,
// whose comments are the only ones that can be edited.
func New(k *keys.KeyMap, me string, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     k,
		me:       me,
		width:    width,
		height:   height,
	}
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(km, m.keys.Back):
			return m, func() tea.Msg { return BackMsg{} }

		case key.Matches(km, m.keys.Comment):
			if m.task != nil && m.thread.Ready() {
				id := m.task.ID
				return m, func() tea.Msg { return ComposeMsg{TaskID: id} }
			}

		case key.Matches(km, m.keys.Edit):
			if c, ok := m.LastOwnComment(); ok {
				return m, func() tea.Msg { return EditMsg{Comment: c} }
			}
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// LastOwnComment returns the most recent comment written by the
// signed-in employee.
func (m Model) LastOwnComment() (model.Comment, bool) {
	var found model.Comment
	ok := false
	for _, c := range m.thread.Records {
		if c.AuthorID != m.me {
			continue
		}
		if !ok || c.CreatedAt.After(found.CreatedAt) {
			found, ok = c, true
		}
	}
	return found, ok
}

// View renders the detail view.
func (m Model) View() string {
	if m.task == nil {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No task selected")
	}
	return m.viewport.View()
}

// SetTask switches the view to task and clears the previous thread.
func (m *Model) SetTask(task model.Task) {
	m.task = &task
	m.thread = live.Snapshot[model.Comment]{}
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// SetThread re-renders with a new snapshot of the comment thread. The
// viewport follows the newest comment when it was already at the bottom.
func (m *Model) SetThread(s live.Snapshot[model.Comment]) {
	follow := m.viewport.AtBottom()
	m.thread = s
	m.viewport.SetContent(m.renderContent())
	if follow {
		m.viewport.GotoBottom()
	}
}

// Task returns the task on screen, if any.
func (m Model) Task() (model.Task, bool) {
	if m.task == nil {
		return model.Task{}, false
	}
	return *m.task, true
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	m.viewport.SetContent(m.renderContent())
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	if m.task == nil {
		return ""
	}

	task := m.task
	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(task.Title))

	statusBadge := theme.StatusStyle(task.Status).Render(task.Status)
	priBadge := theme.PriorityStyle(task.Priority).Render(priorityName(task.Priority))
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, statusBadge, "  ", priBadge))
	sections = append(sections, "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	meta := func(label, value string) {
		if value == "" {
			return
		}
		sections = append(sections, fmt.Sprintf("%-10s %s", metaStyle.Render(label), valStyle.Render(value)))
	}

	meta("Project:", task.ProjectName)
	assignee := task.AssigneeName
	if assignee == "" {
		assignee = "unassigned"
	}
	meta("Assignee:", assignee)
	if task.DueDate != nil {
		meta("Due:", task.DueDate.Format("2006-01-02"))
	}
	if !task.UpdatedAt.IsZero() {
		meta("Updated:", task.UpdatedAt.Format("2006-01-02 15:04"))
	}

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 1)))
	sections = append(sections, "", separator, "")

	body := task.Description
	if body == "" {
		body = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("No description")
	}
	sections = append(sections, body, "", separator, "")
	sections = append(sections, m.renderThread()...)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderThread() []string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	dim := lipgloss.NewStyle().Foreground(theme.ColorGray)

	switch {
	case m.thread.Loading() || m.thread.State == live.StateUninitialized:
		return []string{headerStyle.Render("Comments"), dim.Render("Loading comments...")}
	case m.thread.State == live.StateError && len(m.thread.Records) == 0:
		msg := "could not load comments"
		if m.thread.Err != nil {
			msg = m.thread.Err.Error()
		}
		return []string{headerStyle.Render("Comments"), theme.ErrorStyle.Render("⚠ " + msg)}
	}

	out := []string{headerStyle.Render(fmt.Sprintf("Comments (%d)", len(m.thread.Records))), ""}
	if m.thread.Err != nil {
		out = append(out, theme.ErrorStyle.Render("⚠ "+m.thread.Err.Error()), "")
	}
	if len(m.thread.Records) == 0 {
		return append(out, dim.Italic(true).Render("No comments yet. Press c to add one."))
	}

	for _, c := range m.thread.Records {
		author := c.AuthorName
		if author == "" {
			author = c.AuthorID
		}
		stamp := c.CreatedAt.Format("2006-01-02 15:04")
		if c.UpdatedAt.After(c.CreatedAt) {
			stamp += " (edited)"
		}
		out = append(out,
			fmt.Sprintf("%s  %s", theme.AuthorStyle.Render(author), dim.Render(stamp)),
			c.Body,
			"",
		)
	}
	return out
}

// priorityName returns a human-readable name for the priority level.
func priorityName(p int) string {
	switch p {
	case model.PriorityCritical:
		return "Critical"
	case model.PriorityHigh:
		return "High"
	case model.PriorityMedium:
		return "Medium"
	case model.PriorityLow:
		return "Low"
	case model.PriorityLowest:
		return "Lowest"
	default:
		return "Unknown"
	}
}
