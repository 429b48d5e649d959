package tasklist

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/portal/internal/keys"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/theme"
)

// SelectedTaskMsg is sent when the user opens a task's comment thread.
type SelectedTaskMsg struct {
	Task model.Task
}

// CycleStatusMsg asks for the task to move to its next status.
type CycleStatusMsg struct {
	TaskID string
	Status string
}

// AssignMeMsg asks for the task to be assigned to the signed-in employee.
type AssignMeMsg struct {
	TaskID string
}

// statusCycle is the order "next status" walks through.
var statusCycle = []string{
	model.StatusOpen,
	model.StatusInProgress,
	model.StatusReview,
	model.StatusDone,
}

// NextStatus returns the status after s, wrapping around.
func NextStatus(s string) string {
	for i, st := range statusCycle {
		if st == s {
			return statusCycle[(i+1)%len(statusCycle)]
		}
	}
	return statusCycle[0]
}

// Model is the task list view component.
type Model struct {
	list   list.Model
	keys   *keys.KeyMap
	err    error
	width  int
	height int
}

// New creates a new task list model.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, TaskDelegate{}, width, height-2)
	l.Title = "Tasks"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// SetTasks replaces the listed tasks, keeping the cursor in range.
func (m *Model) SetTasks(tasks []model.Task) tea.Cmd {
	m.err = nil
	items := make([]list.Item, len(tasks))
	for i, t := range tasks {
		items[i] = TaskItem{Task: t}
	}
	return m.list.SetItems(items)
}

// SetError records a failed load; the last good list stays visible.
func (m *Model) SetError(err error) {
	m.err = err
}

// Filtering reports whether the list filter input has focus, in which
// case global single-key shortcuts must not fire.
func (m Model) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

// Selected returns the task under the cursor.
func (m Model) Selected() (model.Task, bool) {
	item, ok := m.list.SelectedItem().(TaskItem)
	return item.Task, ok
}

// Update handles messages for the task list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok && !m.Filtering() {
		task, selected := m.Selected()
		switch {
		case key.Matches(km, m.keys.Select) && selected:
			return m, func() tea.Msg { return SelectedTaskMsg{Task: task} }
		case key.Matches(km, m.keys.CycleStatus) && selected:
			next := NextStatus(task.Status)
			return m, func() tea.Msg { return CycleStatusMsg{TaskID: task.ID, Status: next} }
		case key.Matches(km, m.keys.AssignMe) && selected:
			return m, func() tea.Msg { return AssignMeMsg{TaskID: task.ID} }
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the task list view.
func (m Model) View() string {
	body := m.list.View()
	if len(m.list.Items()) == 0 {
		body = lipgloss.NewStyle().
			Width(m.width).
			Height(m.height - 1).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No tasks yet.\n\nRun `portal seed` to create demo data.")
	}
	if m.err != nil {
		return lipgloss.JoinVertical(lipgloss.Left, theme.ErrorStyle.Render("⚠ "+m.err.Error()), body)
	}
	return body
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
}
