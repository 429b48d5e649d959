package tasklist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/theme"
)

// TaskItem wraps a model.Task so it can be used in a bubbles/list.
type TaskItem struct {
	Task model.Task
}

// FilterValue returns the string used for fuzzy filtering.
func (i TaskItem) FilterValue() string { return i.Task.Title }

// Title returns the task title for the list.
func (i TaskItem) Title() string { return i.Task.Title }

// Description returns a short summary line for the list.
func (i TaskItem) Description() string {
	parts := []string{i.Task.ProjectName, i.Task.Status, relativeTime(i.Task.UpdatedAt)}
	return strings.Join(parts, " | ")
}

// TaskDelegate implements list.ItemDelegate for rendering tasks.
type TaskDelegate struct{}

// Height returns the number of lines each item takes.
func (d TaskDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d TaskDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d TaskDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

// Render draws a single task line:
// priority marker, status, title, project and assignee.
func (d TaskDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ti, ok := item.(TaskItem)
	if !ok {
		return
	}
	t := ti.Task

	prio := theme.PriorityStyle(t.Priority).Render(priorityMarker(t.Priority))
	status := theme.StatusStyle(t.Status).Width(13).Render(t.Status)

	assignee := t.AssigneeName
	if assignee == "" {
		assignee = "unassigned"
	}
	meta := lipgloss.NewStyle().Foreground(theme.ColorGray).
		Render(fmt.Sprintf("%s · %s · %s", t.ProjectName, assignee, relativeTime(t.UpdatedAt)))

	titleWidth := m.Width() - lipgloss.Width(prio) - lipgloss.Width(status) - lipgloss.Width(meta) - 6
	title := truncate(t.Title, titleWidth)

	line := fmt.Sprintf("%s %s %s  %s", prio, status, title, meta)
	if index == m.Index() {
		fmt.Fprint(w, theme.SelectedItemStyle.Render(line))
		return
	}
	fmt.Fprint(w, theme.ListItemStyle.Render(line))
}

func priorityMarker(p int) string {
	switch p {
	case model.PriorityCritical:
		return "!!"
	case model.PriorityHigh:
		return "! "
	default:
		return "  "
	}
}

// truncate shortens s to width runes, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

// relativeTime renders t as "just now", "5m ago", "3h ago" or a date.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}
