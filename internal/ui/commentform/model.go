package commentform

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/theme"
)

// SubmitMsg is dispatched when the form completes. CommentID is empty for
// a new comment and set when editing.
type SubmitMsg struct {
	TaskID    string
	CommentID string
	Body      string
}

// CancelMsg is dispatched when the user cancels the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	body string
}

// Model is the Bubble Tea model for composing or editing a comment.
type Model struct {
	form      *huh.Form
	fb        *formBindings
	taskID    string
	commentID string
	width     int
	height    int
}

// New creates a new comment form model.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{},
		width:  width,
		height: height,
	}
}

// StartCompose initializes the form for a new comment on taskID.
func (m *Model) StartCompose(taskID string) tea.Cmd {
	m.taskID = taskID
	m.commentID = ""
	m.fb.body = ""
	m.form = m.buildForm()
	return m.form.Init()
}

// StartEdit initializes the form with an existing comment's body.
func (m *Model) StartEdit(c model.Comment) tea.Cmd {
	m.taskID = c.TaskID
	m.commentID = c.ID
	m.fb.body = c.Body
	m.form = m.buildForm()
	return m.form.Init()
}

// Editing reports whether the form edits an existing comment.
func (m Model) Editing() bool { return m.commentID != "" }

// Update handles messages for the comment form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		submit := SubmitMsg{
			TaskID:    m.taskID,
			CommentID: m.commentID,
			Body:      strings.TrimSpace(m.fb.body),
		}
		m.form = nil
		return m, func() tea.Msg { return submit }
	case huh.StateAborted:
		m.form = nil
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the comment form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleText := "New Comment"
	if m.Editing() {
		titleText = "Edit Comment"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := titleStyle.Render(titleText) + "\n" + m.form.View()

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("Comment").
				Placeholder("Write a comment...").
				Value(&m.fb.body).
				Validate(validateRequired("Comment")),
		),
	).WithWidth(m.formWidth()).WithHeight(m.formHeight())
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 100)
}

func (m Model) formHeight() int {
	return max(m.height-4, 10)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}
