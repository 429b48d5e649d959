package command

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/portal/internal/theme"
)

// Palette command names.
const (
	Refresh       = "refresh"
	ReadAll       = "read-all"
	Tasks         = "tasks"
	Notifications = "notifications"
	Mine          = "mine"
	All           = "all"
	Status        = "status"
	Quit          = "quit"
)

// Definition describes one palette command for completion and help.
type Definition struct {
	Name string
	Args string
	Help string
}

// Commands lists every palette command in display order.
var Commands = []Definition{
	{Name: Tasks, Help: "show the task list"},
	{Name: Notifications, Help: "show the notification inbox"},
	{Name: Mine, Help: "only list tasks assigned to me"},
	{Name: All, Help: "list every task"},
	{Name: Status, Args: "<status|any>", Help: "only list tasks with this status"},
	{Name: ReadAll, Help: "mark every notification read"},
	{Name: Refresh, Help: "reload tasks, inbox and the open thread"},
	{Name: Quit, Help: "exit"},
}

// CommandMsg is emitted when the user executes a known command.
type CommandMsg struct {
	Name string
	Args []string
}

// ErrorMsg is emitted when the input does not parse.
type ErrorMsg struct {
	Err error
}

// Parse splits a palette line into a known command and its arguments.
func Parse(line string) (CommandMsg, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return CommandMsg{}, fmt.Errorf("empty command")
	}
	name := strings.ToLower(fields[0])
	for _, c := range Commands {
		if c.Name != name {
			continue
		}
		args := fields[1:]
		if c.Args != "" && len(args) == 0 {
			return CommandMsg{}, fmt.Errorf("%s needs %s", name, c.Args)
		}
		return CommandMsg{Name: name, Args: args}, nil
	}
	return CommandMsg{}, fmt.Errorf("unknown command %q", name)
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command..."
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	suggestions := make([]string, len(Commands))
	for i, c := range Commands {
		suggestions[i] = c.Name
	}
	ti.SetSuggestions(suggestions)
	ti.Focus()
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok && km.String() == "enter" {
		line := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if line == "" {
			return m, nil
		}
		parsed, err := Parse(line)
		if err != nil {
			return m, func() tea.Msg { return ErrorMsg{Err: err} }
		}
		return m, func() tea.Msg { return parsed }
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	title := titleStyle.Render("Command Palette")
	input := m.input.View()

	content := lipgloss.JoinVertical(lipgloss.Left, title, input)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(content)
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	return m.input.Focus()
}
