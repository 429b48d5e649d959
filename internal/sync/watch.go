package sync

import tea "github.com/charmbracelet/bubbletea"

// ChangedMsg reports that the live collection named Source changed.
type ChangedMsg struct {
	Source string
}

// Watch returns a tea.Cmd that waits for the next signal on changes and
// reports it as a ChangedMsg. Re-issue it after handling each message.
// A closed channel ends the watch.
func Watch(source string, changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return ChangedMsg{Source: source}
	}
}
