package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/portal/internal/theme"
)

// Layout splits the terminal into header, tab bar, content and status bar.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	TabsHeight      int
	StatusBarHeight int
}

// NewLayout creates a Layout with one-line header, tab bar and status bar.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		TabsHeight:      1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the rows left for the active pane.
func (l Layout) ContentHeight() int {
	return max(l.Height-l.HeaderHeight-l.TabsHeight-l.StatusBarHeight, 0)
}

// UnreadBadge renders the "[N new]" marker shown next to the title, or
// nothing when every notification is read.
func UnreadBadge(unread int) string {
	if unread <= 0 {
		return ""
	}
	return fmt.Sprintf("[%d new]", unread)
}

// RenderHeader renders the top bar: title with the unread badge on the
// left, connection status on the right.
func (l Layout) RenderHeader(title string, unread int, syncStatus string) string {
	if badge := UnreadBadge(unread); badge != "" {
		title += " " + badge
	}
	return fill(theme.HeaderStyle, l.Width, title, syncStatus)
}

// Tab is one entry of the tab bar.
type Tab struct {
	Label  string
	Active bool
}

// RenderTabs renders the pane switcher below the header.
func (l Layout) RenderTabs(tabs []Tab) string {
	parts := make([]string, len(tabs))
	for i, t := range tabs {
		if t.Active {
			parts[i] = theme.ActiveTabStyle.Render(t.Label)
		} else {
			parts[i] = theme.TabStyle.Render(t.Label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

// RenderStatusBar renders the bottom bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	return fill(theme.StatusBarStyle, l.Width, hints, "")
}

// RenderWithFrame stacks header, tabs, content and status bar.
func (l Layout) RenderWithFrame(header, tabs, content, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, tabs, content, statusBar)
}

// fill renders left and right inside style, padding the gap so the bar
// spans width.
func fill(style lipgloss.Style, width int, left, right string) string {
	l := style.Render(left)
	r := ""
	if right != "" {
		r = style.Render(right)
	}
	gap := max(width-lipgloss.Width(l)-lipgloss.Width(r), 0)
	pad := style.UnsetPadding().Render(strings.Repeat(" ", gap))
	return l + pad + r
}
