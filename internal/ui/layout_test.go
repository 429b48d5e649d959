package ui

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestUnreadBadge(t *testing.T) {
	assert.Equal(t, "", UnreadBadge(0))
	assert.Equal(t, "[3 new]", UnreadBadge(3))
}

func TestLayout_Bars(t *testing.T) {
	l := NewLayout(60, 20)
	assert.Equal(t, 17, l.ContentHeight())

	header := l.RenderHeader("Portal", 2, "live")
	assert.Contains(t, header, "Portal [2 new]")
	assert.Equal(t, 60, lipgloss.Width(header))

	tabs := l.RenderTabs([]Tab{{Label: "Tasks", Active: true}, {Label: "Inbox"}})
	assert.Contains(t, tabs, "Tasks")
	assert.Contains(t, tabs, "Inbox")
}

func TestLayout_TinyTerminal(t *testing.T) {
	assert.Equal(t, 0, NewLayout(10, 2).ContentHeight())
}
