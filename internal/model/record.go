package model

import "time"

// Table names shared by the row stores and the change feed.
const (
	TableNotifications = "notifications"
	TableComments      = "comments"
)

// Notification implements live.Record.

func (n Notification) Key() string          { return n.ID }
func (n Notification) Scope() string        { return n.UserID }
func (n Notification) OrderedAt() time.Time { return n.CreatedAt }

// Comment implements live.Record.

func (c Comment) Key() string          { return c.ID }
func (c Comment) Scope() string        { return c.TaskID }
func (c Comment) OrderedAt() time.Time { return c.CreatedAt }
