// Package backend bundles the collaborators the portal front end needs:
// row-store remotes and change feeds for notifications and comments,
// plus the employee directory. A Client is either local (in-process
// store and broker) or remote (REST API and realtime websocket).
package backend

import (
	"context"
	"errors"

	"github.com/nhle/portal/internal/comments"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/notify"
	"github.com/nhle/portal/internal/store"
)

// Directory is the read side of employees and tasks plus the task
// actions that produce notifications. The acting employee is implied
// by the Client.
type Directory interface {
	ListEmployees(ctx context.Context) ([]model.Employee, error)
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
	AssignTask(ctx context.Context, taskID, assigneeID string) error
	UpdateTaskStatus(ctx context.Context, taskID, status string) error
}

// Client is everything a session needs to talk to the backend.
type Client struct {
	// Me is the signed-in employee.
	Me model.Employee

	Notifications    notify.Remote
	NotificationFeed notify.Source
	Comments         comments.Remote
	CommentFeed      comments.Source
	Directory        Directory

	closers []func() error
}

// Close releases the connections held by the client.
func (c *Client) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
