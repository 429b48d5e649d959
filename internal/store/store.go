package store

import (
	"context"
	"errors"

	"github.com/nhle/portal/internal/model"
)

// ErrNotFound is wrapped by every lookup or update that matches no row.
var ErrNotFound = errors.New("not found")

// ListOptions orders and limits a per-subject listing.
type ListOptions struct {
	// Desc lists newest first.
	Desc bool

	// Limit caps the result; zero means no limit.
	Limit int
}

// TaskFilter narrows task listings. Empty fields match everything.
type TaskFilter struct {
	ProjectID  string
	AssigneeID string
	Status     string
}

// ChangeSink receives every inserted notification and comment after its
// transaction commits. The record carries its joined display fields.
type ChangeSink interface {
	Publish(table, subjectID string, record any)
}

// NotificationStore persists notifications, scoped by recipient.
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID string, opts ListOptions) ([]model.Notification, error)
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error)
	UpdateNotification(ctx context.Context, id string, patch model.NotificationPatch) error
}

// CommentStore persists task comments, scoped by task.
type CommentStore interface {
	ListComments(ctx context.Context, taskID string, opts ListOptions) ([]model.Comment, error)
	GetComment(ctx context.Context, id string) (*model.Comment, error)

	// CreateComment stores c and, in the same transaction, notifies the
	// task assignee unless they wrote the comment.
	CreateComment(ctx context.Context, c model.Comment) (model.Comment, error)
	UpdateComment(ctx context.Context, id string, patch model.CommentPatch) error
}

// DirectoryStore holds the employees, projects and tasks that
// notifications and comments refer to.
type DirectoryStore interface {
	CreateEmployee(ctx context.Context, e model.Employee) (model.Employee, error)
	GetEmployee(ctx context.Context, id string) (*model.Employee, error)
	GetEmployeeByEmail(ctx context.Context, email string) (*model.Employee, error)
	ListEmployees(ctx context.Context) ([]model.Employee, error)

	CreateProject(ctx context.Context, p model.Project) (model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)

	CreateTask(ctx context.Context, t model.Task) (model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)

	// AssignTask sets the task assignee and notifies them, unless they
	// assigned themselves. An empty assigneeID unassigns the task.
	AssignTask(ctx context.Context, taskID, assigneeID, actorID string) error

	// UpdateTaskStatus changes the task status and notifies the assignee,
	// unless they made the change.
	UpdateTaskStatus(ctx context.Context, taskID, status, actorID string) error
}

// Store is the full row store used by the portal.
type Store interface {
	NotificationStore
	CommentStore
	DirectoryStore

	SetChangeSink(sink ChangeSink)
	Close() error
}
