package backend

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/realtime"
	"github.com/nhle/portal/internal/store"
)

// NewLocal returns a client backed directly by s and broker, acting as
// employeeID. The caller owns s and broker; Close does not close them.
// s must already publish to broker (see store.Store.SetChangeSink).
func NewLocal(ctx context.Context, s store.Store, broker *realtime.Broker, employeeID string, log zerolog.Logger) (*Client, error) {
	me, err := s.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("loading employee %s: %w", employeeID, err)
	}

	return &Client{
		Me:               *me,
		Notifications:    notificationRemote{s},
		NotificationFeed: realtime.NewFeed[model.Notification](broker, log),
		Comments:         commentRemote{s},
		CommentFeed:      realtime.NewFeed[model.Comment](broker, log),
		Directory:        localDirectory{s: s, actorID: me.ID},
	}, nil
}

func listOptions(q live.Query) store.ListOptions {
	return store.ListOptions{Desc: q.Order == live.NewestFirst, Limit: q.Limit}
}

type notificationRemote struct {
	s store.NotificationStore
}

func (r notificationRemote) Fetch(ctx context.Context, q live.Query) ([]model.Notification, error) {
	return r.s.ListNotifications(ctx, q.SubjectID, listOptions(q))
}

func (r notificationRemote) Insert(ctx context.Context, draft model.Notification) (model.Notification, error) {
	return r.s.CreateNotification(ctx, draft)
}

func (r notificationRemote) UpdateByID(ctx context.Context, id string, patch model.NotificationPatch) error {
	return r.s.UpdateNotification(ctx, id, patch)
}

type commentRemote struct {
	s store.CommentStore
}

func (r commentRemote) Fetch(ctx context.Context, q live.Query) ([]model.Comment, error) {
	return r.s.ListComments(ctx, q.SubjectID, listOptions(q))
}

func (r commentRemote) Insert(ctx context.Context, draft model.Comment) (model.Comment, error) {
	return r.s.CreateComment(ctx, draft)
}

func (r commentRemote) UpdateByID(ctx context.Context, id string, patch model.CommentPatch) error {
	return r.s.UpdateComment(ctx, id, patch)
}

type localDirectory struct {
	s       store.DirectoryStore
	actorID string
}

func (d localDirectory) ListEmployees(ctx context.Context) ([]model.Employee, error) {
	return d.s.ListEmployees(ctx)
}

func (d localDirectory) ListTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error) {
	return d.s.ListTasks(ctx, filter)
}

func (d localDirectory) AssignTask(ctx context.Context, taskID, assigneeID string) error {
	return d.s.AssignTask(ctx, taskID, assigneeID, d.actorID)
}

func (d localDirectory) UpdateTaskStatus(ctx context.Context, taskID, status string) error {
	return d.s.UpdateTaskStatus(ctx, taskID, status, d.actorID)
}
