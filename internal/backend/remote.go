package backend

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/realtime"
	"github.com/nhle/portal/internal/store"
)

// API paths served by internal/server.
const (
	APIPrefix    = "/api/v1"
	RealtimePath = "/realtime"
)

// NewRemote connects to a portal server at baseURL ("https://portal.corp")
// with an access token. It resolves the signed-in employee and opens
// the realtime websocket.
func NewRemote(ctx context.Context, baseURL, token string, log zerolog.Logger) (*Client, error) {
	rest := newRESTClient(baseURL, token)

	var me model.Employee
	if err := rest.get(ctx, APIPrefix+"/me", &me); err != nil {
		return nil, fmt.Errorf("resolving signed-in employee: %w", err)
	}

	wsURL, err := RealtimeURL(baseURL)
	if err != nil {
		return nil, err
	}
	rt, err := realtime.Dial(ctx, wsURL, token, log)
	if err != nil {
		return nil, err
	}

	return &Client{
		Me:               me,
		Notifications:    &restRemote[model.Notification, model.NotificationPatch]{rest: rest, table: model.TableNotifications},
		NotificationFeed: realtime.NewFeed[model.Notification](rt, log),
		Comments:         &restRemote[model.Comment, model.CommentPatch]{rest: rest, table: model.TableComments},
		CommentFeed:      realtime.NewFeed[model.Comment](rt, log),
		Directory:        restDirectory{rest: rest},
		closers:          []func() error{rt.Close},
	}, nil
}

// RealtimeURL maps an http(s) base URL to the websocket endpoint.
func RealtimeURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path += RealtimePath
	return u.String(), nil
}

// restRemote implements live.Remote over the table endpoints of the
// portal API.
type restRemote[T live.Record, P any] struct {
	rest  *restClient
	table string
}

func (r *restRemote[T, P]) Fetch(ctx context.Context, q live.Query) ([]T, error) {
	v := url.Values{}
	v.Set("subject", q.SubjectID)
	v.Set("order", q.Order.String())
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}

	var out []T
	if err := r.rest.get(ctx, APIPrefix+"/"+r.table+"?"+v.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *restRemote[T, P]) Insert(ctx context.Context, draft T) (T, error) {
	var created T
	if err := r.rest.post(ctx, APIPrefix+"/"+r.table, draft, &created); err != nil {
		var zero T
		return zero, err
	}
	return created, nil
}

func (r *restRemote[T, P]) UpdateByID(ctx context.Context, id string, patch P) error {
	return r.rest.patch(ctx, APIPrefix+"/"+r.table+"/"+url.PathEscape(id), patch)
}

type restDirectory struct {
	rest *restClient
}

func (d restDirectory) ListEmployees(ctx context.Context) ([]model.Employee, error) {
	var out []model.Employee
	if err := d.rest.get(ctx, APIPrefix+"/employees", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d restDirectory) ListTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error) {
	v := url.Values{}
	if filter.ProjectID != "" {
		v.Set("project", filter.ProjectID)
	}
	if filter.AssigneeID != "" {
		v.Set("assignee", filter.AssigneeID)
	}
	if filter.Status != "" {
		v.Set("status", filter.Status)
	}

	path := APIPrefix + "/tasks"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var out []model.Task
	if err := d.rest.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AssignRequest is the body of POST /tasks/{id}/assign.
type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// StatusRequest is the body of POST /tasks/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

func (d restDirectory) AssignTask(ctx context.Context, taskID, assigneeID string) error {
	path := APIPrefix + "/tasks/" + url.PathEscape(taskID) + "/assign"
	return d.rest.post(ctx, path, AssignRequest{AssigneeID: assigneeID}, nil)
}

func (d restDirectory) UpdateTaskStatus(ctx context.Context, taskID, status string) error {
	path := APIPrefix + "/tasks/" + url.PathEscape(taskID) + "/status"
	return d.rest.post(ctx, path, StatusRequest{Status: status}, nil)
}
