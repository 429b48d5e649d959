// Package comments keeps a task's discussion thread live.
package comments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
)

// DefaultCapacity bounds the comments held for one task.
const DefaultCapacity = 500

// ErrEmptyBody is returned when posting or editing a blank comment.
var ErrEmptyBody = errors.New("comment body is empty")

// Remote and Source are the backend collaborators of a Thread.
type (
	Remote = live.Remote[model.Comment, model.CommentPatch]
	Source = live.Feed[model.Comment]
)

// Policy returns the collection policy for a comment thread. A posted
// comment is confirmed by refetching the thread, so the author sees it
// even when the change feed is down.
func Policy(capacity int) live.Policy {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return live.Policy{
		Table:    model.TableComments,
		Order:    live.OldestFirst,
		Capacity: capacity,
		Confirm:  live.ConfirmByRefetch,
	}
}

// Thread is the live comment list of one task.
type Thread struct {
	coll *live.Collection[model.Comment, model.CommentPatch]
	now  func() time.Time
}

// New creates a thread. Call Initialize with the task id to load it.
func New(remote Remote, source Source, capacity int, log zerolog.Logger) *Thread {
	return &Thread{
		coll: live.New[model.Comment, model.CommentPatch](
			remote, source, Policy(capacity), log.With().Str("component", "comments").Logger(),
		),
		now: time.Now,
	}
}

func (t *Thread) Initialize(ctx context.Context, taskID string) error {
	return t.coll.Initialize(ctx, taskID)
}

func (t *Thread) Refresh(ctx context.Context) error {
	return t.coll.Refresh(ctx)
}

func (t *Thread) Teardown() {
	t.coll.Teardown()
}

// Snapshot returns the current comments, oldest first.
func (t *Thread) Snapshot() live.Snapshot[model.Comment] {
	return t.coll.Snapshot()
}

func (t *Thread) Changes() <-chan struct{} {
	return t.coll.Changes()
}

// Post adds a comment by authorID to the current task.
func (t *Thread) Post(ctx context.Context, authorID, body string) (model.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Comment{}, ErrEmptyBody
	}

	taskID := t.coll.Snapshot().SubjectID
	if taskID == "" {
		return model.Comment{}, live.ErrNotReady
	}

	now := t.now().UTC()
	draft := model.Comment{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := t.coll.Submit(ctx, draft)
	if err != nil {
		return model.Comment{}, fmt.Errorf("posting comment on task %s: %w", taskID, err)
	}
	return created, nil
}

// Edit replaces the body of comment id.
func (t *Thread) Edit(ctx context.Context, id, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyBody
	}

	edited := t.now().UTC()
	if err := t.coll.Mutate(ctx, id, model.CommentPatch{Body: &body, UpdatedAt: &edited}); err != nil {
		return fmt.Errorf("editing comment %s: %w", id, err)
	}
	return nil
}
