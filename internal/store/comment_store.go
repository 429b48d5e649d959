package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/portal/internal/model"
)

const commentSelect = `
	SELECT
		c.id, c.task_id, c.author_id, c.body, c.created_at, c.updated_at,
		COALESCE(e.name, '') AS author_name
	FROM comments c
	LEFT JOIN employees e ON e.id = c.author_id`

// ListComments returns the comments on taskID with author names joined in.
func (s *SQLiteStore) ListComments(
	ctx context.Context,
	taskID string,
	opts ListOptions,
) ([]model.Comment, error) {
	query := commentSelect + " WHERE c.task_id = ?" + orderLimit("c", opts)

	var out []model.Comment
	if err := s.db.SelectContext(ctx, &out, query, taskID); err != nil {
		return nil, fmt.Errorf("querying comments for task %s: %w", taskID, err)
	}
	return out, nil
}

// GetComment retrieves a single comment by id.
func (s *SQLiteStore) GetComment(ctx context.Context, id string) (*model.Comment, error) {
	c, err := getComment(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("getting comment %s: %w", id, err)
	}
	return c, nil
}

func getComment(ctx context.Context, q sqlx.QueryerContext, id string) (*model.Comment, error) {
	var c model.Comment
	if err := sqlx.GetContext(ctx, q, &c, commentSelect+" WHERE c.id = ?", id); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// CreateComment inserts c on its task. The task assignee, if any and if
// not the author, is notified in the same transaction. Both rows are
// published after commit.
func (s *SQLiteStore) CreateComment(ctx context.Context, c model.Comment) (model.Comment, error) {
	c.Body = strings.TrimSpace(c.Body)
	if c.Body == "" {
		return model.Comment{}, fmt.Errorf("comment body must not be empty")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt

	var pending *model.Notification

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		task, err := getTask(ctx, tx, c.TaskID)
		if err != nil {
			return fmt.Errorf("commenting on task %s: %w", c.TaskID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO comments (id, task_id, author_id, body, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.TaskID, c.AuthorID, c.Body, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("creating comment: %w", err)
		}

		if task.AssigneeID == nil || *task.AssigneeID == c.AuthorID {
			return nil
		}
		pending = taskNotification(task, *task.AssigneeID, c.AuthorID,
			model.NotificationTaskCommented, "New comment on "+task.Title)
		pending.CreatedAt = c.CreatedAt
		return insertNotification(ctx, tx, pending)
	})
	if err != nil {
		return model.Comment{}, err
	}

	created, err := getComment(ctx, s.db, c.ID)
	if err != nil {
		return model.Comment{}, fmt.Errorf("reloading comment %s: %w", c.ID, err)
	}
	s.publish(model.TableComments, created.TaskID, *created)
	s.publishNotification(ctx, pending)

	return *created, nil
}

// UpdateComment applies patch to comment id.
func (s *SQLiteStore) UpdateComment(ctx context.Context, id string, patch model.CommentPatch) error {
	if patch.Body == nil {
		_, err := s.GetComment(ctx, id)
		return err
	}

	body := strings.TrimSpace(*patch.Body)
	if body == "" {
		return fmt.Errorf("comment body must not be empty")
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE comments SET body = ?, updated_at = ? WHERE id = ?",
		body, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating comment %s: %w", id, err)
	}
	if err := affected(res); err != nil {
		return fmt.Errorf("updating comment %s: %w", id, err)
	}
	return nil
}
