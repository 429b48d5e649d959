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

const notificationSelect = `
	SELECT
		n.id, n.user_id, n.actor_id, n.task_id, n.project_id,
		n.kind, n.message, n.read, n.created_at,
		COALESCE(a.name, '')  AS actor_name,
		COALESCE(p.name, '')  AS project_name,
		COALESCE(t.title, '') AS task_title
	FROM notifications n
	LEFT JOIN employees a ON a.id = n.actor_id
	LEFT JOIN projects p  ON p.id = n.project_id
	LEFT JOIN tasks t     ON t.id = n.task_id`

// ListNotifications returns the notifications of userID with their
// actor, project and task names joined in.
func (s *SQLiteStore) ListNotifications(
	ctx context.Context,
	userID string,
	opts ListOptions,
) ([]model.Notification, error) {
	query := notificationSelect + " WHERE n.user_id = ?" + orderLimit("n", opts)

	var out []model.Notification
	if err := s.db.SelectContext(ctx, &out, query, userID); err != nil {
		return nil, fmt.Errorf("querying notifications for %s: %w", userID, err)
	}
	return out, nil
}

// GetNotification retrieves a single notification by id.
func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	n, err := getNotification(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("getting notification %s: %w", id, err)
	}
	return n, nil
}

func getNotification(ctx context.Context, q sqlx.QueryerContext, id string) (*model.Notification, error) {
	var n model.Notification
	if err := sqlx.GetContext(ctx, q, &n, notificationSelect+" WHERE n.id = ?", id); err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

// CreateNotification inserts n and publishes it. An empty ID or zero
// CreatedAt is filled in.
func (s *SQLiteStore) CreateNotification(
	ctx context.Context,
	n model.Notification,
) (model.Notification, error) {
	if strings.TrimSpace(n.Message) == "" {
		return model.Notification{}, fmt.Errorf("notification message must not be empty")
	}

	if err := insertNotification(ctx, s.db, &n); err != nil {
		return model.Notification{}, err
	}

	created, err := getNotification(ctx, s.db, n.ID)
	if err != nil {
		return model.Notification{}, fmt.Errorf("reloading notification %s: %w", n.ID, err)
	}
	s.publish(model.TableNotifications, created.UserID, *created)
	return *created, nil
}

// UpdateNotification applies patch to notification id.
func (s *SQLiteStore) UpdateNotification(
	ctx context.Context,
	id string,
	patch model.NotificationPatch,
) error {
	if patch.Read == nil {
		if _, err := s.GetNotification(ctx, id); err != nil {
			return err
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = ? WHERE id = ?",
		boolToInt(*patch.Read), id,
	)
	if err != nil {
		return fmt.Errorf("updating notification %s: %w", id, err)
	}
	if err := affected(res); err != nil {
		return fmt.Errorf("updating notification %s: %w", id, err)
	}
	return nil
}

// insertNotification writes n through e, filling its ID and CreatedAt.
func insertNotification(ctx context.Context, e sqlx.ExecerContext, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := e.ExecContext(ctx, `
		INSERT INTO notifications (
			id, user_id, actor_id, task_id, project_id,
			kind, message, read, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.ActorID, n.TaskID, n.ProjectID,
		n.Kind, n.Message, boolToInt(n.Read), n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	return nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
