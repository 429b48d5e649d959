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

// CreateEmployee inserts a new employee. Generates a UUID if ID is empty.
func (s *SQLiteStore) CreateEmployee(ctx context.Context, e model.Employee) (model.Employee, error) {
	if strings.TrimSpace(e.Name) == "" {
		return model.Employee{}, fmt.Errorf("employee name must not be empty")
	}
	if strings.TrimSpace(e.Email) == "" {
		return model.Employee{}, fmt.Errorf("employee email must not be empty")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Email = strings.ToLower(strings.TrimSpace(e.Email))
	e.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, role, department, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Email, e.Role, e.Department, e.CreatedAt,
	)
	if err != nil {
		return model.Employee{}, fmt.Errorf("creating employee: %w", err)
	}
	return e, nil
}

// GetEmployee retrieves a single employee by id.
func (s *SQLiteStore) GetEmployee(ctx context.Context, id string) (*model.Employee, error) {
	var e model.Employee
	if err := s.db.GetContext(ctx, &e, "SELECT * FROM employees WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("getting employee %s: %w", id, notFound(err))
	}
	return &e, nil
}

// GetEmployeeByEmail looks an employee up by address, case-insensitively.
func (s *SQLiteStore) GetEmployeeByEmail(ctx context.Context, email string) (*model.Employee, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var e model.Employee
	if err := s.db.GetContext(ctx, &e, "SELECT * FROM employees WHERE email = ?", email); err != nil {
		return nil, fmt.Errorf("getting employee %s: %w", email, notFound(err))
	}
	return &e, nil
}

// ListEmployees returns every employee ordered by name.
func (s *SQLiteStore) ListEmployees(ctx context.Context) ([]model.Employee, error) {
	var out []model.Employee
	if err := s.db.SelectContext(ctx, &out, "SELECT * FROM employees ORDER BY name"); err != nil {
		return nil, fmt.Errorf("querying employees: %w", err)
	}
	return out, nil
}

// CreateProject inserts a new project.
func (s *SQLiteStore) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	if strings.TrimSpace(p.Name) == "" {
		return model.Project{}, fmt.Errorf("project name must not be empty")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = model.ProjectStatusActive
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, status, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Status, p.OwnerID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return model.Project{}, fmt.Errorf("creating project: %w", err)
	}
	return p, nil
}

// ListProjects returns every project ordered by name.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	var out []model.Project
	if err := s.db.SelectContext(ctx, &out, "SELECT * FROM projects ORDER BY name"); err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	return out, nil
}

const taskSelect = `
	SELECT
		t.id, t.project_id, t.title, t.description, t.status, t.priority,
		t.assignee_id, t.due_date, t.created_at, t.updated_at,
		COALESCE(p.name, '') AS project_name,
		COALESCE(e.name, '') AS assignee_name
	FROM tasks t
	LEFT JOIN projects p  ON p.id = t.project_id
	LEFT JOIN employees e ON e.id = t.assignee_id`

// CreateTask inserts a new task. Assigning it on creation does not
// generate a notification; use AssignTask for that.
func (s *SQLiteStore) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return model.Task{}, fmt.Errorf("task title must not be empty")
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = model.StatusOpen
	}
	if t.Priority < model.PriorityCritical || t.Priority > model.PriorityLowest {
		t.Priority = model.PriorityMedium
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, project_id, title, description, status, priority,
			assignee_id, due_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.Priority,
		t.AssigneeID, t.DueDate, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("creating task: %w", err)
	}
	return t, nil
}

// GetTask retrieves a single task with its project and assignee names.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	t, err := getTask(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	return t, nil
}

func getTask(ctx context.Context, q sqlx.QueryerContext, id string) (*model.Task, error) {
	var t model.Task
	if err := sqlx.GetContext(ctx, q, &t, taskSelect+" WHERE t.id = ?", id); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ListTasks returns tasks matching filter, highest priority first.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	var conditions []string
	var args []interface{}

	if filter.ProjectID != "" {
		conditions = append(conditions, "t.project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.AssigneeID != "" {
		conditions = append(conditions, "t.assignee_id = ?")
		args = append(args, filter.AssigneeID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "t.status = ?")
		args = append(args, filter.Status)
	}

	query := taskSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY t.priority ASC, t.updated_at DESC"

	var out []model.Task
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	return out, nil
}

// AssignTask sets the assignee of taskID and notifies them in the same
// transaction.
func (s *SQLiteStore) AssignTask(ctx context.Context, taskID, assigneeID, actorID string) error {
	var pending *model.Notification

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		task, err := getTask(ctx, tx, taskID)
		if err != nil {
			return fmt.Errorf("assigning task %s: %w", taskID, err)
		}

		var assignee *string
		if assigneeID != "" {
			assignee = &assigneeID
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE tasks SET assignee_id = ?, updated_at = ? WHERE id = ?",
			assignee, time.Now().UTC(), taskID,
		)
		if err != nil {
			return fmt.Errorf("assigning task %s: %w", taskID, err)
		}

		if assigneeID == "" || assigneeID == actorID {
			return nil
		}
		pending = taskNotification(task, assigneeID, actorID,
			model.NotificationTaskAssigned, "Assigned to you: "+task.Title)
		return insertNotification(ctx, tx, pending)
	})
	if err != nil {
		return err
	}

	s.publishNotification(ctx, pending)
	return nil
}

// UpdateTaskStatus moves taskID to status and notifies its assignee.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, taskID, status, actorID string) error {
	if strings.TrimSpace(status) == "" {
		return fmt.Errorf("task status must not be empty")
	}

	var pending *model.Notification

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		task, err := getTask(ctx, tx, taskID)
		if err != nil {
			return fmt.Errorf("updating task %s status: %w", taskID, err)
		}
		if task.Status == status {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?",
			status, time.Now().UTC(), taskID,
		)
		if err != nil {
			return fmt.Errorf("updating task %s status: %w", taskID, err)
		}

		if task.AssigneeID == nil || *task.AssigneeID == actorID {
			return nil
		}
		pending = taskNotification(task, *task.AssigneeID, actorID,
			model.NotificationTaskStatus, fmt.Sprintf("%s moved to %s", task.Title, status))
		return insertNotification(ctx, tx, pending)
	})
	if err != nil {
		return err
	}

	s.publishNotification(ctx, pending)
	return nil
}

// taskNotification builds an unread notification for userID about task.
func taskNotification(task *model.Task, userID, actorID, kind, message string) *model.Notification {
	n := &model.Notification{
		UserID:    userID,
		TaskID:    &task.ID,
		ProjectID: &task.ProjectID,
		Kind:      kind,
		Message:   message,
	}
	if actorID != "" {
		n.ActorID = &actorID
	}
	return n
}

// publishNotification reloads a committed notification with its joined
// fields and hands it to the change sink.
func (s *SQLiteStore) publishNotification(ctx context.Context, n *model.Notification) {
	if n == nil {
		return
	}
	created, err := getNotification(ctx, s.db, n.ID)
	if err != nil {
		return
	}
	s.publish(model.TableNotifications, created.UserID, *created)
}
