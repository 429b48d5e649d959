// Package pgstore implements the portal row store on PostgreSQL with GORM.
//
// It mirrors store.SQLiteStore: the same tables, the same joined display
// fields and the same notification side effects, committed in one
// transaction and published to the change sink afterwards. The schema is
// created with AutoMigrate.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/store"
)

// Store implements store.Store on PostgreSQL.
type Store struct {
	db *gorm.DB

	mu   sync.RWMutex
	sink store.ChangeSink
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrating postgres schema: %w", err)
	}
	return s, nil
}

// Migrate creates missing tables, columns and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&employeeRow{},
		&projectRow{},
		&taskRow{},
		&notificationRow{},
		&commentRow{},
	)
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SetChangeSink routes committed inserts to sink.
func (s *Store) SetChangeSink(sink store.ChangeSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

func (s *Store) publish(table, subjectID string, record any) {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()

	if sink != nil {
		sink.Publish(table, subjectID, record)
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

// ordered applies the per-subject ordering and limit to q over alias.
func ordered(q *gorm.DB, alias string, opts store.ListOptions) *gorm.DB {
	direction := "ASC"
	if opts.Desc {
		direction = "DESC"
	}
	q = q.Order(fmt.Sprintf("%[1]s.created_at %[2]s, %[1]s.id %[2]s", alias, direction))
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	return q
}

// === Notifications ===

const notificationColumns = `
	n.id, n.user_id, n.actor_id, n.task_id, n.project_id,
	n.kind, n.message, n.read, n.created_at,
	COALESCE(a.name, '')  AS actor_name,
	COALESCE(p.name, '')  AS project_name,
	COALESCE(t.title, '') AS task_title`

func notificationQuery(db *gorm.DB) *gorm.DB {
	return db.Table("notifications AS n").
		Select(notificationColumns).
		Joins("LEFT JOIN employees a ON a.id = n.actor_id").
		Joins("LEFT JOIN projects p ON p.id = n.project_id").
		Joins("LEFT JOIN tasks t ON t.id = n.task_id")
}

// ListNotifications returns the notifications of userID.
func (s *Store) ListNotifications(
	ctx context.Context,
	userID string,
	opts store.ListOptions,
) ([]model.Notification, error) {
	var out []model.Notification
	q := notificationQuery(s.db.WithContext(ctx)).Where("n.user_id = ?", userID)
	if err := ordered(q, "n", opts).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("querying notifications for %s: %w", userID, err)
	}
	return out, nil
}

// GetNotification retrieves a single notification by id.
func (s *Store) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	n, err := getNotification(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, fmt.Errorf("getting notification %s: %w", id, err)
	}
	return n, nil
}

func getNotification(db *gorm.DB, id string) (*model.Notification, error) {
	var n model.Notification
	if err := notificationQuery(db).Where("n.id = ?", id).Take(&n).Error; err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

// CreateNotification inserts n and publishes it.
func (s *Store) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	if strings.TrimSpace(n.Message) == "" {
		return model.Notification{}, fmt.Errorf("notification message must not be empty")
	}
	if err := insertNotification(s.db.WithContext(ctx), &n); err != nil {
		return model.Notification{}, err
	}

	created, err := getNotification(s.db.WithContext(ctx), n.ID)
	if err != nil {
		return model.Notification{}, fmt.Errorf("reloading notification %s: %w", n.ID, err)
	}
	s.publish(model.TableNotifications, created.UserID, *created)
	return *created, nil
}

// UpdateNotification applies patch to notification id.
func (s *Store) UpdateNotification(ctx context.Context, id string, patch model.NotificationPatch) error {
	if patch.Read == nil {
		_, err := s.GetNotification(ctx, id)
		return err
	}

	res := s.db.WithContext(ctx).Model(&notificationRow{}).Where("id = ?", id).Update("read", *patch.Read)
	if res.Error != nil {
		return fmt.Errorf("updating notification %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("updating notification %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func insertNotification(db *gorm.DB, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	row := fromNotification(*n)
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	return nil
}

func (s *Store) publishNotification(ctx context.Context, n *model.Notification) {
	if n == nil {
		return
	}
	created, err := getNotification(s.db.WithContext(ctx), n.ID)
	if err != nil {
		return
	}
	s.publish(model.TableNotifications, created.UserID, *created)
}

// === Comments ===

const commentColumns = `
	c.id, c.task_id, c.author_id, c.body, c.created_at, c.updated_at,
	COALESCE(e.name, '') AS author_name`

func commentQuery(db *gorm.DB) *gorm.DB {
	return db.Table("comments AS c").
		Select(commentColumns).
		Joins("LEFT JOIN employees e ON e.id = c.author_id")
}

// ListComments returns the comments on taskID.
func (s *Store) ListComments(ctx context.Context, taskID string, opts store.ListOptions) ([]model.Comment, error) {
	var out []model.Comment
	q := commentQuery(s.db.WithContext(ctx)).Where("c.task_id = ?", taskID)
	if err := ordered(q, "c", opts).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("querying comments for task %s: %w", taskID, err)
	}
	return out, nil
}

// GetComment retrieves a single comment by id.
func (s *Store) GetComment(ctx context.Context, id string) (*model.Comment, error) {
	var c model.Comment
	if err := commentQuery(s.db.WithContext(ctx)).Where("c.id = ?", id).Take(&c).Error; err != nil {
		return nil, fmt.Errorf("getting comment %s: %w", id, notFound(err))
	}
	return &c, nil
}

// CreateComment inserts c and notifies the task assignee in the same
// transaction.
func (s *Store) CreateComment(ctx context.Context, c model.Comment) (model.Comment, error) {
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

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := getTask(tx, c.TaskID)
		if err != nil {
			return fmt.Errorf("commenting on task %s: %w", c.TaskID, err)
		}

		row := fromComment(c)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("creating comment: %w", err)
		}

		if task.AssigneeID == nil || *task.AssigneeID == c.AuthorID {
			return nil
		}
		pending = taskNotification(task, *task.AssigneeID, c.AuthorID,
			model.NotificationTaskCommented, "New comment on "+task.Title)
		pending.CreatedAt = c.CreatedAt
		return insertNotification(tx, pending)
	})
	if err != nil {
		return model.Comment{}, err
	}

	created, err := s.GetComment(ctx, c.ID)
	if err != nil {
		return model.Comment{}, err
	}
	s.publish(model.TableComments, created.TaskID, *created)
	s.publishNotification(ctx, pending)
	return *created, nil
}

// UpdateComment applies patch to comment id.
func (s *Store) UpdateComment(ctx context.Context, id string, patch model.CommentPatch) error {
	if patch.Body == nil {
		_, err := s.GetComment(ctx, id)
		return err
	}
	body := strings.TrimSpace(*patch.Body)
	if body == "" {
		return fmt.Errorf("comment body must not be empty")
	}

	res := s.db.WithContext(ctx).Model(&commentRow{}).Where("id = ?", id).
		Updates(map[string]any{"body": body, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("updating comment %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("updating comment %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// === Directory ===

// CreateEmployee inserts a new employee.
func (s *Store) CreateEmployee(ctx context.Context, e model.Employee) (model.Employee, error) {
	if strings.TrimSpace(e.Name) == "" || strings.TrimSpace(e.Email) == "" {
		return model.Employee{}, fmt.Errorf("employee name and email must not be empty")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Email = strings.ToLower(strings.TrimSpace(e.Email))
	e.CreatedAt = time.Now().UTC()

	row := employeeRow{
		ID: e.ID, Name: e.Name, Email: e.Email,
		Role: e.Role, Department: e.Department, CreatedAt: e.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.Employee{}, fmt.Errorf("creating employee: %w", err)
	}
	return e, nil
}

// GetEmployee retrieves a single employee by id.
func (s *Store) GetEmployee(ctx context.Context, id string) (*model.Employee, error) {
	var row employeeRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting employee %s: %w", id, notFound(err))
	}
	e := toEmployee(row)
	return &e, nil
}

// GetEmployeeByEmail looks an employee up by address.
func (s *Store) GetEmployeeByEmail(ctx context.Context, email string) (*model.Employee, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var row employeeRow
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&row).Error; err != nil {
		return nil, fmt.Errorf("getting employee %s: %w", email, notFound(err))
	}
	e := toEmployee(row)
	return &e, nil
}

// ListEmployees returns every employee ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]model.Employee, error) {
	var rows []employeeRow
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying employees: %w", err)
	}
	out := make([]model.Employee, 0, len(rows))
	for _, r := range rows {
		out = append(out, toEmployee(r))
	}
	return out, nil
}

// CreateProject inserts a new project.
func (s *Store) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
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

	row := projectRow{
		ID: p.ID, Name: p.Name, Description: p.Description, Status: p.Status,
		OwnerID: p.OwnerID, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.Project{}, fmt.Errorf("creating project: %w", err)
	}
	return p, nil
}

// ListProjects returns every project ordered by name.
func (s *Store) ListProjects(ctx context.Context) ([]model.Project, error) {
	var rows []projectRow
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	out := make([]model.Project, 0, len(rows))
	for _, r := range rows {
		out = append(out, toProject(r))
	}
	return out, nil
}

const taskColumns = `
	t.id, t.project_id, t.title, t.description, t.status, t.priority,
	t.assignee_id, t.due_date, t.created_at, t.updated_at,
	COALESCE(p.name, '') AS project_name,
	COALESCE(e.name, '') AS assignee_name`

func taskQuery(db *gorm.DB) *gorm.DB {
	return db.Table("tasks AS t").
		Select(taskColumns).
		Joins("LEFT JOIN projects p ON p.id = t.project_id").
		Joins("LEFT JOIN employees e ON e.id = t.assignee_id")
}

func getTask(db *gorm.DB, id string) (*model.Task, error) {
	var t model.Task
	if err := taskQuery(db).Where("t.id = ?", id).Take(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// CreateTask inserts a new task.
func (s *Store) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
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

	row := fromTask(t)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.Task{}, fmt.Errorf("creating task: %w", err)
	}
	return t, nil
}

// GetTask retrieves a single task with its project and assignee names.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	t, err := getTask(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks returns tasks matching filter, highest priority first.
func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error) {
	q := taskQuery(s.db.WithContext(ctx))
	if filter.ProjectID != "" {
		q = q.Where("t.project_id = ?", filter.ProjectID)
	}
	if filter.AssigneeID != "" {
		q = q.Where("t.assignee_id = ?", filter.AssigneeID)
	}
	if filter.Status != "" {
		q = q.Where("t.status = ?", filter.Status)
	}

	var out []model.Task
	if err := q.Order("t.priority ASC, t.updated_at DESC").Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	return out, nil
}

// AssignTask sets the assignee of taskID and notifies them.
func (s *Store) AssignTask(ctx context.Context, taskID, assigneeID, actorID string) error {
	var pending *model.Notification

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := getTask(tx, taskID)
		if err != nil {
			return fmt.Errorf("assigning task %s: %w", taskID, err)
		}

		var assignee *string
		if assigneeID != "" {
			assignee = &assigneeID
		}
		err = tx.Model(&taskRow{}).Where("id = ?", taskID).
			Updates(map[string]any{"assignee_id": assignee, "updated_at": time.Now().UTC()}).Error
		if err != nil {
			return fmt.Errorf("assigning task %s: %w", taskID, err)
		}

		if assigneeID == "" || assigneeID == actorID {
			return nil
		}
		pending = taskNotification(task, assigneeID, actorID,
			model.NotificationTaskAssigned, "Assigned to you: "+task.Title)
		return insertNotification(tx, pending)
	})
	if err != nil {
		return err
	}

	s.publishNotification(ctx, pending)
	return nil
}

// UpdateTaskStatus moves taskID to status and notifies its assignee.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID, status, actorID string) error {
	if strings.TrimSpace(status) == "" {
		return fmt.Errorf("task status must not be empty")
	}

	var pending *model.Notification

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := getTask(tx, taskID)
		if err != nil {
			return fmt.Errorf("updating task %s status: %w", taskID, err)
		}
		if task.Status == status {
			return nil
		}

		err = tx.Model(&taskRow{}).Where("id = ?", taskID).
			Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
		if err != nil {
			return fmt.Errorf("updating task %s status: %w", taskID, err)
		}

		if task.AssigneeID == nil || *task.AssigneeID == actorID {
			return nil
		}
		pending = taskNotification(task, *task.AssigneeID, actorID,
			model.NotificationTaskStatus, fmt.Sprintf("%s moved to %s", task.Title, status))
		return insertNotification(tx, pending)
	})
	if err != nil {
		return err
	}

	s.publishNotification(ctx, pending)
	return nil
}

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
