package pgstore

import (
	"time"

	"github.com/nhle/portal/internal/model"
)

// Table rows mirror the SQLite schema. Joined display fields live only
// on the model types.

type employeeRow struct {
	ID         string `gorm:"primaryKey"`
	Name       string `gorm:"not null"`
	Email      string `gorm:"not null;uniqueIndex"`
	Role       string `gorm:"not null;default:''"`
	Department string `gorm:"not null;default:''"`
	CreatedAt  time.Time
}

func (employeeRow) TableName() string { return "employees" }

type projectRow struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null;uniqueIndex"`
	Description string `gorm:"not null;default:''"`
	Status      string `gorm:"not null;default:'active'"`
	OwnerID     *string
	Owner       *employeeRow `gorm:"foreignKey:OwnerID;constraint:OnDelete:SET NULL"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (projectRow) TableName() string { return "projects" }

type taskRow struct {
	ID          string      `gorm:"primaryKey"`
	ProjectID   string      `gorm:"not null;index"`
	Project     *projectRow `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	Title       string      `gorm:"not null"`
	Description string      `gorm:"not null;default:''"`
	Status      string      `gorm:"not null;default:'open'"`
	Priority    int         `gorm:"not null;default:3"`
	AssigneeID  *string     `gorm:"index"`
	Assignee    *employeeRow `gorm:"foreignKey:AssigneeID;constraint:OnDelete:SET NULL"`
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (taskRow) TableName() string { return "tasks" }

type notificationRow struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index:idx_notifications_user_created,priority:1"`
	ActorID   *string
	TaskID    *string
	ProjectID *string
	Kind      string    `gorm:"not null"`
	Message   string    `gorm:"not null"`
	Read      bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"index:idx_notifications_user_created,priority:2"`
}

func (notificationRow) TableName() string { return "notifications" }

type commentRow struct {
	ID        string    `gorm:"primaryKey"`
	TaskID    string    `gorm:"not null;index:idx_comments_task_created,priority:1"`
	Task      *taskRow  `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
	AuthorID  string    `gorm:"not null"`
	Body      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index:idx_comments_task_created,priority:2"`
	UpdatedAt time.Time
}

func (commentRow) TableName() string { return "comments" }

func toEmployee(r employeeRow) model.Employee {
	return model.Employee{
		ID:         r.ID,
		Name:       r.Name,
		Email:      r.Email,
		Role:       r.Role,
		Department: r.Department,
		CreatedAt:  r.CreatedAt,
	}
}

func toProject(r projectRow) model.Project {
	return model.Project{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Status:      r.Status,
		OwnerID:     r.OwnerID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func fromNotification(n model.Notification) notificationRow {
	return notificationRow{
		ID:        n.ID,
		UserID:    n.UserID,
		ActorID:   n.ActorID,
		TaskID:    n.TaskID,
		ProjectID: n.ProjectID,
		Kind:      n.Kind,
		Message:   n.Message,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

func fromComment(c model.Comment) commentRow {
	return commentRow{
		ID:        c.ID,
		TaskID:    c.TaskID,
		AuthorID:  c.AuthorID,
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func fromTask(t model.Task) taskRow {
	return taskRow{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		AssigneeID:  t.AssigneeID,
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
