package model

import "time"

// Notification kinds.
const (
	NotificationTaskAssigned  = "task_assigned"
	NotificationTaskCommented = "task_commented"
	NotificationTaskStatus    = "task_status"
)

// Notification is an alert surfaced to one employee about activity
// on a task or project.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id" db:"id" cbor:"id"`

	// UserID is the recipient. It scopes the notification feed.
	UserID string `json:"user_id" db:"user_id" cbor:"user_id"`

	// ActorID is the employee whose action produced the notification.
	ActorID *string `json:"actor_id,omitempty" db:"actor_id" cbor:"actor_id,omitempty"`

	TaskID    *string `json:"task_id,omitempty" db:"task_id" cbor:"task_id,omitempty"`
	ProjectID *string `json:"project_id,omitempty" db:"project_id" cbor:"project_id,omitempty"`

	// Kind is one of the Notification* constants.
	Kind string `json:"kind" db:"kind" cbor:"kind"`

	// Message is the human-readable notification text.
	Message string `json:"message" db:"message" cbor:"message"`

	// Read indicates whether the recipient has seen this notification.
	Read bool `json:"read" db:"read" cbor:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at" db:"created_at" cbor:"created_at"`

	// Joined presentation fields. Never written back.
	ActorName   string `json:"actor_name,omitempty" db:"actor_name" cbor:"actor_name,omitempty"`
	ProjectName string `json:"project_name,omitempty" db:"project_name" cbor:"project_name,omitempty"`
	TaskTitle   string `json:"task_title,omitempty" db:"task_title" cbor:"task_title,omitempty"`
}

// NotificationPatch is a whole-field update applied by id.
type NotificationPatch struct {
	Read *bool `json:"read,omitempty" cbor:"read,omitempty"`
}

// Apply returns n with every set field of the patch replaced.
func (p NotificationPatch) Apply(n Notification) Notification {
	if p.Read != nil {
		n.Read = *p.Read
	}
	return n
}

// MarkReadPatch returns a patch that flips the read flag on.
func MarkReadPatch() NotificationPatch {
	read := true
	return NotificationPatch{Read: &read}
}
