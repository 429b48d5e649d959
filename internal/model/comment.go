package model

import "time"

// Comment is a single message in a task's discussion thread.
type Comment struct {
	ID        string    `json:"id" db:"id" cbor:"id"`
	TaskID    string    `json:"task_id" db:"task_id" cbor:"task_id"`
	AuthorID  string    `json:"author_id" db:"author_id" cbor:"author_id"`
	Body      string    `json:"body" db:"body" cbor:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at" cbor:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" cbor:"updated_at"`

	// AuthorName is joined from employees.
	AuthorName string `json:"author_name,omitempty" db:"author_name" cbor:"author_name,omitempty"`
}

// CommentPatch is a whole-field update applied by id.
type CommentPatch struct {
	Body *string `json:"body,omitempty" cbor:"body,omitempty"`

	// UpdatedAt is the edit time shown locally until the stored row is
	// read back. Stores ignore it and stamp their own clock.
	UpdatedAt *time.Time `json:"updated_at,omitempty" cbor:"updated_at,omitempty"`
}

// Apply returns c with every set field of the patch replaced.
func (p CommentPatch) Apply(c Comment) Comment {
	if p.Body != nil {
		c.Body = *p.Body
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
	return c
}
