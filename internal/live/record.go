package live

import (
	"context"
	"time"
)

// Record is an item held by a Collection.
type Record interface {
	// Key is the record id, stable across fetch, push and update.
	Key() string

	// Scope is the subject id the record belongs to. It never changes.
	Scope() string

	// OrderedAt is the creation time, the only ordering key.
	OrderedAt() time.Time
}

// Patch is a whole-field update for a record of type T.
type Patch[T any] interface {
	Apply(T) T
}

// Query selects the records of one subject.
type Query struct {
	Table     string
	SubjectID string
	Order     Order

	// Limit caps the number of records returned; zero means no limit.
	// The remote applies it after ordering, so NewestFirst with a limit
	// returns the most recent records.
	Limit int
}

// Remote is the hosted row store behind a collection.
type Remote[T Record, P any] interface {
	Fetch(ctx context.Context, q Query) ([]T, error)
	Insert(ctx context.Context, draft T) (T, error)
	UpdateByID(ctx context.Context, id string, patch P) error
}

// Filter scopes a change-feed subscription to one table and subject.
type Filter struct {
	Table     string
	SubjectID string
}

// Subscription is a handle on an open change-feed subscription.
// Unsubscribe must be safe to call more than once.
type Subscription interface {
	Unsubscribe() error
}

// Feed delivers insert events for a single subject. onInsert may be
// called from any goroutine.
type Feed[T Record] interface {
	Subscribe(ctx context.Context, f Filter, onInsert func(T)) (Subscription, error)
}
