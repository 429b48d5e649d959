// Package notify keeps an employee's recent notifications live.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
)

// DefaultLimit is the number of notifications fetched and held.
const DefaultLimit = 10

// Remote and Source are the backend collaborators of a Feed.
type (
	Remote = live.Remote[model.Notification, model.NotificationPatch]
	Source = live.Feed[model.Notification]
)

// Policy returns the collection policy for a feed holding limit
// notifications. New notifications only arrive through the change feed.
func Policy(limit int) live.Policy {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return live.Policy{
		Table:    model.TableNotifications,
		Order:    live.NewestFirst,
		Limit:    limit,
		Capacity: limit,
		Confirm:  live.ConfirmByPush,
	}
}

// Feed is the live notification list of one employee.
type Feed struct {
	coll *live.Collection[model.Notification, model.NotificationPatch]
}

// New creates a feed. Call Initialize with the employee id to load it.
func New(remote Remote, source Source, limit int, log zerolog.Logger) *Feed {
	return &Feed{
		coll: live.New[model.Notification, model.NotificationPatch](
			remote, source, Policy(limit), log.With().Str("component", "notify").Logger(),
		),
	}
}

// Initialize loads the notifications of userID and starts listening for
// new ones.
func (f *Feed) Initialize(ctx context.Context, userID string) error {
	return f.coll.Initialize(ctx, userID)
}

// Refresh reloads the current employee's notifications.
func (f *Feed) Refresh(ctx context.Context) error {
	return f.coll.Refresh(ctx)
}

// Teardown stops listening and clears the feed.
func (f *Feed) Teardown() {
	f.coll.Teardown()
}

// Snapshot returns the current notifications, newest first.
func (f *Feed) Snapshot() live.Snapshot[model.Notification] {
	return f.coll.Snapshot()
}

// Changes signals after the feed changes.
func (f *Feed) Changes() <-chan struct{} {
	return f.coll.Changes()
}

// Unread returns the number of unread notifications held.
func (f *Feed) Unread() int {
	return CountUnread(f.coll.Snapshot().Records)
}

// CountUnread counts the records whose read flag is off.
func CountUnread(records []model.Notification) int {
	n := 0
	for _, r := range records {
		if !r.Read {
			n++
		}
	}
	return n
}

// MarkRead marks notification id as read once the backend confirms it.
// Marking an already-read notification is harmless: the unread count is
// derived from the records, so it drops by at most one and never below
// zero.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	if err := f.coll.Mutate(ctx, id, model.MarkReadPatch()); err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead marks every unread notification currently held as read.
// It keeps going after a failure and returns the joined errors.
func (f *Feed) MarkAllRead(ctx context.Context) error {
	var errs []error
	for _, n := range f.coll.Snapshot().Records {
		if n.Read {
			continue
		}
		if err := f.MarkRead(ctx, n.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
