// Package mailbridge turns email replies into task comments. A reply
// counts when its subject carries a [task:<id>] tag and it was sent
// from the address of a known employee.
package mailbridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/store"
)

// Mailbox is the source of inbound replies.
type Mailbox interface {
	Unseen(ctx context.Context) ([]Message, error)
	MarkSeen(ctx context.Context, uids []uint32) error
}

// Store is the subset of store.Store the bridge writes through.
type Store interface {
	GetEmployeeByEmail(ctx context.Context, email string) (*model.Employee, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	CreateComment(ctx context.Context, c model.Comment) (model.Comment, error)
}

// Result summarizes one poll.
type Result struct {
	Posted  int
	Skipped int
}

// Bridge polls a Mailbox and posts replies as comments. Comments go
// through the store, so they reach live threads on the change feed
// like any other insert.
type Bridge struct {
	mailbox  Mailbox
	store    Store
	interval time.Duration
	log      zerolog.Logger
}

// New creates a bridge polling every interval.
func New(mailbox Mailbox, s Store, interval time.Duration, log zerolog.Logger) *Bridge {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Bridge{
		mailbox:  mailbox,
		store:    s,
		interval: interval,
		log:      log.With().Str("component", "mailbridge").Logger(),
	}
}

// Run polls until ctx is canceled. Poll failures are logged and
// retried on the next tick.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if res, err := b.Poll(ctx); err != nil {
			b.log.Error().Err(err).Msg("mail poll failed")
		} else if res.Posted > 0 || res.Skipped > 0 {
			b.log.Info().Int("posted", res.Posted).Int("skipped", res.Skipped).Msg("mail poll")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll processes every unseen message once. Messages that were posted
// or can never be posted are marked seen; messages that failed on a
// store error stay unseen and are retried.
func (b *Bridge) Poll(ctx context.Context) (Result, error) {
	var res Result

	msgs, err := b.mailbox.Unseen(ctx)
	if err != nil {
		return res, fmt.Errorf("reading mailbox: %w", err)
	}

	var handled []uint32
	var errs []error
	for _, msg := range msgs {
		posted, err := b.handle(ctx, msg)
		switch {
		case err != nil:
			errs = append(errs, err)
			continue
		case posted:
			res.Posted++
		default:
			res.Skipped++
		}
		handled = append(handled, msg.UID)
	}

	if err := b.mailbox.MarkSeen(ctx, handled); err != nil {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

// handle posts msg. It returns false with no error when msg is not a
// usable reply.
func (b *Bridge) handle(ctx context.Context, msg Message) (bool, error) {
	log := b.log.With().Uint32("uid", msg.UID).Str("from", msg.From).Logger()

	taskID, ok := ExtractTaskRef(msg.Subject)
	if !ok {
		log.Debug().Str("subject", msg.Subject).Msg("no task tag, skipping")
		return false, nil
	}

	body := StripQuoted(msg.Text)
	if body == "" {
		log.Debug().Str("task", taskID).Msg("empty reply, skipping")
		return false, nil
	}

	author, err := b.store.GetEmployeeByEmail(ctx, msg.From)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Str("task", taskID).Msg("reply from unknown sender, skipping")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := b.store.GetTask(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Str("task", taskID).Msg("reply to unknown task, skipping")
			return false, nil
		}
		return false, err
	}

	c := model.Comment{TaskID: taskID, AuthorID: author.ID, Body: body, CreatedAt: postedAt(msg.Date, time.Now())}
	if _, err := b.store.CreateComment(ctx, c); err != nil {
		return false, fmt.Errorf("posting reply %d on task %s: %w", msg.UID, taskID, err)
	}

	log.Info().Str("task", taskID).Str("author", author.ID).Msg("reply posted as comment")
	return true, nil
}

// postedAt is the sender's Date header, never later than now. The header
// is set by the sending client, so a skewed clock must not float a reply
// above newer comments and notifications.
func postedAt(sent, now time.Time) time.Time {
	if sent.IsZero() || sent.After(now) {
		return now.UTC()
	}
	return sent.UTC()
}
