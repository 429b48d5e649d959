// Package livetest provides in-memory fakes of the remote collection
// API and the change feed for exercising live collections in tests.
package livetest

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nhle/portal/internal/live"
)

// ErrUnavailable is a convenient failure for FetchErr and friends.
var ErrUnavailable = errors.New("backend unavailable")

// Remote is a fake live.Remote holding records in memory.
type Remote[T live.Record, P live.Patch[T]] struct {
	mu      sync.Mutex
	records []T

	// FetchErr, InsertErr and UpdateErr make the matching call fail.
	FetchErr  error
	InsertErr error
	UpdateErr error

	// FetchHook runs at the start of every Fetch, before the lock is
	// taken. Tests use it to block a fetch until they release it.
	FetchHook func(ctx context.Context) error

	// UpdateHook runs at the start of every UpdateByID.
	UpdateHook func(ctx context.Context, id string) error

	// OnInsert is called with each stored record after a successful
	// Insert, typically to push it through a Feed.
	OnInsert func(T)

	Fetches atomic.Int32
	Inserts atomic.Int32
	Updates atomic.Int32
}

// NewRemote returns a Remote seeded with records.
func NewRemote[T live.Record, P live.Patch[T]](records ...T) *Remote[T, P] {
	return &Remote[T, P]{records: slices.Clone(records)}
}

// Fetch returns the records scoped to q.SubjectID, ordered and limited.
func (r *Remote[T, P]) Fetch(ctx context.Context, q live.Query) ([]T, error) {
	r.Fetches.Add(1)
	if r.FetchHook != nil {
		if err := r.FetchHook(ctx); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FetchErr != nil {
		return nil, r.FetchErr
	}

	var out []T
	for _, rec := range r.records {
		if rec.Scope() == q.SubjectID {
			out = append(out, rec)
		}
	}
	slices.SortStableFunc(out, func(a, b T) int {
		cmp := a.OrderedAt().Compare(b.OrderedAt())
		if cmp == 0 {
			cmp = strings.Compare(a.Key(), b.Key())
		}
		if q.Order == live.NewestFirst {
			return -cmp
		}
		return cmp
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert stores draft as-is and returns it.
func (r *Remote[T, P]) Insert(ctx context.Context, draft T) (T, error) {
	r.Inserts.Add(1)

	r.mu.Lock()
	if r.InsertErr != nil {
		err := r.InsertErr
		r.mu.Unlock()
		var zero T
		return zero, err
	}
	r.records = append(r.records, draft)
	hook := r.OnInsert
	r.mu.Unlock()

	if hook != nil {
		hook(draft)
	}
	return draft, nil
}

// UpdateByID applies patch to the stored record with id.
func (r *Remote[T, P]) UpdateByID(ctx context.Context, id string, patch P) error {
	r.Updates.Add(1)
	if r.UpdateHook != nil {
		if err := r.UpdateHook(ctx, id); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.UpdateErr != nil {
		return r.UpdateErr
	}
	i := slices.IndexFunc(r.records, func(rec T) bool { return rec.Key() == id })
	if i < 0 {
		return errors.New("no row with id " + id)
	}
	r.records[i] = patch.Apply(r.records[i])
	return nil
}

// Add stores records without going through Insert.
func (r *Remote[T, P]) Add(records ...T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
}

// Get returns the stored record with id.
func (r *Remote[T, P]) Get(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Key() == id {
			return rec, true
		}
	}
	var zero T
	return zero, false
}

// SetFetchErr sets FetchErr under the lock.
func (r *Remote[T, P]) SetFetchErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FetchErr = err
}

// Feed is a fake live.Feed. Push delivers a record to every open
// subscription whose filter matches the record's scope.
type Feed[T live.Record] struct {
	mu     sync.Mutex
	subs   map[int]*feedSub[T]
	nextID int

	// SubscribeErr makes Subscribe fail.
	SubscribeErr error
}

type feedSub[T live.Record] struct {
	feed     *Feed[T]
	id       int
	filter   live.Filter
	onInsert func(T)
	once     sync.Once
}

func (s *feedSub[T]) Unsubscribe() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s.id)
		s.feed.mu.Unlock()
	})
	return nil
}

// NewFeed returns an empty Feed.
func NewFeed[T live.Record]() *Feed[T] {
	return &Feed[T]{subs: make(map[int]*feedSub[T])}
}

// Subscribe registers onInsert for records matching f.
func (f *Feed[T]) Subscribe(ctx context.Context, filter live.Filter, onInsert func(T)) (live.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}
	f.nextID++
	s := &feedSub[T]{feed: f, id: f.nextID, filter: filter, onInsert: onInsert}
	f.subs[s.id] = s
	return s, nil
}

// Push delivers record synchronously and returns the number of
// subscriptions it reached.
func (f *Feed[T]) Push(record T) int {
	f.mu.Lock()
	var targets []func(T)
	for _, s := range f.subs {
		if s.filter.SubjectID == record.Scope() {
			targets = append(targets, s.onInsert)
		}
	}
	f.mu.Unlock()

	for _, fn := range targets {
		fn(record)
	}
	return len(targets)
}

// Active returns the number of open subscriptions.
func (f *Feed[T]) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
