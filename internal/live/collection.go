// Package live keeps a local, ordered view of a server-owned collection
// scoped to one subject, reconciling the initial fetch, confirmed local
// writes and change-feed pushes.
package live

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type ackedPatch[P any] struct {
	seq     uint64
	subject string
	id      string
	patch   P
}

// Collection is the live view of one subject's records.
//
// Every entry point (push callbacks, user actions, fetch completions)
// goes through one critical section, so the collection behaves as if
// driven by a single serialized event queue. Remote calls run outside
// it. Each Initialize starts a new generation; work that completes for
// an older generation is discarded.
type Collection[T Record, P Patch[T]] struct {
	remote Remote[T, P]
	feed   Feed[T]
	policy Policy
	log    zerolog.Logger

	mu       sync.Mutex
	subject  string
	gen      uint64
	genCtx   context.Context
	cancel   context.CancelFunc
	sub      Subscription
	state    State
	err      error
	records  []T
	ids      map[string]struct{}
	inflight int
	version  uint64

	// writeSeq counts acknowledged updates. While fetches are in flight,
	// acked holds the updates acknowledged since the oldest of them
	// started so they can be laid over the fetched rows.
	writeSeq uint64
	fetching []uint64
	acked    []ackedPatch[P]

	locks   keyedLocks
	changes chan struct{}
}

// New creates an uninitialized collection. feed may be nil, in which
// case the collection only ever reflects fetches and local writes.
func New[T Record, P Patch[T]](
	remote Remote[T, P],
	feed Feed[T],
	policy Policy,
	log zerolog.Logger,
) *Collection[T, P] {
	return &Collection[T, P]{
		remote:  remote,
		feed:    feed,
		policy:  policy,
		log:     log.With().Str("table", policy.Table).Logger(),
		ids:     make(map[string]struct{}),
		changes: make(chan struct{}, 1),
	}
}

// Policy returns the collection's policy.
func (c *Collection[T, P]) Policy() Policy {
	return c.policy
}

// Changes returns a channel that receives a value after the collection
// changes. Signals are coalesced; read Snapshot after each one.
func (c *Collection[T, P]) Changes() <-chan struct{} {
	return c.changes
}

// Snapshot returns a copy of the current state.
func (c *Collection[T, P]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot[T]{
		SubjectID: c.subject,
		State:     c.state,
		Records:   slices.Clone(c.records),
		Err:       c.err,
		Version:   c.version,
	}
}

// Initialize binds the collection to subjectID. It drops any previous
// subject, fetches the subject's records and then opens a change-feed
// subscription. A failed fetch leaves the collection empty in
// StateError and returns a *FetchError. A failed subscription is only
// logged; the collection keeps working without pushes.
func (c *Collection[T, P]) Initialize(ctx context.Context, subjectID string) error {
	c.mu.Lock()
	old := c.detachLocked()
	c.gen++
	gen := c.gen
	c.genCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	genCtx := c.genCtx
	c.subject = subjectID
	c.state = StateLoading
	c.err = nil
	c.inflight = 0
	c.resetRecordsLocked()
	c.publishLocked()
	start := c.beginFetchLocked()
	c.mu.Unlock()

	unsubscribe(old, c.log)

	fetchCtx, stop := scoped(ctx, genCtx)
	records, err := c.remote.Fetch(fetchCtx, c.query(subjectID))
	stop()

	c.mu.Lock()
	if c.gen != gen {
		c.endFetchLocked(start)
		c.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		fetchErr := &FetchError{Table: c.policy.Table, SubjectID: subjectID, Err: err}
		c.state = StateError
		c.err = fetchErr
		c.resetRecordsLocked()
		c.cancel()
		c.cancel = nil
		c.endFetchLocked(start)
		c.publishLocked()
		c.mu.Unlock()

		c.log.Error().Err(err).Str("subject", subjectID).Msg("initial fetch failed")
		return fetchErr
	}
	c.replaceLocked(records)
	c.reapplyLocked(start)
	c.endFetchLocked(start)
	c.state = StateReady
	c.publishLocked()
	c.mu.Unlock()

	c.log.Debug().
		Str("subject", subjectID).
		Int("records", len(records)).
		Msg("collection loaded")

	c.subscribe(genCtx, gen, subjectID)
	return nil
}

// Refresh re-initializes the collection for its current subject. It is
// the manual retry path; the collection never retries on its own.
func (c *Collection[T, P]) Refresh(ctx context.Context) error {
	c.mu.Lock()
	subject := c.subject
	c.mu.Unlock()

	if subject == "" {
		return ErrNotReady
	}
	return c.Initialize(ctx, subject)
}

// Teardown releases the subscription, abandons in-flight fetches and
// empties the collection. It is safe to call any number of times.
func (c *Collection[T, P]) Teardown() {
	c.mu.Lock()
	old := c.detachLocked()
	c.gen++
	wasActive := c.state != StateUninitialized
	c.subject = ""
	c.state = StateUninitialized
	c.err = nil
	c.inflight = 0
	c.resetRecordsLocked()
	if wasActive {
		c.publishLocked()
	}
	c.mu.Unlock()

	unsubscribe(old, c.log)
}

// ApplyPushEvent inserts record if its id is new and it belongs to the
// current subject. Pushes are additive only: a known id is a no-op. It
// reports whether the collection changed.
func (c *Collection[T, P]) ApplyPushEvent(record T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.applyLocked(record)
}

// Mutate sends patch to the remote and, only once the remote has
// acknowledged it, merges it into the local record. On failure the
// local record is unchanged and a *RemoteUpdateError is returned.
// Mutations of the same id run one at a time.
//
// An acknowledged patch is kept for as long as a fetch that may predate
// it is in flight, and is merged again over that fetch's rows. It is
// also merged when the collection was refreshed for the same subject
// while the update was in flight.
func (c *Collection[T, P]) Mutate(ctx context.Context, id string, patch P) error {
	unlock := c.locks.lock(id)
	defer unlock()

	c.mu.Lock()
	if !c.readyLocked() {
		c.mu.Unlock()
		return ErrNotReady
	}
	if _, ok := c.ids[id]; !ok {
		c.mu.Unlock()
		return ErrRecordNotFound
	}
	gen := c.beginLocked()
	subject := c.subject
	c.mu.Unlock()

	err := c.remote.UpdateByID(ctx, id, patch)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.endLocked(gen)
		c.log.Warn().Err(err).Str("id", id).Msg("remote update failed")
		return &RemoteUpdateError{Op: "update", ID: id, Err: err}
	}
	c.writeSeq++
	if len(c.fetching) > 0 {
		c.acked = append(c.acked, ackedPatch[P]{seq: c.writeSeq, subject: subject, id: id, patch: patch})
	}
	if c.subject == subject {
		if i := c.indexLocked(id); i >= 0 {
			c.records[i] = patch.Apply(c.records[i])
			c.sortLocked()
			if c.gen != gen {
				c.publishLocked()
			}
		}
	}
	c.endLocked(gen)
	return nil
}

// Submit inserts draft remotely and returns the stored record. How the
// new record reaches the collection depends on the policy's ConfirmMode.
func (c *Collection[T, P]) Submit(ctx context.Context, draft T) (T, error) {
	var zero T

	c.mu.Lock()
	if !c.readyLocked() {
		c.mu.Unlock()
		return zero, ErrNotReady
	}
	gen := c.beginLocked()
	subject := c.subject
	genCtx := c.genCtx
	c.mu.Unlock()

	created, err := c.remote.Insert(ctx, draft)
	if err != nil {
		c.mu.Lock()
		c.endLocked(gen)
		c.mu.Unlock()

		c.log.Warn().Err(err).Str("subject", subject).Msg("remote insert failed")
		return zero, &RemoteUpdateError{Op: "insert", ID: draft.Key(), Err: err}
	}

	switch c.policy.Confirm {
	case ConfirmByRefetch:
		c.mu.Lock()
		start := c.beginFetchLocked()
		c.mu.Unlock()

		fetchCtx, stop := scoped(ctx, genCtx)
		records, fetchErr := c.remote.Fetch(fetchCtx, c.query(subject))
		stop()

		c.mu.Lock()
		if c.gen == gen {
			if fetchErr != nil {
				c.log.Warn().Err(fetchErr).Str("subject", subject).
					Msg("refetch after insert failed, inserting acknowledged record")
				c.insertIfAbsentLocked(created)
			} else {
				c.replaceLocked(records)
				c.reapplyLocked(start)
			}
		}
		c.endFetchLocked(start)
		c.endLocked(gen)
		c.mu.Unlock()

	case ConfirmByInsert:
		c.mu.Lock()
		if c.gen == gen {
			c.insertIfAbsentLocked(created)
		}
		c.endLocked(gen)
		c.mu.Unlock()

	default:
		c.mu.Lock()
		c.endLocked(gen)
		c.mu.Unlock()
	}

	return created, nil
}

func (c *Collection[T, P]) query(subjectID string) Query {
	return Query{
		Table:     c.policy.Table,
		SubjectID: subjectID,
		Order:     c.policy.Order,
		Limit:     c.policy.Limit,
	}
}

// subscribe opens the change feed for generation gen. If the collection
// moved on while Subscribe was in flight the new subscription is
// released immediately.
func (c *Collection[T, P]) subscribe(ctx context.Context, gen uint64, subjectID string) {
	if c.feed == nil {
		return
	}

	filter := Filter{Table: c.policy.Table, SubjectID: subjectID}
	sub, err := c.feed.Subscribe(ctx, filter, func(record T) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return
		}
		c.applyLocked(record)
	})
	if err != nil {
		subErr := &SubscriptionError{Table: c.policy.Table, SubjectID: subjectID, Err: err}
		c.log.Warn().Err(subErr).Msg("change feed unavailable, continuing without pushes")
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		unsubscribe(sub, c.log)
		return
	}
	c.sub = sub
	c.mu.Unlock()
}

// detachLocked cancels the current generation and hands back its
// subscription. The caller unsubscribes after releasing c.mu, since a
// feed may wait for a delivery that is itself waiting on c.mu.
func (c *Collection[T, P]) detachLocked() Subscription {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.genCtx = nil
	sub := c.sub
	c.sub = nil
	return sub
}

func (c *Collection[T, P]) readyLocked() bool {
	return c.state == StateReady || c.state == StateMutating
}

// beginLocked enters StateMutating and returns the current generation.
func (c *Collection[T, P]) beginLocked() uint64 {
	c.inflight++
	if c.state == StateReady {
		c.state = StateMutating
		c.publishLocked()
	}
	return c.gen
}

// endLocked leaves StateMutating once the last in-flight write for
// generation gen completes. Writes from older generations are ignored.
func (c *Collection[T, P]) endLocked(gen uint64) {
	if c.gen != gen {
		return
	}
	if c.inflight > 0 {
		c.inflight--
	}
	if c.inflight == 0 && c.state == StateMutating {
		c.state = StateReady
	}
	c.publishLocked()
}

func (c *Collection[T, P]) applyLocked(record T) bool {
	if !c.readyLocked() || record.Scope() != c.subject {
		return false
	}
	if !c.insertIfAbsentLocked(record) {
		return false
	}
	c.publishLocked()
	return true
}

// insertIfAbsentLocked reports whether record is held afterwards. A
// record older than everything held at capacity is evicted right away
// and counts as not inserted.
func (c *Collection[T, P]) insertIfAbsentLocked(record T) bool {
	if record.Scope() != c.subject {
		return false
	}
	if _, ok := c.ids[record.Key()]; ok {
		return false
	}
	c.records = append(c.records, record)
	c.ids[record.Key()] = struct{}{}
	c.sortLocked()
	c.evictLocked()
	_, held := c.ids[record.Key()]
	return held
}

// beginFetchLocked registers a fetch about to read remote rows and
// returns the write sequence it starts from.
func (c *Collection[T, P]) beginFetchLocked() uint64 {
	c.fetching = append(c.fetching, c.writeSeq)
	return c.writeSeq
}

// endFetchLocked unregisters a fetch started at start and forgets the
// acknowledged patches no remaining fetch can be missing.
func (c *Collection[T, P]) endFetchLocked(start uint64) {
	if i := slices.Index(c.fetching, start); i >= 0 {
		c.fetching = slices.Delete(c.fetching, i, i+1)
	}
	if len(c.fetching) == 0 {
		c.acked = nil
		return
	}
	oldest := slices.Min(c.fetching)
	c.acked = slices.DeleteFunc(c.acked, func(a ackedPatch[P]) bool { return a.seq <= oldest })
}

// reapplyLocked merges the patches acknowledged after start over the
// current records. Patches replace whole fields, so merging one the
// fetched rows already reflect changes nothing.
func (c *Collection[T, P]) reapplyLocked(start uint64) {
	changed := false
	for _, a := range c.acked {
		if a.seq <= start || a.subject != c.subject {
			continue
		}
		if i := c.indexLocked(a.id); i >= 0 {
			c.records[i] = a.patch.Apply(c.records[i])
			changed = true
		}
	}
	if changed {
		c.sortLocked()
	}
}

// replaceLocked swaps in a fetched record set, dropping duplicate ids
// (first occurrence wins) and records of other subjects.
func (c *Collection[T, P]) replaceLocked(records []T) {
	c.resetRecordsLocked()
	for _, r := range records {
		if r.Scope() != c.subject {
			continue
		}
		if _, ok := c.ids[r.Key()]; ok {
			continue
		}
		c.ids[r.Key()] = struct{}{}
		c.records = append(c.records, r)
	}
	c.sortLocked()
	c.evictLocked()
}

func (c *Collection[T, P]) resetRecordsLocked() {
	c.records = nil
	c.ids = make(map[string]struct{})
}

func (c *Collection[T, P]) sortLocked() {
	slices.SortStableFunc(c.records, func(a, b T) int {
		cmp := a.OrderedAt().Compare(b.OrderedAt())
		if cmp == 0 {
			cmp = strings.Compare(a.Key(), b.Key())
		}
		if c.policy.Order == NewestFirst {
			return -cmp
		}
		return cmp
	})
}

// evictLocked drops the oldest records beyond the policy capacity.
// Records must already be sorted.
func (c *Collection[T, P]) evictLocked() {
	capacity := c.policy.Capacity
	if capacity <= 0 || len(c.records) <= capacity {
		return
	}

	var evicted []T
	if c.policy.Order == NewestFirst {
		evicted = c.records[capacity:]
		c.records = slices.Clone(c.records[:capacity])
	} else {
		evicted = c.records[:len(c.records)-capacity]
		c.records = slices.Clone(c.records[len(c.records)-capacity:])
	}
	for _, r := range evicted {
		delete(c.ids, r.Key())
	}
}

func (c *Collection[T, P]) indexLocked(id string) int {
	return slices.IndexFunc(c.records, func(r T) bool { return r.Key() == id })
}

// publishLocked bumps the version and signals Changes without blocking.
func (c *Collection[T, P]) publishLocked() {
	c.version++
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// scoped returns a context canceled when either the caller's ctx or the
// collection generation ends.
func scoped(ctx, genCtx context.Context) (context.Context, context.CancelFunc) {
	if genCtx == nil {
		return ctx, func() {}
	}
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(genCtx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

func unsubscribe(sub Subscription, log zerolog.Logger) {
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Debug().Err(err).Msg("unsubscribe failed")
	}
}
