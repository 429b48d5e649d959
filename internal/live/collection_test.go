package live_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/live/livetest"
)

type item struct {
	ID      string
	Subject string
	Body    string
	At      time.Time
}

func (i item) Key() string          { return i.ID }
func (i item) Scope() string        { return i.Subject }
func (i item) OrderedAt() time.Time { return i.At }

type itemPatch struct {
	Body *string
}

func (p itemPatch) Apply(i item) item {
	if p.Body != nil {
		i.Body = *p.Body
	}
	return i
}

func bodyPatch(s string) itemPatch { return itemPatch{Body: &s} }

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(id, subject string, minutes int) item {
	return item{ID: id, Subject: subject, Body: id, At: base.Add(time.Duration(minutes) * time.Minute)}
}

func ids(records []item) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

type fixture struct {
	remote *livetest.Remote[item, itemPatch]
	feed   *livetest.Feed[item]
	coll   *live.Collection[item, itemPatch]
}

func newFixture(policy live.Policy, seed ...item) *fixture {
	remote := livetest.NewRemote[item, itemPatch](seed...)
	feed := livetest.NewFeed[item]()
	if policy.Table == "" {
		policy.Table = "items"
	}
	return &fixture{
		remote: remote,
		feed:   feed,
		coll:   live.New[item, itemPatch](remote, feed, policy, zerolog.Nop()),
	}
}

func TestInitialize_FetchesSubjectRecordsInOrder(t *testing.T) {
	f := newFixture(live.Policy{Order: live.NewestFirst, Limit: 10},
		at("a1", "alice", 1),
		at("b1", "bob", 2),
		at("a3", "alice", 3),
		at("a2", "alice", 2),
	)

	require.NoError(t, f.coll.Initialize(context.Background(), "alice"))

	snap := f.coll.Snapshot()
	assert.Equal(t, live.StateReady, snap.State)
	assert.Equal(t, "alice", snap.SubjectID)
	assert.Equal(t, []string{"a3", "a2", "a1"}, ids(snap.Records))
	assert.Equal(t, 1, f.feed.Active())
}

func TestInitialize_OldestFirstBreaksTiesByID(t *testing.T) {
	f := newFixture(live.Policy{Order: live.OldestFirst},
		at("c2", "task-1", 5),
		at("c1", "task-1", 5),
		at("c0", "task-1", 1),
	)

	require.NoError(t, f.coll.Initialize(context.Background(), "task-1"))
	assert.Equal(t, []string{"c0", "c1", "c2"}, ids(f.coll.Snapshot().Records))
}

func TestInitialize_FetchFailureLeavesErrorState(t *testing.T) {
	f := newFixture(live.Policy{Order: live.NewestFirst}, at("a1", "alice", 1))
	f.remote.SetFetchErr(livetest.ErrUnavailable)

	err := f.coll.Initialize(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, live.IsFetchError(err))
	assert.ErrorIs(t, err, livetest.ErrUnavailable)

	snap := f.coll.Snapshot()
	assert.Equal(t, live.StateError, snap.State)
	assert.Empty(t, snap.Records)
	assert.True(t, live.IsFetchError(snap.Err))
	assert.Equal(t, 0, f.feed.Active(), "no subscription after a failed fetch")

	f.remote.SetFetchErr(nil)
	require.NoError(t, f.coll.Refresh(context.Background()))

	snap = f.coll.Snapshot()
	assert.Equal(t, live.StateReady, snap.State)
	assert.NoError(t, snap.Err)
	assert.Equal(t, []string{"a1"}, ids(snap.Records))
}

func TestRefresh_WithoutSubject(t *testing.T) {
	f := newFixture(live.Policy{})
	assert.ErrorIs(t, f.coll.Refresh(context.Background()), live.ErrNotReady)
}

func TestInitialize_SubscriptionFailureIsNotFatal(t *testing.T) {
	f := newFixture(live.Policy{Order: live.NewestFirst}, at("a1", "alice", 1))
	f.feed.SubscribeErr = errors.New("socket closed")

	require.NoError(t, f.coll.Initialize(context.Background(), "alice"))

	snap := f.coll.Snapshot()
	assert.Equal(t, live.StateReady, snap.State)
	assert.Equal(t, []string{"a1"}, ids(snap.Records))
	assert.Equal(t, 0, f.feed.Active())
}

func TestApplyPushEvent_IsIdempotent(t *testing.T) {
	f := newFixture(live.Policy{Order: live.NewestFirst}, at("a1", "alice", 1))
	require.NoError(t, f.coll.Initialize(context.Background(), "alice"))

	pushed := at("a2", "alice", 2)
	assert.Equal(t, 1, f.feed.Push(pushed))
	assert.Equal(t, 1, f.feed.Push(pushed))
	assert.False(t, f.coll.ApplyPushEvent(pushed))

	assert.Equal(t, []string{"a2", "a1"}, ids(f.coll.Snapshot().Records))
}

func TestApplyPushEvent_IgnoresFetchedIDs(t *testing.T) {
	f := newFixture(live.Policy{Order: live.NewestFirst}, at("a1", "alice", 1))
	require.NoError(t, f.coll.Initialize(context.Background(), "alice"))

	assert.False(t, f.coll.ApplyPushEvent(at("a1", "alice", 1)))
	assert.Len(t, f.coll.Snapshot().Records, 1)
}

func TestApplyPushEvent_IgnoresOtherSubjects(t *testing.T) {
	f := newFixture(live.Policy{Order: live.NewestFirst})
	require.NoError(t, f.coll.Initialize(context.Background(), "alice"))

	assert.False(t, f.coll.ApplyPushEvent(at("b1", "bob", 1)))
	assert.Empty(t, f.coll.Snapshot().Records)
}

func TestApplyPushEvent_BeforeInitializeIsDropped(t *testing.T) {
	f := newFixture(live.Policy{})
	assert.False(t, f.coll.ApplyPushEvent(at("a1", "", 1)))
	assert.Equal(t, live.StateUninitialized, f.coll.Snapshot().State)
}

func TestApplyPushEvent_EvictsOldestBeyondCapacity(t *testing.T) {
	t.Run("newest first", func(t *testing.T) {
		f := newFixture(live.Policy{Order: live.NewestFirst, Limit: 2, Capacity: 2},
			at("a1", "alice", 1), at("a2", "alice", 2))
		require.NoError(t, f.coll.Initialize(context.Background(), "alice"))

		f.feed.Push(at("a3", "alice", 3))
		assert.Equal(t, []string{"a3", "a2"}, ids(f.coll.Snapshot().Records))

		// The evicted id is forgotten, so a redelivery of it is older
		// than everything held and is evicted again.
		before := f.coll.Snapshot().Version
		assert.False(t, f.coll.ApplyPushEvent(at("a1", "alice", 1)))
		snap := f.coll.Snapshot()
		assert.Equal(t, []string{"a3", "a2"}, ids(snap.Records))
		assert.Equal(t, before, snap.Version, "an evicted push publishes nothing")
	})

	t.Run("older than everything held", func(t *testing.T) {
		f := newFixture(live.Policy{Order: live.OldestFirst, Capacity: 2},
			at("b", "task", 5), at("a", "task", 6))
		require.NoError(t, f.coll.Initialize(context.Background(), "task"))
		before := f.coll.Snapshot().Version

		assert.False(t, f.coll.ApplyPushEvent(at("old", "task", 1)))
		snap := f.coll.Snapshot()
		assert.Equal(t, []string{"b", "a"}, ids(snap.Records))
		assert.Equal(t, before, snap.Version)

		assert.True(t, f.coll.ApplyPushEvent(at("new", "task", 9)))
		assert.Equal(t, []string{"a", "new"}, ids(f.coll.Snapshot().Records))
	})

	t.Run("oldest first", func(t *testing.T) {
		f := newFixture(live.Policy{Order: live.OldestFirst, Capacity: 3},
			at("c1", "task", 1), at("c2", "task", 2), at("c3", "task", 3))
		require.NoError(t, f.coll.Initialize(context.Background(), "task"))

		f.feed.Push(at("c4", "task", 4))
		assert.Equal(t, []string{"c2", "c3", "c4"}, ids(f.coll.Snapshot().Records))
	})
}

func TestMutate_AppliesOnlyAfterRemoteAck(t *testing.T) {
	f := newFixture(live.Policy{Order: live.OldestFirst}, at("c1", "task", 1))
	require.NoError(t, f.coll.Initialize(context.Background(), "task"))

	var during live.State
	f.remote.UpdateHook = func(ctx context.Context, id string) error {
		during = f.coll.Snapshot().State
		rec, _ := f.coll.Snapshot().Find(id)
		assert.Equal(t, "c1", rec.Body, "local record must not change before the ack")
		return nil
	}

	require.NoError(t, f.coll.Mutate(context.Background(), "c1", bodyPatch("edited")))

	assert.Equal(t, live.StateMutating, during)
	snap := f.coll.Snapshot()
	assert.Equal(t, live.StateReady, snap.State)
	rec, ok := snap.Find("c1")
	require.True(t, ok)
	assert.Equal(t, "edited", rec.Body)

	stored, _ := f.remote.Get("c1")
	assert.Equal(t, "edited", stored.Body)
}

func TestMutate_RemoteFailureLeavesRecordUnchanged(t *testing.T) {
	f := newFixture(live.Policy{Order: live.OldestFirst}, at("c1", "task", 1))
	require.NoError(t, f.coll.Initialize(context.Background(), "task"))
	f.remote.UpdateErr = livetest.ErrUnavailable

	err := f.coll.Mutate(context.Background(), "c1", bodyPatch("edited"))
	require.Error(t, err)
	assert.True(t, live.IsRemoteUpdateError(err))
	assert.ErrorIs(t, err, livetest.ErrUnavailable)

	var updateErr *live.RemoteUpdateError
	require.ErrorAs(t, err, &updateErr)
	assert.Equal(t, "update", updateErr.Op)
	assert.Equal(t, "c1", updateErr.ID)

	snap := f.coll.Snapshot()
	assert.Equal(t, live.StateReady, snap.State)
	rec, _ := snap.Find("c1")
	assert.Equal(t, "c1", rec.Body)
}

func TestMutate_UnknownIDSkipsRemote(t *testing.T) {
	f := newFixture(live.Policy{}, at("c1", "task", 1))
	require.NoError(t, f.coll.Initialize(context.Background(), "task"))

	err := f.coll.Mutate(context.Background(), "missing", bodyPatch("x"))
	assert.ErrorIs(t, err, live.ErrRecordNotFound)
	assert.Equal(t, int32(0), f.remote.Updates.Load())
}

func TestMutate_NotReady(t *testing.T) {
	f := newFixture(live.Policy{}, at("c1", "task", 1))

	err := f.coll.Mutate(context.Background(), "c1", bodyPatch("x"))
	assert.ErrorIs(t, err, live.ErrNotReady)
}

func TestMutate_SerializesSameID(t *testing.T) {
	f := newFixture(live.Policy{}, at("c1", "task", 1), at("c2", "task", 2))
	require.NoError(t, f.coll.Initialize(context.Background(), "task"))

	var mu sync.Mutex
	running := map[string]int{}
	maxSeen := map[string]int{}
	f.remote.UpdateHook = func(ctx context.Context, id string) error {
		mu.Lock()
		running[id]++
		if running[id] > maxSeen[id] {
			maxSeen[id] = running[id]
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running[id]--
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.coll.Mutate(context.Background(), "c1", bodyPatch("x")))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen["c1"])
	assert.Equal(t, int32(8), f.remote.Updates.Load())
	assert.Equal(t, live.StateReady, f.coll.Snapshot().State)
}

// heldRemote returns rows read before it blocks, like a slow response
// to a query the server answered before a concurrent write landed.
type heldRemote struct {
	*livetest.Remote[item, itemPatch]
	hold    atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func newHeldRemote(remote *livetest.Remote[item, itemPatch]) *heldRemote {
	return &heldRemote{
		Remote:  remote,
		read:    make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (h *heldRemote) Fetch(ctx context.Context, q live.Query) ([]item, error) {
	rows, err := h.Remote.Fetch(ctx, q)
	if h.hold.Load() {
		h.read <- struct{}{}
		<-h.release
	}
	return rows, err
}

func TestMutate_SurvivesRefreshOfSameSubject(t *testing.T) {
	f := newFixture(live.Policy{Order: live.OldestFirst}, at("a", "task", 1))
	require.NoError(t, f.coll.Initialize(context.Background(), "task"))

	started := make(chan struct{})
	release := make(chan struct{})
	f.remote.UpdateHook = func(ctx context.Context, id string) error {
		close(started)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- f.coll.Mutate(context.Background(), "a", bodyPatch("edited")) }()
	<-started

	require.NoError(t, f.coll.Refresh(context.Background()))
	rec, _ := f.coll.Snapshot().Find("a")
	assert.Equal(t, "a", rec.Body, "refresh read the row before the update landed")

	close(release)
	require.NoError(t, <-done)

	snap := f.coll.Snapshot()
	assert.Equal(t, live.StateReady, snap.State)
	rec, ok := snap.Find("a")
	require.True(t, ok)
	assert.Equal(t, "edited", rec.Body)
}

func TestMutate_AckedDuringRefreshFetchIsKept(t *testing.T) {
	remote := livetest.NewRemote[item, itemPatch](at("a", "task", 1))
	held := newHeldRemote(remote)
	coll := live.New[item, itemPatch](held, livetest.NewFeed[item](),
		live.Policy{Table: "items", Order: live.OldestFirst}, zerolog.Nop())
	require.NoError(t, coll.Initialize(context.Background(), "task"))

	started := make(chan struct{})
	release := make(chan struct{})
	remote.UpdateHook = func(ctx context.Context, id string) error {
		close(started)
		<-release
		return nil
	}

	mutated := make(chan error, 1)
	go func() { mutated <- coll.Mutate(context.Background(), "a", bodyPatch("edited")) }()
	<-started

	held.hold.Store(true)
	refreshed := make(chan error, 1)
	go func() { refreshed <- coll.Refresh(context.Background()) }()
	<-held.read

	close(release)
	require.NoError(t, <-mutated)

	close(held.release)
	require.NoError(t, <-refreshed)

	rec, ok := coll.Snapshot().Find("a")
	require.True(t, ok)
	assert.Equal(t, "edited", rec.Body)
}

func TestSubmit_RefetchKeepsConcurrentMutate(t *testing.T) {
	remote := livetest.NewRemote[item, itemPatch](at("a", "task", 1))
	held := newHeldRemote(remote)
	coll := live.New[item, itemPatch](held, livetest.NewFeed[item](),
		live.Policy{Table: "items", Order: live.OldestFirst, Confirm: live.ConfirmByRefetch}, zerolog.Nop())
	require.NoError(t, coll.Initialize(context.Background(), "task"))

	held.hold.Store(true)
	submitted := make(chan error, 1)
	go func() {
		_, err := coll.Submit(context.Background(), at("b", "task", 2))
		submitted <- err
	}()
	<-held.read

	require.NoError(t, coll.Mutate(context.Background(), "a", bodyPatch("edited")))
	rec, _ := coll.Snapshot().Find("a")
	assert.Equal(t, "edited", rec.Body)

	close(held.release)
	require.NoError(t, <-submitted)

	snap := coll.Snapshot()
	assert.Equal(t, []string{"a", "b"}, ids(snap.Records))
	rec, ok := snap.Find("a")
	require.True(t, ok)
	assert.Equal(t, "edited", rec.Body, "refetched rows predate the update")

	stored, _ := remote.Get("a")
	assert.Equal(t, "edited", stored.Body)
}

func TestSubmit_ConfirmByPush(t *testing.T) {
	f := newFixture(live.Policy{Order: live.NewestFirst, Confirm: live.ConfirmByPush})
	require.NoError(t, f.coll.Initialize(context.Background(), "alice"))

	created, err := f.coll.Submit(context.Background(), at("a1", "alice", 1))
	require.NoError(t, err)
	assert.Equal(t, "a1", created.ID)
	assert.Empty(t, f.coll.Snapshot().Records, "visible only once pushed")

	f.feed.Push(created)
	assert.Equal(t, []string{"a1"}, ids(f.coll.Snapshot().Records))
}

func TestSubmit_ConfirmByRefetch(t *testing.T) {
	f := newFixture(live.Policy{Order: live.OldestFirst, Confirm: live.ConfirmByRefetch},
		at("c1", "task-42", 1))
	require.NoError(t, f.coll.Initialize(context.Background(), "task-42"))

	_, err := f.coll.Submit(context.Background(), at("c2", "task-42", 2))
	require.NoError(t, err)

	assert.Equal(t, int32(2), f.remote.Fetches.Load())
	assert.Equal(t, []string{"c1", "c2"}, ids(f.coll.Snapshot().Records))

	// The push for the same insert arrives later and changes nothing.
	f.feed.Push(at("c2", "task-42", 2))
	assert.Len(t, f.coll.Snapshot().Records, 2)
}

func TestSubmit_RefetchFailureFallsBackToInsert(t *testing.T) {
	f := newFixture(live.Policy{Order: live.OldestFirst, Confirm: live.ConfirmByRefetch},
		at("c1", "task", 1))
	require.NoError(t, f.coll.Initialize(context.Background(), "task"))
	f.remote.SetFetchErr(livetest.ErrUnavailable)

	_, err := f.coll.Submit(context.Background(), at("c2", "task", 2))
	require.NoError(t, err)

	snap := f.coll.Snapshot()
	assert.Equal(t, live.StateReady, snap.State)
	assert.Equal(t, []string{"c1", "c2"}, ids(snap.Records))
}

func TestSubmit_ConfirmByInsert(t *testing.T) {
	f := newFixture(live.Policy{Order: live.OldestFirst, Confirm: live.ConfirmByInsert})
	require.NoError(t, f.coll.Initialize(context.Background(), "task"))
	f.remote.OnInsert = func(rec item) { f.feed.Push(rec) }

	_, err := f.coll.Submit(context.Background(), at("c1", "task", 1))
	require.NoError(t, err)

	assert.Equal(t, []string{"c1"}, ids(f.coll.Snapshot().Records))
	assert.Equal(t, int32(1), f.remote.Fetches.Load())
}

func TestSubmit_InsertFailure(t *testing.T) {
	f := newFixture(live.Policy{Confirm: live.ConfirmByInsert})
	require.NoError(t, f.coll.Initialize(context.Background(), "task"))
	f.remote.InsertErr = livetest.ErrUnavailable

	_, err := f.coll.Submit(context.Background(), at("c1", "task", 1))
	require.Error(t, err)

	var updateErr *live.RemoteUpdateError
	require.ErrorAs(t, err, &updateErr)
	assert.Equal(t, "insert", updateErr.Op)

	snap := f.coll.Snapshot()
	assert.Equal(t, live.StateReady, snap.State)
	assert.Empty(t, snap.Records)
}

func TestSubmit_NotReady(t *testing.T) {
	f := newFixture(live.Policy{})
	_, err := f.coll.Submit(context.Background(), at("c1", "task", 1))
	assert.ErrorIs(t, err, live.ErrNotReady)
	assert.Equal(t, int32(0), f.remote.Inserts.Load())
}

func TestTeardown_DiscardsInFlightFetch(t *testing.T) {
	f := newFixture(live.Policy{}, at("c1", "task", 1))

	started := make(chan struct{})
	release := make(chan struct{})
	f.remote.FetchHook = func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- f.coll.Initialize(context.Background(), "task") }()

	<-started
	f.coll.Teardown()
	close(release)

	assert.ErrorIs(t, <-done, live.ErrStale)

	snap := f.coll.Snapshot()
	assert.Equal(t, live.StateUninitialized, snap.State)
	assert.Empty(t, snap.Records)
	assert.Equal(t, 0, f.feed.Active())
}

func TestTeardown_CancelsFetchContext(t *testing.T) {
	f := newFixture(live.Policy{})

	var canceled atomic.Bool
	started := make(chan struct{})
	f.remote.FetchHook = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() { done <- f.coll.Initialize(context.Background(), "task") }()

	<-started
	f.coll.Teardown()

	assert.ErrorIs(t, <-done, live.ErrStale)
	assert.True(t, canceled.Load())
}

func TestTeardown_IsIdempotent(t *testing.T) {
	f := newFixture(live.Policy{}, at("c1", "task", 1))
	require.NoError(t, f.coll.Initialize(context.Background(), "task"))
	require.Equal(t, 1, f.feed.Active())

	f.coll.Teardown()
	f.coll.Teardown()

	assert.Equal(t, 0, f.feed.Active())
	snap := f.coll.Snapshot()
	assert.Equal(t, live.StateUninitialized, snap.State)
	assert.Empty(t, snap.Records)

	assert.Equal(t, 0, f.feed.Push(at("c2", "task", 2)))
	assert.Empty(t, f.coll.Snapshot().Records)
}

func TestInitialize_SwitchingSubjectReleasesOldSubscription(t *testing.T) {
	f := newFixture(live.Policy{Order: live.NewestFirst},
		at("a1", "alice", 1), at("b1", "bob", 1))
	require.NoError(t, f.coll.Initialize(context.Background(), "alice"))
	require.NoError(t, f.coll.Initialize(context.Background(), "bob"))

	assert.Equal(t, 1, f.feed.Active())
	assert.Equal(t, 0, f.feed.Push(at("a2", "alice", 2)))
	assert.Equal(t, []string{"b1"}, ids(f.coll.Snapshot().Records))
}

func TestChanges_SignalsAfterUpdate(t *testing.T) {
	f := newFixture(live.Policy{}, at("c1", "task", 1))
	require.NoError(t, f.coll.Initialize(context.Background(), "task"))

	select {
	case <-f.coll.Changes():
	default:
		t.Fatal("expected a change signal after Initialize")
	}

	before := f.coll.Snapshot().Version
	f.feed.Push(at("c2", "task", 2))

	select {
	case <-f.coll.Changes():
	default:
		t.Fatal("expected a change signal after a push")
	}
	assert.Greater(t, f.coll.Snapshot().Version, before)
}
