package realtime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/realtime"
)

type collector struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (c *collector) add(ev realtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestBroker_DeliversMatchingEventsInOrder(t *testing.T) {
	b := realtime.NewBroker(zerolog.Nop())
	var got collector

	sub, err := b.Subscribe(context.Background(),
		live.Filter{Table: model.TableComments, SubjectID: "task-1"}, got.add)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	b.Publish(model.TableComments, "task-1", model.Comment{ID: "c1"})
	b.Publish(model.TableComments, "task-2", model.Comment{ID: "x"})
	b.Publish(model.TableNotifications, "task-1", model.Notification{ID: "n"})
	b.Publish(model.TableComments, "task-1", model.Comment{ID: "c2"})

	require.Eventually(t, func() bool { return got.len() == 2 }, time.Second, 5*time.Millisecond)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, "c1", got.events[0].Record.(model.Comment).ID)
	assert.Equal(t, "c2", got.events[1].Record.(model.Comment).ID)
}

func TestBroker_UnsubscribeStopsDelivery(t *testing.T) {
	b := realtime.NewBroker(zerolog.Nop())
	var got collector

	sub, err := b.Subscribe(context.Background(),
		live.Filter{Table: model.TableNotifications, SubjectID: "u1"}, got.add)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, b.Len())

	b.Publish(model.TableNotifications, "u1", model.Notification{ID: "n1"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, got.len())
}

func TestBroker_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := realtime.NewBroker(zerolog.Nop())

	release := make(chan struct{})
	sub, err := b.Subscribe(context.Background(),
		live.Filter{Table: model.TableComments, SubjectID: "task-1"},
		func(realtime.Event) { <-release })
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < realtime.DefaultBuffer*2; i++ {
			b.Publish(model.TableComments, "task-1", model.Comment{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	close(release)
	require.NoError(t, sub.Unsubscribe())
}

func TestFeed_DecodesLocalAndWireRecords(t *testing.T) {
	b := realtime.NewBroker(zerolog.Nop())
	feed := realtime.NewFeed[model.Comment](b, zerolog.Nop())

	got := make(chan model.Comment, 2)
	sub, err := feed.Subscribe(context.Background(),
		live.Filter{Table: model.TableComments, SubjectID: "task-1"},
		func(c model.Comment) { got <- c })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	b.Publish(model.TableComments, "task-1", model.Comment{ID: "local", TaskID: "task-1"})

	wire, err := realtime.Marshal(model.Comment{ID: "wire", TaskID: "task-1", Body: "hi"})
	require.NoError(t, err)
	b.Publish(model.TableComments, "task-1", cbor.RawMessage(wire))

	first := receive(t, got)
	second := receive(t, got)
	assert.Equal(t, "local", first.ID)
	assert.Equal(t, "wire", second.ID)
	assert.Equal(t, "hi", second.Body)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}
