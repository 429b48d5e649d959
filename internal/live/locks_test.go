package live

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLocks_ReleasesEntries(t *testing.T) {
	var k keyedLocks

	unlockA := k.lock("a")
	unlockB := k.lock("b")
	assert.Equal(t, 2, k.held())

	unlockA()
	unlockB()
	assert.Equal(t, 0, k.held())
}

func TestKeyedLocks_BlocksSameKeyOnly(t *testing.T) {
	var k keyedLocks

	unlock := k.lock("a")

	other := make(chan struct{})
	go func() {
		k.lock("b")()
		close(other)
	}()
	select {
	case <-other:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		k.lock("a")()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key did not wait")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	wg.Wait()
	assert.Equal(t, 0, k.held())
}
