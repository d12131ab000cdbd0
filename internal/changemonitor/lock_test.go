package changemonitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetLocksSerializeSameURL(t *testing.T) {
	t.Parallel()

	var locks targetLocks
	unlock := locks.lock("https://a.test")

	acquired := make(chan struct{})
	go func() {
		release := locks.lock("https://a.test")
		close(acquired)
		release()
	}()
	assert.Never(t, func() bool {
		select {
		case <-acquired:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	otherDone := make(chan struct{})
	go func() {
		release := locks.lock("https://b.test")
		release()
		close(otherDone)
	}()
	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatal("a different url was blocked")
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	require.Eventually(t, func() bool { return locks.held() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTargetLocksConcurrentCounter(t *testing.T) {
	t.Parallel()

	var (
		locks   targetLocks
		wg      sync.WaitGroup
		counter int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("https://a.test")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, locks.held())
}
