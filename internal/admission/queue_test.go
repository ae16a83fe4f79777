package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_CapsConcurrentSlotsPerKey(t *testing.T) {
	q := NewQueue(2, 50*time.Millisecond)
	ctx := context.Background()

	s1, err := q.Acquire(ctx, "org-a")
	require.NoError(t, err)
	s2, err := q.Acquire(ctx, "org-a")
	require.NoError(t, err)

	_, err = q.Acquire(ctx, "org-a")
	assert.ErrorIs(t, err, ErrQueueTimeout, "a third concurrent acquire must time out once maxInflight is held")

	s1.Release()
	s2.Release()
}

func TestQueue_ReleaseFreesTheSlotForTheNextWaiter(t *testing.T) {
	q := NewQueue(1, 200*time.Millisecond)
	ctx := context.Background()

	slot, err := q.Acquire(ctx, "org-a")
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		slot.Release()
		close(released)
	}()

	next, err := q.Acquire(ctx, "org-a")
	require.NoError(t, err, "acquire should succeed once the held slot is released within the timeout")
	<-released
	next.Release()
}

func TestQueue_KeysDoNotShareCapacity(t *testing.T) {
	q := NewQueue(1, 50*time.Millisecond)
	ctx := context.Background()

	slotA, err := q.Acquire(ctx, "org-a")
	require.NoError(t, err)
	defer slotA.Release()

	slotB, err := q.Acquire(ctx, "org-b")
	require.NoError(t, err, "org-b must get its own semaphore, independent of org-a's")
	defer slotB.Release()
}

func TestQueue_SlotReleaseIsIdempotent(t *testing.T) {
	q := NewQueue(1, 50*time.Millisecond)
	ctx := context.Background()

	slot, err := q.Acquire(ctx, "org-a")
	require.NoError(t, err)

	slot.Release()
	assert.NotPanics(t, func() { slot.Release() })

	// the permit must have been returned exactly once
	next, err := q.Acquire(ctx, "org-a")
	require.NoError(t, err)
	next.Release()
}

func TestQueue_CancelledContextAbandonsTheWaitWithoutConsumingAPermit(t *testing.T) {
	q := NewQueue(1, time.Second)

	held, err := q.Acquire(context.Background(), "org-a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	waitErr := make(chan error, 1)
	go func() {
		_, err := q.Acquire(ctx, "org-a")
		waitErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-waitErr:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after ctx cancellation")
	}

	held.Release()
}

func TestQueue_HeldReportsCurrentOccupancy(t *testing.T) {
	q := NewQueue(2, time.Second)
	ctx := context.Background()

	assert.Equal(t, 0, q.Held("org-a"))

	s1, _ := q.Acquire(ctx, "org-a")
	assert.Equal(t, 1, q.Held("org-a"))

	s2, _ := q.Acquire(ctx, "org-a")
	assert.Equal(t, 2, q.Held("org-a"))

	s1.Release()
	assert.Equal(t, 1, q.Held("org-a"))
	s2.Release()
	assert.Equal(t, 0, q.Held("org-a"))
}

func TestQueue_ForgetRefusesWhileSlotsAreHeld(t *testing.T) {
	q := NewQueue(1, time.Second)
	slot, err := q.Acquire(context.Background(), "org-a")
	require.NoError(t, err)

	assert.False(t, q.Forget("org-a"), "Forget must refuse to drop a key with an outstanding slot")

	slot.Release()
	assert.True(t, q.Forget("org-a"), "Forget should succeed once the key is idle")
}

func TestQueue_ForgetOnUnknownKeyIsANoop(t *testing.T) {
	q := NewQueue(1, time.Second)
	assert.True(t, q.Forget("never-seen"))
}

func TestQueue_ConcurrentAcquireReleaseNeverExceedsCap(t *testing.T) {
	const maxInflight = 3
	q := NewQueue(maxInflight, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	peak := 0
	current := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := q.Acquire(context.Background(), "org-a")
			if err != nil {
				return
			}
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			slot.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, maxInflight)
}
