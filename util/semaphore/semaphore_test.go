package semaphore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphore(t *testing.T) {
	const numGoroutines = 10
	const concurrentSemaphore = 5
	const sleepTime = 100 * time.Millisecond

	begin := time.Now()

	sem := New(concurrentSemaphore)

	var acquisitions struct {
		beforeT, afterT uint32
	}

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			res, err := sem.Acquire(context.Background())
			require.NoError(t, err)
			defer res.Release()
			if time.Since(begin) > sleepTime {
				atomic.AddUint32(&acquisitions.afterT, 1)
			} else {
				atomic.AddUint32(&acquisitions.beforeT, 1)
			}
			time.Sleep(sleepTime)
		}()
	}

	wg.Wait()

	assert.True(t, acquisitions.beforeT == concurrentSemaphore)
	assert.True(t, acquisitions.afterT == numGoroutines-concurrentSemaphore)
}

func TestTryAcquire(t *testing.T) {
	sem := New(1)
	g := sem.TryAcquire()
	require.NotNil(t, g)
	assert.Nil(t, sem.TryAcquire())

	assert.EqualValues(t, 1, sem.InUse())
	g.Release()
	g.Release() // idempotent
	assert.EqualValues(t, 0, sem.InUse())
	g2 := sem.TryAcquire()
	require.NotNil(t, g2)
	assert.Nil(t, sem.TryAcquire())
	g2.Release()
}

func TestAcquireCancelled(t *testing.T) {
	sem := New(1)
	g := sem.TryAcquire()
	require.NotNil(t, g)
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res, err := sem.Acquire(ctx)
	assert.Nil(t, res)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestConcurrentRelease(t *testing.T) {
	sem := New(2)
	g := sem.TryAcquire()
	require.NotNil(t, g)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Release()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 0, sem.InUse())
	assert.EqualValues(t, 2, sem.Max())

	var nilGuard *AcquireGuard
	nilGuard.Release()
}
