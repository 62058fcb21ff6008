package jobqueue

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rcourtman/fabricpulse/internal/barrier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePopOrder(t *testing.T) {
	q := NewQueue([]int{1, 2})
	q.Push(3)
	assert.Equal(t, 3, q.Len())

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())

	q.Push(4)
	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 4, got)
}

func TestQueueConcurrentPopIsExclusive(t *testing.T) {
	const n = 1000
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	q := NewQueue(items)

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.Pop()
				if !ok {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for v, count := range seen {
		assert.Equal(t, 1, count, "item %d popped %d times", v, count)
	}
}

// boundedRecorder tracks concurrent Process calls.
type boundedRecorder struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	attempts map[int]int
}

func (r *boundedRecorder) process(_ context.Context, job int) {
	cur := r.inFlight.Add(1)
	for {
		peak := r.peak.Load()
		if cur <= peak || r.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	time.Sleep(time.Duration(rand.Intn(300)) * time.Microsecond)

	r.mu.Lock()
	r.attempts[job]++
	r.mu.Unlock()
	r.inFlight.Add(-1)
}

func TestDrainBoundsConcurrencyAndAttemptsEachJobOnce(t *testing.T) {
	cases := []struct {
		jobs    int
		workers int
	}{
		{jobs: 0, workers: 3},
		{jobs: 1, workers: 10},
		{jobs: 7, workers: 1},
		{jobs: 50, workers: 10},
		{jobs: 200, workers: 4},
		{jobs: 9, workers: 9},
	}

	for _, tc := range cases {
		jobs := make([]int, tc.jobs)
		for i := range jobs {
			jobs[i] = i
		}
		rec := &boundedRecorder{attempts: make(map[int]int)}

		err := Drain(context.Background(), "test", tc.workers, jobs, rec.process)
		require.NoError(t, err)

		assert.LessOrEqual(t, int(rec.peak.Load()), tc.workers, "jobs=%d workers=%d", tc.jobs, tc.workers)
		assert.Len(t, rec.attempts, tc.jobs)
		for job, n := range rec.attempts {
			assert.Equal(t, 1, n, "job %d attempted %d times", job, n)
		}
	}
}

func TestPoolsShareBarrierButNotLimits(t *testing.T) {
	b := barrier.New("stats")

	recA := &boundedRecorder{attempts: make(map[int]int)}
	recB := &boundedRecorder{attempts: make(map[int]int)}

	jobs := make([]int, 40)
	for i := range jobs {
		jobs[i] = i
	}

	poolA := &Pool[int]{Name: "a", Workers: 2, Queue: NewQueue(jobs), Process: recA.process}
	poolB := &Pool[int]{Name: "b", Workers: 5, Queue: NewQueue(jobs), Process: recB.process}
	require.NoError(t, poolA.Start(context.Background(), b))
	require.NoError(t, poolB.Start(context.Background(), b))

	require.NoError(t, b.Wait(context.Background()))
	assert.LessOrEqual(t, int(recA.peak.Load()), 2)
	assert.LessOrEqual(t, int(recB.peak.Load()), 5)
	assert.Len(t, recA.attempts, 40)
	assert.Len(t, recB.attempts, 40)
	assert.Equal(t, 7, b.Total())
}

func TestPoolValidation(t *testing.T) {
	b := barrier.New("invalid")
	p := &Pool[int]{Name: "zero", Workers: 0, Queue: NewQueue([]int{1}), Process: func(context.Context, int) {}}
	assert.Error(t, p.Start(context.Background(), b))

	p = &Pool[int]{Name: "noqueue", Workers: 1}
	assert.Error(t, p.Start(context.Background(), b))
}

func TestFailingJobsDoNotStopWorker(t *testing.T) {
	var done atomic.Int32
	err := Drain(context.Background(), "failing", 2, []int{1, 2, 3, 4, 5}, func(_ context.Context, job int) {
		done.Add(1)
		if job%2 == 0 {
			return // a failed fetch contributes nothing
		}
	})
	require.NoError(t, err)
	assert.Equal(t, int32(5), done.Load())
}
