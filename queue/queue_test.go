package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueRunsEnqueuedTasks(t *testing.T) {
	q := New(3, nil)
	defer q.Stop()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		q.Enqueue(TaskFunc(func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}))
	}

	waitOrTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 20)
}

func TestQueueTaskErrorDoesNotStopWorker(t *testing.T) {
	q := New(1, nil)
	defer q.Stop()

	var wg sync.WaitGroup
	wg.Add(2)

	var secondRan bool
	q.Enqueue(TaskFunc(func(ctx context.Context) error {
		defer wg.Done()
		return errors.New("boom")
	}))
	q.Enqueue(TaskFunc(func(ctx context.Context) error {
		defer wg.Done()
		secondRan = true
		return nil
	}))

	waitOrTimeout(t, &wg, time.Second)
	require.True(t, secondRan)
}

func TestQueueDepthTracksOutstandingTasks(t *testing.T) {
	q := New(1, nil)
	defer q.Stop()

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)

	q.Enqueue(TaskFunc(func(ctx context.Context) error {
		started.Done()
		<-release
		return nil
	}))

	started.Wait()
	require.Equal(t, int64(1), q.Depth())
	close(release)
}

func TestSchedulerTicksRepeatedly(t *testing.T) {
	var count int64
	var mu sync.Mutex
	s := NewScheduler(20*time.Millisecond, func(ctx context.Context) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, nil)
	s.Run()
	defer s.Stop()

	time.Sleep(110 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, count, int64(3))
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for tasks")
	}
}
