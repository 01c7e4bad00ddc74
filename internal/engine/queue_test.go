package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
)

func TestRestartQueue_RunsInOrder(t *testing.T) {
	q := NewRestartQueue(logger.Discard(), nil)
	q.Start(context.Background())
	defer q.Stop()

	var mu sync.Mutex
	var order []string
	ids := make(map[string]bool)
	for _, app := range []string{"a", "b", "c", "a"} {
		app := app
		id := q.Enqueue(app, func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, app)
			return nil
		})
		ids[id] = true
	}
	q.WaitIdle()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "a"}, order)
	assert.Len(t, ids, 4)
	assert.Equal(t, 4, q.Completed())
	assert.Equal(t, 0, q.Size())
}

func TestRestartQueue_OneAtATime(t *testing.T) {
	q := NewRestartQueue(logger.Discard(), nil)
	q.Start(context.Background())
	defer q.Stop()

	var mu sync.Mutex
	running, peak := 0, 0
	for i := 0; i < 5; i++ {
		q.Enqueue("web", func(ctx context.Context) error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			return nil
		})
	}
	q.WaitIdle()

	assert.Equal(t, 1, peak)
}

func TestRestartQueue_ErrorsAndPanics(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	q := NewRestartQueue(logger.Discard(), func(err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	})
	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue("a", func(ctx context.Context) error { return errors.New("bundler gone") })
	q.Enqueue("b", func(ctx context.Context) error { panic("nil pointer") })
	ran := false
	q.Enqueue("c", func(ctx context.Context) error { ran = true; return nil })
	q.WaitIdle()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 2)
	assert.EqualError(t, reported[0], "bundler gone")
	assert.Equal(t, werrors.ExitProcessFailure, werrors.ExitCodeFor(reported[1]))
	assert.Contains(t, reported[1].Error(), "nil pointer")
	assert.True(t, ran)
}

func TestRestartQueue_StopCancelsRunningAndDropsPending(t *testing.T) {
	q := NewRestartQueue(logger.Discard(), nil)
	q.Start(context.Background())

	started := make(chan struct{})
	q.Enqueue("slow", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	pendingRan := false
	q.Enqueue("pending", func(ctx context.Context) error {
		pendingRan = true
		return nil
	})

	<-started
	q.Stop()
	q.WaitIdle()

	assert.False(t, pendingRan)
	assert.Equal(t, 0, q.Size())
	assert.Equal(t, 1, q.Completed())
}
