package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
)

// RestartTask restarts the watch session of one app
type RestartTask struct {
	ID        string
	App       string
	Timestamp time.Time
	run       func(ctx context.Context) error
}

// RestartQueue runs hard watch restarts one at a time, in the order they were requested
type RestartQueue struct {
	logger  logger.Logger
	onError func(error)

	queue     []*RestartTask
	active    *RestartTask
	completed int
	wake      chan struct{}
	idle      *sync.Cond

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewRestartQueue creates a restart queue. Task errors are handed to onError.
func NewRestartQueue(log logger.Logger, onError func(error)) *RestartQueue {
	ctx, cancel := context.WithCancel(context.Background())

	q := &RestartQueue{
		logger:  log,
		onError: onError,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Start starts the queue worker
func (q *RestartQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.ctx, q.cancel = context.WithCancel(ctx)

	q.wg.Add(1)
	go q.processQueue()
}

// Stop stops the worker after the running task, dropping pending ones
func (q *RestartQueue) Stop() {
	q.mu.Lock()
	q.cancel()
	dropped := len(q.queue)
	q.queue = nil
	q.idle.Broadcast()
	q.mu.Unlock()

	if dropped > 0 {
		q.logger.Debug("Dropped pending restarts", logger.WithField("count", dropped))
	}
	q.wg.Wait()
}

// Enqueue adds a restart and returns its ID
func (q *RestartQueue) Enqueue(app string, run func(ctx context.Context) error) string {
	task := &RestartTask{
		ID:        uuid.New().String(),
		App:       app,
		Timestamp: time.Now(),
		run:       run,
	}

	q.mu.Lock()
	q.queue = append(q.queue, task)
	q.mu.Unlock()

	q.logger.Debug("Queued restart",
		logger.WithField("app", app),
		logger.WithField("task", task.ID))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return task.ID
}

// Size returns the number of pending restarts
func (q *RestartQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Completed returns how many restarts ran
func (q *RestartQueue) Completed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed
}

// WaitIdle blocks until no restart is pending or running, or the queue is stopped
func (q *RestartQueue) WaitIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for (len(q.queue) > 0 || q.active != nil) && q.ctx.Err() == nil {
		q.idle.Wait()
	}
}

// Private methods

func (q *RestartQueue) processQueue() {
	defer q.wg.Done()

	for {
		task := q.dequeue()
		if task == nil {
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		q.execute(task)
	}
}

func (q *RestartQueue) dequeue() *RestartTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 || q.ctx.Err() != nil {
		return nil
	}
	task := q.queue[0]
	q.queue = q.queue[1:]
	q.active = task
	return task
}

func (q *RestartQueue) execute(task *RestartTask) {
	startTime := time.Now()
	err := q.safeRun(task)

	q.mu.Lock()
	q.active = nil
	q.completed++
	q.idle.Broadcast()
	q.mu.Unlock()

	if err != nil {
		q.logger.Error("Restart failed",
			logger.WithField("app", task.App),
			logger.WithField("task", task.ID),
			logger.WithError(err))
		if q.onError != nil {
			q.onError(err)
		}
		return
	}

	q.logger.Debug("Restart finished",
		logger.WithField("app", task.App),
		logger.WithField("duration", time.Since(startTime).String()))
}

func (q *RestartQueue) safeRun(task *RestartTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Restart panic recovered",
				logger.WithField("panic", r),
				logger.WithField("stack_trace", string(debug.Stack())))
			err = werrors.Internal(fmt.Errorf("restart of %s panicked: %v", task.App, r))
		}
	}()
	return task.run(q.ctx)
}
