package enrich

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Task identifies one stored track awaiting enrichment
type Task struct {
	TrackID int64
	OwnerID string
}

// Handler processes a single task
type Handler func(ctx context.Context, task Task) error

// WorkerPool runs enrichment tasks on a fixed set of goroutines fed by a
// buffered channel. Submit never blocks the caller.
type WorkerPool struct {
	maxWorkers int
	tasks      chan Task
	handler    Handler
	logger     *zap.Logger

	active    atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	started bool
}

// NewWorkerPool creates a worker pool
func NewWorkerPool(maxWorkers, buffer int, handler Handler, logger *zap.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		tasks:      make(chan Task, buffer),
		handler:    handler,
		logger:     logger,
	}
}

// Start spawns worker goroutines and begins processing tasks
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}
	if wp.handler == nil {
		return fmt.Errorf("task handler not set")
	}

	wp.ctx, wp.cancel = context.WithCancel(ctx)
	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.started = true
	return nil
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug("Enrichment worker started", zap.Int("worker", id))
	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug("Enrichment worker shutting down", zap.Int("worker", id))
			return
		case task := <-wp.tasks:
			wp.process(task)
		}
	}
}

func (wp *WorkerPool) process(task Task) {
	wp.active.Add(1)
	defer wp.active.Add(-1)

	if err := wp.run(task); err != nil {
		wp.failed.Add(1)
		wp.logger.Warn("Enrichment failed",
			zap.Int64("track_id", task.TrackID),
			zap.String("owner_id", task.OwnerID),
			zap.Error(err))
		return
	}
	wp.processed.Add(1)
}

// run calls the handler, turning a panic into an error so one bad file
// cannot take the workers down.
func (wp *WorkerPool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enrichment panicked: %v", r)
		}
	}()
	return wp.handler(wp.ctx, task)
}

// Submit queues a task. It returns false when the pool is not running or
// its buffer is full; the track then stays unprocessed until the next
// backfill.
func (wp *WorkerPool) Submit(task Task) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.started {
		wp.dropped.Add(1)
		return false
	}
	select {
	case wp.tasks <- task:
		return true
	default:
		wp.dropped.Add(1)
		wp.logger.Warn("Enrichment queue full, task dropped",
			zap.Int64("track_id", task.TrackID),
			zap.Int("buffer", cap(wp.tasks)))
		return false
	}
}

// Stop cancels running tasks and waits for the workers to exit. Tasks
// still buffered are discarded.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return
	}
	wp.started = false
	wp.mu.Unlock()

	wp.cancel()
	wp.wg.Wait()

	discarded := 0
	for {
		select {
		case <-wp.tasks:
			discarded++
		default:
			if discarded > 0 {
				wp.logger.Info("Discarded pending enrichment tasks", zap.Int("count", discarded))
			}
			return
		}
	}
}

// ActiveCount returns the number of tasks being processed
func (wp *WorkerPool) ActiveCount() int {
	return int(wp.active.Load())
}

// Pending returns the number of buffered tasks
func (wp *WorkerPool) Pending() int {
	return len(wp.tasks)
}

// PoolStats is a point-in-time view of the pool counters
type PoolStats struct {
	Processed int64
	Failed    int64
	Dropped   int64
	Active    int
	Pending   int
}

// Stats returns the pool counters
func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Processed: wp.processed.Load(),
		Failed:    wp.failed.Load(),
		Dropped:   wp.dropped.Load(),
		Active:    wp.ActiveCount(),
		Pending:   wp.Pending(),
	}
}
