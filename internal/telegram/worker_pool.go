package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tgassist/tgassist/internal/dispatch"
	"github.com/tgassist/tgassist/internal/logger"
)

// job is one inbound update reduced to a dispatcher event
type job struct {
	chatID     int64
	callbackID string
	event      dispatch.Event
	received   time.Time
}

// WorkerPool processes updates concurrently across chats. Each chat is pinned
// to one shard, so a single user's updates are handled in arrival order.
type WorkerPool struct {
	handle func(ctx context.Context, j job)
	shards []chan job
	depth  func(worker, depth int)

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.RWMutex
}

// WorkerPoolConfig holds configuration for the worker pool
type WorkerPoolConfig struct {
	Workers   int // Number of shards, one goroutine each
	QueueSize int // Buffered updates per shard
}

func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:   8,
		QueueSize: 64,
	}
}

func NewWorkerPool(handle func(ctx context.Context, j job), config WorkerPoolConfig) *WorkerPool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	wp := &WorkerPool{
		handle: handle,
		shards: make([]chan job, config.Workers),
		depth:  func(int, int) {},
		ctx:    ctx,
		cancel: cancel,
	}
	for i := range wp.shards {
		wp.shards[i] = make(chan job, config.QueueSize)
	}
	return wp
}

// shardFor maps a chat to a worker. Group chats have negative ids.
func (wp *WorkerPool) shardFor(chatID int64) int {
	return int(uint64(chatID) % uint64(len(wp.shards)))
}

// Start initializes and starts all worker goroutines
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}

	logger.Info("Starting worker pool", map[string]interface{}{
		"workers":    len(wp.shards),
		"queue_size": cap(wp.shards[0]),
	})

	for i := range wp.shards {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.started = true
	return nil
}

// Stop drains queued updates and waits for the workers to exit
func (wp *WorkerPool) Stop() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.started {
		return fmt.Errorf("worker pool not started")
	}

	logger.InfoMsg("Stopping worker pool...")

	for _, q := range wp.shards {
		close(q)
	}

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		logger.InfoMsg("Worker pool stopped gracefully")
	case <-time.After(30 * time.Second):
		// Abort in-flight completions
		wp.cancel()
		logger.Warn("Worker pool shutdown timed out", nil)
		return fmt.Errorf("worker pool shutdown timed out")
	}

	wp.started = false
	return nil
}

// Submit queues a job on its chat's shard. A full shard drops the job.
func (wp *WorkerPool) Submit(j job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.started {
		return fmt.Errorf("worker pool not started")
	}

	shard := wp.shardFor(j.chatID)
	select {
	case wp.shards[shard] <- j:
		wp.depth(shard, len(wp.shards[shard]))
		return nil
	default:
		logger.Warn("Worker queue full, dropping update", map[string]interface{}{
			"chat_id": j.chatID,
			"worker":  shard,
		})
		return fmt.Errorf("worker queue full")
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	logger.Debug("Worker started", map[string]interface{}{
		"worker_id": id,
	})

	for j := range wp.shards[id] {
		wp.depth(id, len(wp.shards[id]))
		wp.process(id, j)
	}

	logger.Debug("Worker stopping", map[string]interface{}{
		"worker_id": id,
	})
}

// process runs one job; a panic is logged and the worker keeps going
func (wp *WorkerPool) process(workerID int, j job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker panic recovered", map[string]interface{}{
				"worker_id": workerID,
				"chat_id":   j.chatID,
				"panic":     r,
			})
		}
	}()

	wp.handle(wp.ctx, j)
}

// GetStats returns current worker pool statistics
func (wp *WorkerPool) GetStats() map[string]interface{} {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	queued := 0
	for _, q := range wp.shards {
		queued += len(q)
	}
	return map[string]interface{}{
		"started":    wp.started,
		"workers":    len(wp.shards),
		"queued":     queued,
		"queue_size": cap(wp.shards[0]),
	}
}
