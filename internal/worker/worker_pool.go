package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is a unit of pipeline work dispatched onto the pool. Stage fan-out
// happens at the broker level; the pool only bounds in-process concurrency.
type Job func()

type WorkerPool struct {
	jobs       chan Job
	wg         sync.WaitGroup
	busy       int
	maxWorkers int
	logger     zerolog.Logger
	mu         sync.RWMutex
}

func NewWorkerPool(maxWorkers int, logger zerolog.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		jobs:       make(chan Job, maxWorkers*4),
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.logger.Info().Int("max_workers", wp.maxWorkers).Msg("Starting worker pool")

	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	return nil
}

// Stop drains submitted jobs and waits for in-flight ones to finish. Jobs
// submitted after Stop panic on the closed channel, so the caller must stop
// the message loop first.
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")

	close(wp.jobs)
	wp.wg.Wait()

	wp.logger.Info().Msg("Worker pool stopped")
	return nil
}

// Submit hands a job to the pool, blocking briefly when the buffer is full.
// A dropped job is not lost work: the ledger row stays queued and the
// reclaim loop re-dispatches it.
func (wp *WorkerPool) Submit(job Job) bool {
	select {
	case wp.jobs <- job:
		return true
	default:
	}

	wp.logger.Warn().Msg("Worker pool buffer full, waiting")

	select {
	case wp.jobs <- job:
		return true
	case <-time.After(5 * time.Second):
		wp.logger.Error().Msg("Dropped job after submit timeout")
		return false
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobs {
		wp.mu.Lock()
		wp.busy++
		wp.mu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					wp.logger.Error().
						Int("worker_id", id).
						Interface("panic", r).
						Msg("Worker recovered from panic")
				}

				wp.mu.Lock()
				wp.busy--
				wp.mu.Unlock()
			}()

			job()
		}()
	}
}

func (wp *WorkerPool) BusyWorkers() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.busy
}

func (wp *WorkerPool) QueueLength() int {
	return len(wp.jobs)
}
