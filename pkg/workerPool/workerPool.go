// Package workerpool runs tasks on a fixed set of goroutines. Tasks are
// grouped into rooms; a room collects the results of its own tasks.
package workerpool

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

var (
	ErrGlobalBufferFull = errors.New("global buffer is full")
	ErrRoomBufferFull   = errors.New("room buffer is full")
	ErrStopped          = errors.New("worker pool is stopped")
)

type WorkerPool struct {
	config    Config
	taskQueue chan func()
	stopped   atomic.Bool
	stopOnce  sync.Once
	workers   sync.WaitGroup

	// sendMu is held shared by senders; Stop takes it exclusively before
	// closing taskQueue.
	sendMu sync.RWMutex
	done   chan struct{}
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

// Room collects the results of the tasks submitted to it.
type Room[T any] struct {
	result               []T
	resultMutex          sync.Mutex
	asyncCollectorWait   sync.WaitGroup
	asyncCollectorActive atomic.Bool
	resultChan           chan T
	closeOnce            sync.Once
	wg                   sync.WaitGroup
	wp                   *WorkerPool
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU() * 3
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan func(), config.GlobalBuffer),
		done:      make(chan struct{}),
	}

	wp.workers.Add(config.WorkerCount)
	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.workers.Done()
	for run := range wp.taskQueue {
		run()
	}
}

// Stop lets queued tasks finish and ends the workers. Rooms must not
// submit tasks afterwards.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.stopped.Store(true)
		close(wp.done)
		wp.sendMu.Lock()
		close(wp.taskQueue)
		wp.sendMu.Unlock()
	})
	wp.workers.Wait()
}

// NewRoom creates a room whose result buffer holds size results.
func NewRoom[T any](wp *WorkerPool, size int) *Room[T] {
	if size < 1 {
		size = 1
	}
	return &Room[T]{
		resultChan: make(chan T, size),
		wp:         wp,
	}
}

// NewTaskWaitForFreeSlot queues job, blocking while the global buffer is
// full.
func (ro *Room[T]) NewTaskWaitForFreeSlot(job func() T) error {
	ro.wp.sendMu.RLock()
	defer ro.wp.sendMu.RUnlock()
	if ro.wp.stopped.Load() {
		return ErrStopped
	}
	ro.wg.Add(1)
	task := func() {
		defer ro.wg.Done()
		ro.resultChan <- job()
	}
	select {
	case ro.wp.taskQueue <- task:
		return nil
	case <-ro.wp.done:
		ro.wg.Done()
		return ErrStopped
	}
}

// NewTask queues job or fails when either buffer is full.
func (ro *Room[T]) NewTask(job func() T) error {
	if len(ro.wp.taskQueue) == cap(ro.wp.taskQueue) {
		return ErrGlobalBufferFull
	}

	if len(ro.resultChan) == cap(ro.resultChan) {
		return ErrRoomBufferFull
	}

	return ro.NewTaskWaitForFreeSlot(job)
}

// Collect waits for every task of the room and returns their results in
// completion order.
func (ro *Room[T]) Collect() []T {
	go ro.waitAndClose()
	results := make([]T, 0, cap(ro.resultChan))

	for result := range ro.resultChan {
		results = append(results, result)
	}

	return results
}

// AsyncCollector drains results in the background so that rooms with
// more tasks than buffer space do not block the workers.
func (ro *Room[T]) AsyncCollector() {
	if !ro.asyncCollectorActive.CompareAndSwap(false, true) {
		return
	}

	ro.asyncCollectorWait.Add(1)

	go func() {
		defer ro.asyncCollectorWait.Done()

		for result := range ro.resultChan {
			ro.resultMutex.Lock()
			ro.result = append(ro.result, result)
			ro.resultMutex.Unlock()
		}
	}()
}

// GetAsyncResults waits for every task and returns what AsyncCollector
// gathered.
func (ro *Room[T]) GetAsyncResults() []T {
	go ro.waitAndClose()
	ro.asyncCollectorWait.Wait()

	ro.resultMutex.Lock()
	defer ro.resultMutex.Unlock()

	return ro.result
}

func (ro *Room[T]) waitAndClose() {
	ro.wg.Wait()
	ro.closeOnce.Do(func() { close(ro.resultChan) })
}
