package task

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WorkerPool manages a pool of workers for executing tasks
type WorkerPool struct {
	config        ResourceConfig
	workers       []*Worker
	taskQueue     chan *Task
	stopChan      chan struct{}
	idleWorkers   chan *Worker
	clientManager *ClientManager
	mu            sync.RWMutex
}

// Worker represents a task execution worker
type Worker struct {
	id       string
	status   WorkerStatus
	taskChan chan *Task
	stopChan chan struct{}
	pool     *WorkerPool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(config ResourceConfig, clientManager *ClientManager) *WorkerPool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 4
	}
	wp := &WorkerPool{
		config:        config,
		taskQueue:     make(chan *Task, config.MaxWorkers*2),
		stopChan:      make(chan struct{}),
		idleWorkers:   make(chan *Worker, config.MaxWorkers),
		clientManager: clientManager,
	}

	wp.initWorkers()
	return wp
}

// initWorkers creates the fixed set of workers, all idle at start
func (wp *WorkerPool) initWorkers() {
	wp.workers = make([]*Worker, wp.config.MaxWorkers)
	for i := 0; i < wp.config.MaxWorkers; i++ {
		worker := newWorker(fmt.Sprintf("worker-%d", i), wp)
		wp.workers[i] = worker
		wp.idleWorkers <- worker
	}
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	// Start all workers
	for _, worker := range wp.workers {
		go worker.start()
	}

	// Start task distribution
	go wp.distributeItems()
}

// Stop stops the worker pool
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	close(wp.stopChan)
	for _, worker := range wp.workers {
		worker.stop()
	}
}

// Submit submits a task to the worker pool
func (wp *WorkerPool) Submit(task *Task) error {
	select {
	case wp.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// distributeItems distributes tasks to appropriate workers
func (wp *WorkerPool) distributeItems() {
	for {
		select {
		case <-wp.stopChan:
			return
		case task := <-wp.taskQueue:
			wp.assignTask(task)
		}
	}
}

// assignTask assigns a task to an available worker
func (wp *WorkerPool) assignTask(task *Task) {
	if _, exists := GetTaskExecutor(task.Type); !exists {
		task.Error = fmt.Errorf("no executor registered for task type: %v", task.Type)
		task.Status = TaskStatusFailed
		if task.Callback != nil {
			task.Callback.OnError(task.Error)
		}
		return
	}

	select {
	case worker := <-wp.idleWorkers:
		worker.assignTask(task)
	case <-time.After(10 * time.Second):
		// No worker freed up in time, fail instead of requeueing
		task.Status = TaskStatusFailed
		task.Error = fmt.Errorf("no available workers within timeout")
		wp.releaseQuota(task)
		if task.Callback != nil {
			task.Callback.OnError(task.Error)
		}
	}
}

// releaseQuota returns the quota reserved at submission time
func (wp *WorkerPool) releaseQuota(task *Task) {
	if task.ClientID == "" || wp.clientManager == nil {
		return
	}
	if ctx, err := wp.clientManager.GetClientContext(task.ClientID); err == nil {
		ctx.ResourceQuota.DecrementQuota()
		ctx.ResourceQuota.CompleteTask()
	}
}

// workerFinished returns a worker to the idle queue
func (wp *WorkerPool) workerFinished(worker *Worker) {
	select {
	case wp.idleWorkers <- worker:
	default:
		// Should not happen, the channel is sized for all workers
		fmt.Printf("Warning: Failed to return worker %s to idle pool\n", worker.id)
	}
}

// newWorker creates a new worker
func newWorker(id string, pool *WorkerPool) *Worker {
	return &Worker{
		id:       id,
		status:   WorkerStatusIdle,
		taskChan: make(chan *Task, 1),
		stopChan: make(chan struct{}),
		pool:     pool,
	}
}

// start starts the worker
func (w *Worker) start() {
	for {
		select {
		case <-w.stopChan:
			return
		case task := <-w.taskChan:
			w.executeTask(task)
		}
	}
}

// executeTask executes a task
func (w *Worker) executeTask(task *Task) {
	w.status = WorkerStatusBusy

	defer func() {
		w.status = WorkerStatusIdle
		w.pool.workerFinished(w)
		// Release the concurrency slot of the finished task
		if task.ClientID != "" && w.pool.clientManager != nil {
			if ctx, err := w.pool.clientManager.GetClientContext(task.ClientID); err == nil {
				ctx.ResourceQuota.CompleteTask()
			}
		}
	}()

	ctx, cancel := context.WithTimeout(task.Context, 5*time.Minute)
	defer cancel()
	task.Context = ctx

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				task.Status = TaskStatusFailed
				task.Error = fmt.Errorf("task panicked: %v", r)
			}
		}()

		select {
		case <-ctx.Done():
			task.Status = TaskStatusFailed
			task.Error = ctx.Err()
			return
		default:
		}

		task.Execute()
	}()

	select {
	case <-done:
		// Task finished normally
	case <-ctx.Done():
		task.Status = TaskStatusFailed
		task.Error = ctx.Err()
		if task.Callback != nil {
			task.Callback.OnError(task.Error)
		}
	}
}

// stop stops the worker
func (w *Worker) stop() {
	w.status = WorkerStatusStopped
	close(w.stopChan)
}

// assignTask assigns a task to the worker
func (w *Worker) assignTask(task *Task) {
	select {
	case w.taskChan <- task:
	default:
		// Should not happen, taskChan is buffered
		fmt.Printf("Warning: Failed to assign task to worker %s\n", w.id)
	}
}
