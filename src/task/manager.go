package task

import (
	"fmt"
	"time"
)

// TaskManager manages async tasks and their execution
type TaskManager struct {
	workerPool    *WorkerPool
	clientManager *ClientManager
	resetTicker   *time.Ticker
	stopChan      chan struct{}
}

// NewTaskManager creates a new TaskManager instance
func NewTaskManager(config ResourceConfig) *TaskManager {
	tm := &TaskManager{
		clientManager: NewClientManager(config.MaxTasksPerClient),
		resetTicker:   time.NewTicker(time.Minute),
		stopChan:      make(chan struct{}),
	}

	tm.workerPool = NewWorkerPool(config, tm.clientManager)
	return tm
}

// Start starts the task manager and its components
func (tm *TaskManager) Start() {
	tm.workerPool.Start()
	go tm.run()
}

// Stop stops the task manager and its components
func (tm *TaskManager) Stop() {
	tm.resetTicker.Stop()
	close(tm.stopChan)
	tm.workerPool.Stop()
}

// run periodically triggers daily quota resets
func (tm *TaskManager) run() {
	for {
		select {
		case <-tm.stopChan:
			return
		case <-tm.resetTicker.C:
			tm.clientManager.checkDailyReset()
		}
	}
}

// SubmitTask submits a task for execution
func (tm *TaskManager) SubmitTask(clientID string, task *Task) error {
	if _, exists := GetTaskExecutor(task.Type); !exists {
		return fmt.Errorf("task type %v is not registered", task.Type)
	}

	// Get or create client context
	ctx, err := tm.clientManager.GetClientContext(clientID)
	if err != nil {
		return fmt.Errorf("failed to get client context: %v", err)
	}

	// Atomically check and reserve quota
	if err := ctx.ResourceQuota.TryIncrementQuota(); err != nil {
		return err
	}

	task.ClientID = clientID

	// Roll back the reservation when the queue is full
	if err := tm.workerPool.Submit(task); err != nil {
		ctx.ResourceQuota.DecrementQuota()
		ctx.ResourceQuota.CompleteTask()
		return err
	}

	return nil
}
