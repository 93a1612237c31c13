package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"waste-vision-go/src/core/image"
)

// TaskType represents different types of async tasks
type TaskType string

// TaskStatus represents the current status of a task
type TaskStatus string

// TaskExecutor defines the function signature for task execution
type TaskExecutor func(t *Task) error

const (
	// TaskTypeClassify runs a full image classification pipeline
	TaskTypeClassify TaskType = "classify"
)

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusFailed   TaskStatus = "failed"
)

// ClassifyParams carries the input of a classification task
type ClassifyParams struct {
	Image image.ImageData
}

// TaskRegistry manages task type to executor mappings
type TaskRegistry struct {
	executors map[TaskType]TaskExecutor
	mu        sync.RWMutex
}

// Global task registry instance
var taskRegistry = &TaskRegistry{
	executors: make(map[TaskType]TaskExecutor),
}

// RegisterTaskExecutor registers a task executor for a specific task type
func RegisterTaskExecutor(taskType TaskType, executor TaskExecutor) {
	taskRegistry.mu.Lock()
	defer taskRegistry.mu.Unlock()
	taskRegistry.executors[taskType] = executor
}

// GetTaskExecutor retrieves the executor for a specific task type
func GetTaskExecutor(taskType TaskType) (TaskExecutor, bool) {
	taskRegistry.mu.RLock()
	defer taskRegistry.mu.RUnlock()
	executor, exists := taskRegistry.executors[taskType]
	return executor, exists
}

// GetRegisteredTaskTypes returns all registered task types
func GetRegisteredTaskTypes() []TaskType {
	taskRegistry.mu.RLock()
	defer taskRegistry.mu.RUnlock()
	types := make([]TaskType, 0, len(taskRegistry.executors))
	for taskType := range taskRegistry.executors {
		types = append(types, taskType)
	}
	return types
}

// Task represents an async task with its properties and callback
type Task struct {
	ID        string
	Type      TaskType
	Status    TaskStatus
	Params    interface{}
	Result    interface{}
	Error     error
	Callback  TaskCallback
	CreatedAt time.Time
	UpdatedAt time.Time
	ClientID  string
	Context   context.Context
}

func NewTask(ctx context.Context, taskType TaskType, params interface{}) (task *Task, id string) {
	id = uuid.New().String()
	return &Task{
		ID:        id,
		Type:      taskType,
		Status:    TaskStatusPending,
		Params:    params,
		CreatedAt: time.Now(),
		Context:   ctx,
	}, id
}

// Execute executes the task and calls appropriate callbacks
func (t *Task) Execute() {
	defer func() {
		if r := recover(); r != nil {
			t.Status = TaskStatusFailed
			t.Error = fmt.Errorf("task panicked: %v", r)
			if t.Callback != nil {
				t.Callback.OnError(t.Error)
			}
		}
	}()

	select {
	case <-t.Context.Done():
		// Client went away before the task started
		return
	default:
	}

	t.Status = TaskStatusRunning
	t.UpdatedAt = time.Now()

	executor, exists := GetTaskExecutor(t.Type)
	if !exists {
		t.Error = fmt.Errorf("no executor registered for task type: %v", t.Type)
		t.Status = TaskStatusFailed
	} else {
		// Execute the task using the registered executor
		t.Error = executor(t)
	}

	// Call appropriate callback
	if t.Error != nil {
		t.Status = TaskStatusFailed
		if t.Callback != nil {
			t.Callback.OnError(t.Error)
		}
	} else {
		t.Status = TaskStatusComplete
		if t.Callback != nil {
			t.Callback.OnComplete(t.Result)
		}
	}
}

// TaskCallback defines the interface for task completion handling
type TaskCallback interface {
	OnComplete(result interface{})
	OnError(err error)
}

// ResourceQuota manages resource limits for tasks
type ResourceQuota struct {
	MaxTotalTasks      int // daily total quota
	MaxConcurrentTasks int // concurrent task limit
	TotalUsedQuota     int
	TotalRunningTasks  int
	LastResetDate      time.Time
	mu                 sync.Mutex
}

// ClientContext holds client-specific settings and state
type ClientContext struct {
	ID            string
	ResourceQuota *ResourceQuota
}

// WorkerStatus represents the current status of a worker
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// ResourceConfig defines resource limits for task execution
type ResourceConfig struct {
	MaxWorkers        int
	MaxTasksPerClient int
}
