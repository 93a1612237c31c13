package task

import (
	"fmt"
	"sync"
	"time"
)

// ClientManager manages client contexts and resources
type ClientManager struct {
	clients           map[string]*ClientContext
	maxTasksPerClient int
	mu                sync.RWMutex
}

// NewClientManager creates a new client manager
func NewClientManager(maxTasksPerClient int) *ClientManager {
	if maxTasksPerClient <= 0 {
		maxTasksPerClient = 50
	}
	return &ClientManager{
		clients:           make(map[string]*ClientContext),
		maxTasksPerClient: maxTasksPerClient,
	}
}

// GetClientContext gets or creates a client context
func (cm *ClientManager) GetClientContext(clientID string) (*ClientContext, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if ctx, exists := cm.clients[clientID]; exists {
		return ctx, nil
	}

	ctx := &ClientContext{
		ID:            clientID,
		ResourceQuota: NewResourceQuota(cm.maxTasksPerClient),
	}

	cm.clients[clientID] = ctx
	return ctx, nil
}

// RemoveClient removes a client context
func (cm *ClientManager) RemoveClient(clientID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.clients, clientID)
}

// checkDailyReset resets daily quotas when the date changes
func (cm *ClientManager) checkDailyReset() {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	now := time.Now()
	for _, ctx := range cm.clients {
		ctx.ResourceQuota.resetIfNewDay(now)
	}
}

// NewResourceQuota creates a new resource quota instance
func NewResourceQuota(maxTotal int) *ResourceQuota {
	return &ResourceQuota{
		MaxTotalTasks:      maxTotal,
		MaxConcurrentTasks: 10,
		LastResetDate:      time.Now(),
	}
}

// TryIncrementQuota atomically checks and reserves quota plus a concurrency slot
func (rq *ResourceQuota) TryIncrementQuota() error {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.TotalUsedQuota >= rq.MaxTotalTasks {
		return fmt.Errorf("daily task quota exceeded (%d)", rq.MaxTotalTasks)
	}
	if rq.TotalRunningTasks >= rq.MaxConcurrentTasks {
		return fmt.Errorf("maximum concurrent tasks reached (%d)", rq.MaxConcurrentTasks)
	}

	rq.TotalUsedQuota++
	rq.TotalRunningTasks++
	return nil
}

// DecrementQuota returns a reserved quota unit, used when submission fails
func (rq *ResourceQuota) DecrementQuota() {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.TotalUsedQuota > 0 {
		rq.TotalUsedQuota--
	}
}

// CompleteTask releases the concurrency slot of a finished task
func (rq *ResourceQuota) CompleteTask() {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.TotalRunningTasks > 0 {
		rq.TotalRunningTasks--
	}
}

// resetIfNewDay clears the daily counter on the first call of a new day
func (rq *ResourceQuota) resetIfNewDay(now time.Time) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if now.YearDay() != rq.LastResetDate.YearDay() || now.Year() != rq.LastResetDate.Year() {
		rq.TotalUsedQuota = 0
		rq.LastResetDate = now
	}
}
