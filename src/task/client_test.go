package task

import (
	"testing"
	"time"
)

func TestResourceQuotaLimits(t *testing.T) {
	rq := NewResourceQuota(3)

	for i := 0; i < 3; i++ {
		if err := rq.TryIncrementQuota(); err != nil {
			t.Fatalf("reservation %d failed: %v", i+1, err)
		}
	}
	if err := rq.TryIncrementQuota(); err == nil {
		t.Error("expected daily quota error after exhausting the limit")
	}

	// returning one unit makes room again
	rq.DecrementQuota()
	rq.CompleteTask()
	if err := rq.TryIncrementQuota(); err != nil {
		t.Errorf("reservation after rollback failed: %v", err)
	}
}

func TestResourceQuotaConcurrencyLimit(t *testing.T) {
	rq := NewResourceQuota(100)

	for i := 0; i < rq.MaxConcurrentTasks; i++ {
		if err := rq.TryIncrementQuota(); err != nil {
			t.Fatalf("reservation %d failed: %v", i+1, err)
		}
	}
	if err := rq.TryIncrementQuota(); err == nil {
		t.Error("expected concurrency error at the running-task cap")
	}

	// finishing a task frees a slot without touching the daily counter
	rq.CompleteTask()
	if err := rq.TryIncrementQuota(); err != nil {
		t.Errorf("reservation after task completion failed: %v", err)
	}
}

func TestResourceQuotaDailyReset(t *testing.T) {
	rq := NewResourceQuota(2)
	rq.TryIncrementQuota()
	rq.TryIncrementQuota()
	rq.CompleteTask()
	rq.CompleteTask()

	// same day, nothing changes
	rq.resetIfNewDay(rq.LastResetDate)
	if rq.TotalUsedQuota != 2 {
		t.Errorf("TotalUsedQuota = %d, want 2", rq.TotalUsedQuota)
	}

	rq.resetIfNewDay(rq.LastResetDate.Add(24 * time.Hour))
	if rq.TotalUsedQuota != 0 {
		t.Errorf("TotalUsedQuota after reset = %d, want 0", rq.TotalUsedQuota)
	}
	if err := rq.TryIncrementQuota(); err != nil {
		t.Errorf("reservation after daily reset failed: %v", err)
	}
}

func TestClientManagerContextReuse(t *testing.T) {
	cm := NewClientManager(10)

	first, err := cm.GetClientContext("device-1")
	if err != nil {
		t.Fatalf("GetClientContext() error = %v", err)
	}
	second, err := cm.GetClientContext("device-1")
	if err != nil {
		t.Fatalf("GetClientContext() error = %v", err)
	}
	if first != second {
		t.Error("same client ID should reuse the existing context")
	}

	cm.RemoveClient("device-1")
	third, err := cm.GetClientContext("device-1")
	if err != nil {
		t.Fatalf("GetClientContext() error = %v", err)
	}
	if third == first {
		t.Error("removed client should get a fresh context")
	}
}
