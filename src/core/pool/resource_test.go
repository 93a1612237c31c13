package pool

import (
	"sync/atomic"
	"testing"
	"time"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/utils"
)

// countingFactory 统计创建和销毁次数的资源工厂
type countingFactory struct {
	created   int64
	destroyed int64
}

func (f *countingFactory) Create() (interface{}, error) {
	return atomic.AddInt64(&f.created, 1), nil
}

func (f *countingFactory) Destroy(resource interface{}) error {
	atomic.AddInt64(&f.destroyed, 1)
	return nil
}

func newPoolTestLogger(t *testing.T) *utils.Logger {
	t.Helper()
	cfg := &configs.Config{}
	cfg.Log.LogDir = t.TempDir()
	cfg.Log.LogFile = "test.log"
	cfg.Log.LogLevel = "info"

	logger, err := utils.NewLogger(cfg)
	if err != nil {
		t.Fatalf("创建日志器失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func newTestPool(t *testing.T, factory ResourceFactory, minSize, maxSize int) *ResourcePool {
	t.Helper()
	p, err := NewResourcePool(factory, PoolConfig{
		MinSize:       minSize,
		MaxSize:       maxSize,
		RefillSize:    minSize,
		CheckInterval: time.Hour, // 测试中不触发定期补充
	}, newPoolTestLogger(t))
	if err != nil {
		t.Fatalf("创建资源池失败: %v", err)
	}
	return p
}

func TestPutReturnsToPool(t *testing.T) {
	factory := &countingFactory{}
	p := newTestPool(t, factory, 2, 4)
	defer p.Close()

	resource, err := p.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	p.Put(resource)

	available, total := p.GetStats()
	if available != 2 || total != 2 {
		t.Errorf("GetStats() = (%d, %d), want (2, 2)", available, total)
	}
	if atomic.LoadInt64(&factory.destroyed) != 0 {
		t.Errorf("destroyed = %d, want 0", factory.destroyed)
	}
}

func TestPutDestroysWhenFull(t *testing.T) {
	factory := &countingFactory{}
	p := newTestPool(t, factory, 1, 1)
	defer p.Close()

	extra, err := factory.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	p.Put(extra)

	if got := atomic.LoadInt64(&factory.destroyed); got != 1 {
		t.Errorf("destroyed = %d, want 1", got)
	}
}

func TestPutAfterCloseDestroysResource(t *testing.T) {
	factory := &countingFactory{}
	p := newTestPool(t, factory, 1, 2)

	resource, err := p.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	p.Close()

	// 关闭后归还不能panic，资源应被销毁
	p.Put(resource)

	if got := atomic.LoadInt64(&factory.destroyed); got != 1 {
		t.Errorf("destroyed = %d, want 1", got)
	}
}

func TestCloseIdempotent(t *testing.T) {
	factory := &countingFactory{}
	p := newTestPool(t, factory, 1, 2)

	p.Close()
	p.Close()

	if got := atomic.LoadInt64(&factory.destroyed); got != 1 {
		t.Errorf("destroyed = %d, want 1", got)
	}
}
