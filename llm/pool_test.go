package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// stubProvider 是测试用的空实现。
type stubProvider struct {
	tenant string
}

func (s *stubProvider) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	return "", nil
}

func (s *stubProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk)
	close(ch)
	return ch, nil
}

func (s *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

func TestClientPool_ReusesHandle(t *testing.T) {
	var created atomic.Int32
	pool := NewClientPool(func(tenant string) (TextProvider, error) {
		created.Add(1)
		return &stubProvider{tenant: tenant}, nil
	}, DefaultPoolConfig(), zap.NewNop())
	defer pool.Close()

	p1, err := pool.Get("tenant-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	p2, err := pool.Get("tenant-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p1 != p2 {
		t.Error("expected same handle for same tenant")
	}
	if created.Load() != 1 {
		t.Errorf("expected 1 creation, got %d", created.Load())
	}
}

func TestClientPool_ConcurrentGetCreatesOnce(t *testing.T) {
	var created atomic.Int32
	pool := NewClientPool(func(tenant string) (TextProvider, error) {
		created.Add(1)
		time.Sleep(time.Millisecond)
		return &stubProvider{tenant: tenant}, nil
	}, DefaultPoolConfig(), zap.NewNop())
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Get("tenant-x"); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("expected single creation under contention, got %d", created.Load())
	}
}

func TestClientPool_LRUEviction(t *testing.T) {
	cfg := PoolConfig{MaxEntries: 2, IdleTimeout: time.Hour, SweepInterval: time.Hour}
	pool := NewClientPool(func(tenant string) (TextProvider, error) {
		return &stubProvider{tenant: tenant}, nil
	}, cfg, zap.NewNop())
	defer pool.Close()

	if _, err := pool.Get("a"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := pool.Get("b"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	// 触达 a，使 b 成为最久未使用。
	if _, err := pool.Get("a"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := pool.Get("c"); err != nil {
		t.Fatal(err)
	}

	if pool.Len() != 2 {
		t.Errorf("expected 2 resident entries, got %d", pool.Len())
	}

	// b 应已被淘汰：再次 Get 会重新创建，a 仍复用。
	pa, _ := pool.Get("a")
	if pa.(*stubProvider).tenant != "a" {
		t.Error("expected tenant-a handle to survive")
	}
}

func TestClientPool_IdleSweep(t *testing.T) {
	cfg := PoolConfig{MaxEntries: 8, IdleTimeout: 5 * time.Millisecond, SweepInterval: time.Hour}
	pool := NewClientPool(func(tenant string) (TextProvider, error) {
		return &stubProvider{tenant: tenant}, nil
	}, cfg, zap.NewNop())
	defer pool.Close()

	if _, err := pool.Get("a"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	pool.sweepIdle()

	if pool.Len() != 0 {
		t.Errorf("expected idle entry swept, got %d resident", pool.Len())
	}
}
