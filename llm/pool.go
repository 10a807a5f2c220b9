package llm

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PoolConfig 配置租户客户端池。
type PoolConfig struct {
	// MaxEntries 池内驻留句柄上限，超出后按 LRU 淘汰。
	MaxEntries int `json:"max_entries" yaml:"max_entries"`
	// IdleTimeout 空闲句柄的回收窗口。
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	// SweepInterval 后台回收扫描间隔。
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// DefaultPoolConfig 返回默认池配置。
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxEntries:    128,
		IdleTimeout:   30 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// ProviderFactory 为指定租户构建 TextProvider 句柄。
type ProviderFactory func(tenant string) (TextProvider, error)

type poolEntry struct {
	provider TextProvider
	lastUsed time.Time
}

// ClientPool 按租户/工作区键控的客户端句柄池。
// 句柄构建成本高，按租户复用而非按请求创建；读取已有句柄走 RLock
// 快路径，只有创建新句柄时才持写锁。
type ClientPool struct {
	mu      sync.RWMutex
	entries map[string]*poolEntry
	factory ProviderFactory
	config  PoolConfig
	logger  *zap.Logger
	done    chan struct{}
	once    sync.Once
}

// NewClientPool 创建客户端池并启动后台回收。
func NewClientPool(factory ProviderFactory, config PoolConfig, logger *zap.Logger) *ClientPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultPoolConfig().MaxEntries
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultPoolConfig().IdleTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultPoolConfig().SweepInterval
	}

	p := &ClientPool{
		entries: make(map[string]*poolEntry),
		factory: factory,
		config:  config,
		logger:  logger.With(zap.String("component", "client_pool")),
		done:    make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// Get 返回租户的 TextProvider，必要时创建。
func (p *ClientPool) Get(tenant string) (TextProvider, error) {
	// 快路径：已有句柄只取读锁。
	p.mu.RLock()
	entry, ok := p.entries[tenant]
	p.mu.RUnlock()
	if ok {
		p.touch(tenant)
		return entry.provider, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// 双检：等待写锁期间可能已被其他请求创建。
	if entry, ok := p.entries[tenant]; ok {
		entry.lastUsed = time.Now()
		return entry.provider, nil
	}

	provider, err := p.factory(tenant)
	if err != nil {
		return nil, fmt.Errorf("create provider for tenant %q: %w", tenant, err)
	}

	if len(p.entries) >= p.config.MaxEntries {
		p.evictOldestLocked()
	}

	p.entries[tenant] = &poolEntry{provider: provider, lastUsed: time.Now()}
	p.logger.Debug("provider created",
		zap.String("tenant", tenant),
		zap.Int("resident", len(p.entries)))
	return provider, nil
}

// Len 返回当前驻留句柄数。
func (p *ClientPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Close 停止后台回收。池内句柄不主动关闭，由 GC 回收。
func (p *ClientPool) Close() {
	p.once.Do(func() { close(p.done) })
}

func (p *ClientPool) touch(tenant string) {
	p.mu.Lock()
	if entry, ok := p.entries[tenant]; ok {
		entry.lastUsed = time.Now()
	}
	p.mu.Unlock()
}

// evictOldestLocked 淘汰最久未使用的句柄。调用方必须持有写锁。
func (p *ClientPool) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range p.entries {
		if oldestKey == "" || entry.lastUsed.Before(oldest) {
			oldestKey = key
			oldest = entry.lastUsed
		}
	}
	if oldestKey != "" {
		delete(p.entries, oldestKey)
		p.logger.Debug("provider evicted (lru)", zap.String("tenant", oldestKey))
	}
}

func (p *ClientPool) sweepLoop() {
	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

// sweepIdle 回收超过空闲窗口的句柄。
func (p *ClientPool) sweepIdle() {
	cutoff := time.Now().Add(-p.config.IdleTimeout)

	p.mu.Lock()
	defer p.mu.Unlock()

	for key, entry := range p.entries {
		if entry.lastUsed.Before(cutoff) {
			delete(p.entries, key)
			p.logger.Debug("provider evicted (idle)", zap.String("tenant", key))
		}
	}
}
