package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/BaSui01/answerflow/types"
)

// LimiterConfig 配置共享限流器。
type LimiterConfig struct {
	// RequestsPerMinute 每分钟请求数上限（0 表示不限）。
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	// TokensPerMinute 每分钟 token 数上限（0 表示不限）。
	TokensPerMinute int `json:"tokens_per_minute" yaml:"tokens_per_minute"`
	// Burst 请求桶突发容量，默认等于每秒速率向上取整。
	Burst int `json:"burst" yaml:"burst"`
}

// DefaultLimiterConfig 返回默认限流配置。
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		RequestsPerMinute: 600,
		TokensPerMinute:   200_000,
		Burst:             10,
	}
}

// Limiter 是面向单个上游端点的进程级共享限流器。
// 同一端点的所有并发调用（规划分类、扩展、合成、自检）共用一个实例；
// 它随进程存活，不做按请求的创建销毁。
type Limiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// NewLimiter 创建共享限流器。
func NewLimiter(cfg LimiterConfig) *Limiter {
	l := &Limiter{}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.RequestsPerMinute/60 + 1
		}
		l.requests = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}
	if cfg.TokensPerMinute > 0 {
		// token 桶的突发容量取一分钟额度，允许单次大 prompt 通过。
		l.tokens = rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60.0), cfg.TokensPerMinute)
	}
	return l
}

// Wait 阻塞到本次调用获准执行。estTokens 是对 prompt+completion 的
// token 估算；估算偏差由上游限流响应兜底（见 BackoffRetryer）。
func (l *Limiter) Wait(ctx context.Context, estTokens int) error {
	if l == nil {
		return nil
	}
	if l.requests != nil {
		if err := l.requests.Wait(ctx); err != nil {
			return types.WrapError(types.ErrRateLimited, "", "request limiter wait", err)
		}
	}
	if l.tokens != nil && estTokens > 0 {
		if estTokens > l.tokens.Burst() {
			estTokens = l.tokens.Burst()
		}
		if err := l.tokens.WaitN(ctx, estTokens); err != nil {
			return types.WrapError(types.ErrRateLimited, "", "token limiter wait", err)
		}
	}
	return nil
}

// Allow 非阻塞检查是否可立即执行一次请求（不消耗 token 桶）。
func (l *Limiter) Allow() bool {
	if l == nil || l.requests == nil {
		return true
	}
	return l.requests.Allow()
}
