package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/types"
)

// ResilientProvider 将限流与退避重试叠加在任意 TextProvider 之上。
// 同一上游端点的所有调用方共享同一个 Limiter 实例，从而获得进程级
// 的统一限流视图。
type ResilientProvider struct {
	inner   TextProvider
	limiter *Limiter
	retryer *BackoffRetryer
	logger  *zap.Logger
}

// NewResilientProvider 创建带限流与重试的 Provider 包装。
// limiter 可为 nil（不限流）；policy 为 nil 时使用默认策略。
func NewResilientProvider(inner TextProvider, limiter *Limiter, policy *RetryPolicy, logger *zap.Logger) *ResilientProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientProvider{
		inner:   inner,
		limiter: limiter,
		retryer: NewBackoffRetryer(policy, logger),
		logger:  logger.With(zap.String("component", "resilient_provider")),
	}
}

// Complete 实现 TextProvider.Complete。
func (p *ResilientProvider) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	var out string
	err := p.retryer.Do(ctx, func() error {
		if err := p.limiter.Wait(ctx, estimateRequestTokens(req)); err != nil {
			return err
		}
		var callErr error
		out, callErr = p.inner.Complete(ctx, req)
		return callErr
	})
	return out, err
}

// Stream 实现 TextProvider.Stream。流式调用只对建立阶段重试；
// 流一旦开始，中途失败由消费方通过 chunk.Err 处理。
func (p *ResilientProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	var out <-chan StreamChunk
	err := p.retryer.Do(ctx, func() error {
		if err := p.limiter.Wait(ctx, estimateRequestTokens(req)); err != nil {
			return err
		}
		var callErr error
		out, callErr = p.inner.Stream(ctx, req)
		return callErr
	})
	return out, err
}

// Embed 实现 TextProvider.Embed。
func (p *ResilientProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := p.retryer.Do(ctx, func() error {
		if err := p.limiter.Wait(ctx, estimateTokens(text)); err != nil {
			return err
		}
		var callErr error
		out, callErr = p.inner.Embed(ctx, text)
		return callErr
	})
	return out, err
}

// estimateRequestTokens 粗估一次补全请求的 token 消耗。
// 精确计数在合成阶段用 tiktoken 完成；限流侧只需量级正确，
// 偏差由上游限流响应 + 退避重试兜底。
func estimateRequestTokens(req *CompletionRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += estimateTokens(m.Content)
	}
	return total + req.MaxTokens
}

func estimateTokens(text string) int {
	return len(text)/4 + 1
}

var _ TextProvider = (*ResilientProvider)(nil)

// RateLimitedErr 构造一个可重试的限流错误，供 Provider 实现方在
// 收到上游 429 响应时返回。
func RateLimitedErr(stage string, cause error) error {
	return types.WrapError(types.ErrRateLimited, stage, "upstream rate limit exceeded", cause)
}
