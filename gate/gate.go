// Package gate 实现答案验证闸门：管线的最后一道关卡，
// 强制执行核心约束——未接地的答案必须被标准拒答替换。
//
// 三道检查按序短路，前两道是确定性的：
//  1. 证据计数：两路证据皆空则拒绝（问候除外，问候身份由闸门
//     用同一匹配器独立复核，不信任上游标签）。
//  2. 引用存在性：接地答案必须至少携带一条引用。
//  3. 模型自检（咨询性）：让模型给答案与证据的一致性打分，
//     低于阈值才拒绝；自检服务不可用时放行并记日志，
//     绝不让咨询性检查把可用答案变成故障。
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/planner"
	"github.com/BaSui01/answerflow/types"
)

// Config 配置验证闸门。
type Config struct {
	// EnableSelfCheck 是否启用模型自检。
	EnableSelfCheck bool `json:"enable_self_check" yaml:"enable_self_check"`
	// FaithfulnessThreshold 自检通过线，低于该分拒绝答案。
	FaithfulnessThreshold float64 `json:"faithfulness_threshold" yaml:"faithfulness_threshold"`
	// Temperature 自检调用温度。
	Temperature float32 `json:"temperature" yaml:"temperature"`
}

// DefaultConfig 返回默认闸门配置。
func DefaultConfig() Config {
	return Config{
		EnableSelfCheck:       true,
		FaithfulnessThreshold: 0.7,
		Temperature:           0.0,
	}
}

// Gate 是答案验证闸门。
type Gate struct {
	config   Config
	provider llm.TextProvider
	logger   *zap.Logger
}

// New 创建闸门。provider 可为 nil（禁用自检，只跑确定性检查）。
func New(config Config, provider llm.TextProvider, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FaithfulnessThreshold <= 0 || config.FaithfulnessThreshold > 1 {
		config.FaithfulnessThreshold = 0.7
	}
	return &Gate{
		config:   config,
		provider: provider,
		logger:   logger.With(zap.String("component", "validation_gate")),
	}
}

// Validate 审定合成结果并写入终态判定。返回值总是非 nil：
// 接受则原样放行（Verdict=accepted），拒绝则替换为标准拒答。
func (g *Gate) Validate(ctx context.Context, query string, counts types.EvidenceCounts, result *types.SynthesisResult, evidence []types.RankedItem) *types.SynthesisResult {
	// 问候独立复核：不依赖规划器的标签，闸门自己再判一次。
	// 问候是无需证据的平凡接地回复，不落入未接地⇒标准拒答的约束。
	if planner.IsGreeting(query) {
		return accept(&types.SynthesisResult{
			AnswerText: types.GreetingReply,
			Grounded:   true,
		})
	}

	if counts.Empty() {
		g.logger.Info("rejected: no evidence", zap.String("query", query))
		return reject()
	}

	if result == nil || !result.Grounded || strings.TrimSpace(result.AnswerText) == "" {
		return reject()
	}
	if len(result.Citations) == 0 {
		g.logger.Info("rejected: grounded answer without citations")
		return reject()
	}

	if g.config.EnableSelfCheck && g.provider != nil {
		score, err := g.selfCheck(ctx, query, result.AnswerText, evidence)
		if err != nil {
			// 咨询性检查：失败放行，确定性检查已经过了。
			g.logger.Warn("self-check unavailable, accepting", zap.Error(err))
		} else if score < g.config.FaithfulnessThreshold {
			g.logger.Info("rejected: self-check below threshold",
				zap.Float64("score", score),
				zap.Float64("threshold", g.config.FaithfulnessThreshold))
			return reject()
		}
	}

	return accept(result)
}

func accept(result *types.SynthesisResult) *types.SynthesisResult {
	result.Verdict = types.VerdictAccepted
	return result
}

func reject() *types.SynthesisResult {
	result := types.Rejected()
	result.Verdict = types.VerdictRejected
	return result
}

// selfCheck 让模型给答案对证据的忠实度打分。
func (g *Gate) selfCheck(ctx context.Context, query, answer string, evidence []types.RankedItem) (float64, error) {
	var sb strings.Builder
	for i, item := range evidence {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(item.Content))
	}

	prompt := fmt.Sprintf(`Score how faithful the answer is to the evidence: 1.0 means every claim is directly supported, 0.0 means the answer is unsupported.

Question: %s

Evidence:
%s
Answer: %s

Respond with JSON only: {"faithful": 0.0-1.0}`, query, sb.String(), answer)

	response, err := g.provider.Complete(ctx, &llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: g.config.Temperature,
		MaxTokens:   32,
	})
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Faithful float64 `json:"faithful"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil {
		return 0, fmt.Errorf("parse self-check output: %w", err)
	}
	return parsed.Faithful, nil
}

func extractJSON(response string) string {
	response = strings.TrimSpace(response)
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		return response[start : end+1]
	}
	return response
}
