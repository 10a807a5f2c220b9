// Package planner 实现查询规划：意图/复杂度分类、实体提取、
// 子查询分解与检索策略选择。
//
// 规划失败时兜底为最保守计划：out_of_scope、禁止检索，失败即关闭。
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/store"
	"github.com/BaSui01/answerflow/types"
)

// Config 配置规划器。
type Config struct {
	// UseLLM 是否使用模型辅助的领域相关性判断与分解。
	UseLLM bool `json:"use_llm" yaml:"use_llm"`
	// Temperature 分类调用的温度（低温 + 结构化输出）。
	Temperature float32 `json:"temperature" yaml:"temperature"`
	// MaxSubQueries 分解产生的子查询上限（2-4）。
	MaxSubQueries int `json:"max_sub_queries" yaml:"max_sub_queries"`
	// IrrelevantConfidence 模型判定"不相关"时需要达到的置信度才拒绝；
	// 低于该值的歧义一律倾向检索，由下游空证据检查兜底。
	IrrelevantConfidence float64 `json:"irrelevant_confidence" yaml:"irrelevant_confidence"`
	// 缓存
	EnableCache bool          `json:"enable_cache" yaml:"enable_cache"`
	CacheTTL    time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// DefaultConfig 返回默认规划配置。
func DefaultConfig() Config {
	return Config{
		UseLLM:               true,
		Temperature:          0.1,
		MaxSubQueries:        3,
		IrrelevantConfidence: 0.8,
		EnableCache:          true,
		CacheTTL:             10 * time.Minute,
	}
}

// Planner 把原始查询转换为不可变的 QueryPlan。
type Planner struct {
	config   Config
	provider llm.TextProvider
	cache    *planCache
	logger   *zap.Logger
}

// New 创建规划器。provider 可为 nil（纯规则模式）。
func New(config Config, provider llm.TextProvider, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxSubQueries < 2 {
		config.MaxSubQueries = 2
	}
	if config.MaxSubQueries > 4 {
		config.MaxSubQueries = 4
	}

	var cache *planCache
	if config.EnableCache {
		ttl := config.CacheTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		cache = newPlanCache(ttl)
	}

	return &Planner{
		config:   config,
		provider: provider,
		cache:    cache,
		logger:   logger.With(zap.String("component", "query_planner")),
	}
}

// Plan 生成查询计划。对畸形输入不报错；内部失败时返回最保守计划。
func (p *Planner) Plan(ctx context.Context, query string, turns []store.Turn) *types.QueryPlan {
	query = strings.TrimSpace(query)
	if query == "" {
		return types.RestrictivePlan(query, "empty query")
	}

	if p.cache != nil && len(turns) == 0 {
		if cached, ok := p.cache.get(query); ok {
			p.logger.Debug("plan cache hit", zap.String("query", query))
			return cached
		}
	}

	plan := p.plan(ctx, query, turns)

	if p.cache != nil && len(turns) == 0 {
		p.cache.set(query, plan)
	}

	p.logger.Info("query planned",
		zap.String("query", truncate(query, 60)),
		zap.String("intent", string(plan.Intent)),
		zap.String("complexity", string(plan.Complexity)),
		zap.Int("entities", len(plan.Entities)),
		zap.Int("sub_queries", len(plan.SubQueries)))
	return plan
}

func (p *Planner) plan(ctx context.Context, query string, turns []store.Turn) *types.QueryPlan {
	// 1. 快路径：问候优先于超纲，两者互斥，均不触发模型调用。
	if IsGreeting(query) {
		return &types.QueryPlan{
			RawQuery:   query,
			Intent:     types.IntentGreeting,
			Complexity: types.ComplexitySimple,
		}
	}
	if reason, ok := matchOutOfScope(query); ok {
		return types.RestrictivePlan(query, reason)
	}

	// 2. 会话上下文：跟进问句把近几轮的实体并入本次计划。
	entities := extractEntities(query)
	if isFollowUp(query, turns) {
		entities = mergeEntities(entities, contextEntities(turns))
	}

	// 3. 领域相关性（仅无快路径命中时走模型）。
	// 歧义一律倾向检索：只有模型高置信判定不相关才在此拒绝，
	// 其余交给下游的空证据检查。
	intent := detectIntent(query, entities)
	if p.config.UseLLM && p.provider != nil {
		verdict, err := p.classify(ctx, query)
		if err != nil {
			// 失败即关闭：分类器不可用时绝不放行检索。
			p.logger.Warn("classifier unavailable, failing closed", zap.Error(err))
			return types.RestrictivePlan(query, "classifier unavailable")
		}
		if !verdict.Relevant && verdict.Confidence >= p.config.IrrelevantConfidence {
			return types.RestrictivePlan(query, "outside corpus domain")
		}
		if intent == types.IntentKnowledgeQuery && verdict.Intent.Valid() {
			intent = verdict.Intent
		}
	}

	// 4. 复杂度与分解。
	complexity := classifyComplexity(query, intent, entities)
	var subQueries []string
	if complexity != types.ComplexitySimple {
		subQueries = p.decompose(ctx, query)
	}

	// 5. 策略选择。
	plan := &types.QueryPlan{
		RawQuery:   query,
		Intent:     intent,
		Complexity: complexity,
		Entities:   entities,
		SubQueries: subQueries,
		Strategy: types.RetrievalStrategy{
			UseVector:     true,
			UseGraph:      true,
			ExpandQuery:   complexity != types.ComplexitySimple,
			TraversalMode: traversalModeFor(intent),
		},
	}
	return plan
}

// traversalModeFor 按意图选择图遍历模式。
func traversalModeFor(intent types.QueryIntent) types.TraversalMode {
	switch intent {
	case types.IntentCausal, types.IntentComparison:
		return types.TraversalMultiHop
	case types.IntentCrossEpisode:
		return types.TraversalCrossSource
	default:
		return types.TraversalEntityCentric
	}
}

// 规则意图检测：按模式命中优先，命不中则归为一般知识查询。
var intentPatterns = []struct {
	intent   types.QueryIntent
	keywords []string
}{
	{types.IntentDefinition, []string{"what is", "what are", "define", "definition of", "meaning of", "what does"}},
	{types.IntentComparison, []string{"compare", "difference between", "versus", " vs ", "better than", "similar to"}},
	{types.IntentCausal, []string{"why did", "why does", "what caused", "because of", "leads to", "result of", "consequence"}},
	{types.IntentCrossEpisode, []string{"across episodes", "across documents", "across sources", "recurs", "recurring", "keeps coming up", "in common across"}},
}

func detectIntent(query string, entities []string) types.QueryIntent {
	q := strings.ToLower(query)
	for _, entry := range intentPatterns {
		for _, kw := range entry.keywords {
			if strings.Contains(q, kw) {
				return entry.intent
			}
		}
	}
	if len(entities) >= 3 {
		return types.IntentMultiEntity
	}
	return types.IntentKnowledgeQuery
}

// classifyComplexity 复杂度打分：词数、实体数与意图共同决定。
func classifyComplexity(query string, intent types.QueryIntent, entities []string) types.QueryComplexity {
	score := 0.0

	words := len(strings.Fields(query))
	switch {
	case words > 20:
		score += 0.4
	case words > 10:
		score += 0.2
	}

	switch {
	case len(entities) > 2:
		score += 0.3
	case len(entities) == 2:
		score += 0.2
	}

	switch intent {
	case types.IntentComparison, types.IntentCausal:
		score += 0.3
	case types.IntentMultiEntity, types.IntentCrossEpisode:
		score += 0.5
	}

	conjunctions := []string{" and ", " as well as ", " both "}
	q := strings.ToLower(query)
	for _, conj := range conjunctions {
		if strings.Contains(q, conj) {
			score += 0.1
		}
	}

	switch {
	case score >= 0.6:
		return types.ComplexityComplex
	case score >= 0.3:
		return types.ComplexityModerate
	default:
		return types.ComplexitySimple
	}
}

// relevanceVerdict 是模型相关性判断的结构化输出。
type relevanceVerdict struct {
	Relevant   bool              `json:"relevant"`
	Intent     types.QueryIntent `json:"intent"`
	Confidence float64           `json:"confidence"`
}

// classify 让模型做二元相关性判断 + 意图细分。
// 提示词明确要求：题面像但语料未必覆盖的问题（泛泛的生活建议等）
// 只有语料可能讨论时才算相关，拿不准时判相关。
func (p *Planner) classify(ctx context.Context, query string) (*relevanceVerdict, error) {
	prompt := fmt.Sprintf(`You are the query classifier for a question answering system over a pre-indexed corpus of conversations and documents.

Judge whether the query plausibly asks about corpus content, and classify its intent.
Rules:
- A question that merely SOUNDS topical (generic life advice, trivia) is relevant only if the corpus plausibly discusses it.
- When in doubt, mark it relevant: empty retrieval results will reject it downstream.
- Intent must be one of: knowledge_query, definition, comparison, causal, multi_entity, cross_episode, conversational.

Query: %s

Respond with JSON only:
{"relevant": true|false, "intent": "...", "confidence": 0.0-1.0}`, query)

	response, err := p.provider.Complete(ctx, &llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: p.config.Temperature,
		MaxTokens:   128,
	})
	if err != nil {
		return nil, err
	}

	var verdict relevanceVerdict
	if err := json.Unmarshal([]byte(extractJSON(response)), &verdict); err != nil {
		return nil, fmt.Errorf("parse classifier output: %w", err)
	}
	return &verdict, nil
}

// decompose 把复杂查询拆为 2-4 个独立子查询，模型不可用时退回规则拆分。
func (p *Planner) decompose(ctx context.Context, query string) []string {
	if p.config.UseLLM && p.provider != nil {
		if subs, err := p.decomposeWithLLM(ctx, query); err == nil && len(subs) > 0 {
			return subs
		} else if err != nil {
			p.logger.Warn("decomposition failed, using rules", zap.Error(err))
		}
	}
	return decomposeWithRules(query, p.config.MaxSubQueries)
}

var leadingNumber = regexp.MustCompile(`^\d+[\.\)]\s*`)

func (p *Planner) decomposeWithLLM(ctx context.Context, query string) ([]string, error) {
	prompt := fmt.Sprintf(`Break down the following complex question into at most %d simpler, independently answerable sub-questions.
Return only the sub-questions, one per line.

Question: %s

Sub-questions:`, p.config.MaxSubQueries, query)

	response, err := p.provider.Complete(ctx, &llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: p.config.Temperature,
		MaxTokens:   256,
	})
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(response), "\n")
	subs := make([]string, 0, p.config.MaxSubQueries)
	for _, line := range lines {
		line = leadingNumber.ReplaceAllString(strings.TrimSpace(line), "")
		if line != "" {
			subs = append(subs, line)
		}
		if len(subs) >= p.config.MaxSubQueries {
			break
		}
	}
	return subs, nil
}

// decomposeWithRules 按连接词拆分。
func decomposeWithRules(query string, maxSubs int) []string {
	separators := []string{" and ", " as well as ", " compared to ", " versus "}
	parts := []string{query}
	for _, sep := range separators {
		var next []string
		for _, part := range parts {
			for _, s := range strings.Split(part, sep) {
				s = strings.TrimSpace(s)
				if s != "" {
					next = append(next, s)
				}
			}
		}
		parts = next
	}

	var subs []string
	for _, part := range parts {
		if len(strings.Fields(part)) >= 2 {
			subs = append(subs, part)
		}
		if len(subs) >= maxSubs {
			break
		}
	}
	if len(subs) <= 1 {
		return nil
	}
	return subs
}

// extractJSON 从模型输出中截取首个 JSON 对象。
func extractJSON(response string) string {
	response = strings.TrimSpace(response)
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		return response[start : end+1]
	}
	return response
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
