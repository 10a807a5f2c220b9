package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/llm"
)

// ExpansionConfig 配置查询扩展。
type ExpansionConfig struct {
	// MaxVariants 扩展后变体总数上限（含原查询），3-5。
	MaxVariants int `json:"max_variants" yaml:"max_variants"`
	// Temperature 变体生成温度。
	Temperature float32 `json:"temperature" yaml:"temperature"`
}

// DefaultExpansionConfig 返回默认扩展配置。
func DefaultExpansionConfig() ExpansionConfig {
	return ExpansionConfig{
		MaxVariants: 4,
		Temperature: 0.5,
	}
}

// Expander 为中/高复杂度查询生成改写变体，提升向量召回。
// 模型不可用时退回同义替换规则；扩展失败永远不阻断检索，
// 最差情况下只用原查询。
type Expander struct {
	config   ExpansionConfig
	provider llm.TextProvider
	logger   *zap.Logger
}

// NewExpander 创建查询扩展器。provider 可为 nil（纯规则模式）。
func NewExpander(config ExpansionConfig, provider llm.TextProvider, logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxVariants < 3 {
		config.MaxVariants = 3
	}
	if config.MaxVariants > 5 {
		config.MaxVariants = 5
	}
	return &Expander{
		config:   config,
		provider: provider,
		logger:   logger.With(zap.String("component", "query_expander")),
	}
}

// Expand 返回查询变体列表，原查询永远是第一个元素。
func (e *Expander) Expand(ctx context.Context, query string) []string {
	variants := []string{query}

	var generated []string
	if e.provider != nil {
		var err error
		generated, err = e.expandWithLLM(ctx, query)
		if err != nil {
			e.logger.Warn("llm expansion failed, using rules", zap.Error(err))
			generated = nil
		}
	}
	if len(generated) == 0 {
		generated = expandWithRules(query)
	}

	for _, v := range generated {
		if len(variants) >= e.config.MaxVariants {
			break
		}
		if !isNearDuplicate(v, variants) {
			variants = append(variants, v)
		}
	}
	return variants
}

func (e *Expander) expandWithLLM(ctx context.Context, query string) ([]string, error) {
	prompt := fmt.Sprintf(`Rewrite the following search query in %d different ways to maximize recall against a mixed corpus of conversation transcripts and documents.
Keep every rewrite short and self-contained. Return only the rewrites, one per line.

Query: %s

Rewrites:`, e.config.MaxVariants-1, query)

	response, err := e.provider.Complete(ctx, &llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: e.config.Temperature,
		MaxTokens:   256,
	})
	if err != nil {
		return nil, err
	}

	var variants []string
	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "0123456789.)- "))
		if line != "" {
			variants = append(variants, line)
		}
	}
	return variants, nil
}

// 规则扩展的同义替换表。
var synonymRewrites = []struct{ from, to string }{
	{"what did", "what was said about"},
	{"who said", "which person mentioned"},
	{"why did", "what was the reason"},
	{"how did", "in what way did"},
	{"decide", "conclude"},
	{"discuss", "talk about"},
	{"problem", "issue"},
	{"plan", "approach"},
}

// expandWithRules 用同义替换生成变体；一条规则最多产出一个变体。
func expandWithRules(query string) []string {
	q := strings.ToLower(query)
	var variants []string
	for _, r := range synonymRewrites {
		if strings.Contains(q, r.from) {
			variants = append(variants, strings.Replace(q, r.from, r.to, 1))
		}
	}
	// 疑问词剥离：把问句压成陈述式关键词串。
	stripped := strings.TrimSpace(stripQuestionWords(q))
	if stripped != "" && stripped != q {
		variants = append(variants, stripped)
	}
	return variants
}

var questionPrefixes = []string{
	"what is ", "what are ", "what did ", "what was ", "who is ", "who was ",
	"who did ", "why did ", "why is ", "how did ", "how does ", "when did ",
	"where did ", "tell me about ",
}

func stripQuestionWords(q string) string {
	for _, prefix := range questionPrefixes {
		if strings.HasPrefix(q, prefix) {
			return strings.TrimRight(strings.TrimPrefix(q, prefix), "?")
		}
	}
	return q
}

// isNearDuplicate 报告变体是否与已有变体存在长公共前缀（近重复）。
// 改写经常只在句尾措辞上有差异，保留这类变体只会浪费检索预算。
func isNearDuplicate(candidate string, existing []string) bool {
	c := strings.ToLower(strings.TrimSpace(candidate))
	if c == "" {
		return true
	}
	for _, e := range existing {
		e = strings.ToLower(strings.TrimSpace(e))
		if c == e {
			return true
		}
		n := min(len(c), len(e))
		threshold := (n * 8) / 10
		if threshold > 0 && n >= 12 && c[:threshold] == e[:threshold] {
			return true
		}
	}
	return false
}
