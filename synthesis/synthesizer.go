// Package synthesis 由排序后的证据生成带引用的答案。
//
// 结构性前置检查：证据列表为空时不发起任何模型调用，直接产出
// 标准拒答——无证据拒答绝不依赖模型的自觉。
package synthesis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/types"
)

// Config 配置合成器。
type Config struct {
	// Encoding 是 token 计数使用的编码名。
	Encoding string `json:"encoding" yaml:"encoding"`
	// MaxContextTokens 证据上下文的 token 预算，超出部分按融合顺序截断。
	MaxContextTokens int `json:"max_context_tokens" yaml:"max_context_tokens"`
	// MaxAnswerTokens 答案长度上限。
	MaxAnswerTokens int     `json:"max_answer_tokens" yaml:"max_answer_tokens"`
	Temperature     float32 `json:"temperature" yaml:"temperature"`
}

// DefaultConfig 返回默认合成配置。
func DefaultConfig() Config {
	return Config{
		Encoding:         "cl100k_base",
		MaxContextTokens: 4000,
		MaxAnswerTokens:  1024,
		Temperature:      0.3,
	}
}

// Synthesizer 生成有据可依的答案。
type Synthesizer struct {
	config    Config
	provider  llm.TextProvider
	encoder   *tiktoken.Tiktoken
	logger    *zap.Logger
}

// New 创建合成器。编码加载失败时退回字符数估算，不报错。
func New(config Config, provider llm.TextProvider, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Encoding == "" {
		config.Encoding = "cl100k_base"
	}
	if config.MaxContextTokens <= 0 {
		config.MaxContextTokens = 4000
	}

	encoder, err := tiktoken.GetEncoding(config.Encoding)
	if err != nil {
		logger.Warn("encoding unavailable, falling back to length estimate",
			zap.String("encoding", config.Encoding), zap.Error(err))
		encoder = nil
	}
	return &Synthesizer{
		config:   config,
		provider: provider,
		encoder:  encoder,
		logger:   logger.With(zap.String("component", "synthesizer")),
	}
}

// Synthesize 生成答案。证据为空时直接返回标准拒答（零模型调用）。
// 模型输出自述无法回答时同样归一为标准拒答。
func (s *Synthesizer) Synthesize(ctx context.Context, query string, items []types.RankedItem) (*types.SynthesisResult, error) {
	if len(items) == 0 {
		return types.Rejected(), nil
	}

	blocks := s.fitBudget(buildBlocks(items))
	answer, err := s.provider.Complete(ctx, s.buildRequest(query, blocks))
	if err != nil {
		return nil, types.WrapError(types.ErrSynthesisFailure, "synthesize", "completion failed", err)
	}
	return s.finalize(answer, blocks), nil
}

// Stream 流式生成答案，返回原始增量通道与证据块（供调用方在流结束后
// 抽取引用）。空证据时返回 nil 通道，调用方走拒答路径。
func (s *Synthesizer) Stream(ctx context.Context, query string, items []types.RankedItem) (<-chan llm.StreamChunk, []types.RankedItem, error) {
	if len(items) == 0 {
		return nil, nil, nil
	}

	blocks := s.fitBudget(buildBlocks(items))
	ch, err := s.provider.Stream(ctx, s.buildRequest(query, blocks))
	if err != nil {
		return nil, nil, types.WrapError(types.ErrSynthesisFailure, "synthesize", "stream failed", err)
	}
	kept := make([]types.RankedItem, 0, len(blocks))
	for _, b := range blocks {
		kept = append(kept, b.Item)
	}
	return ch, kept, nil
}

// Finalize 把完整答案文本归一为合成结果（流式路径在通道耗尽后调用）。
func (s *Synthesizer) Finalize(answer string, items []types.RankedItem) *types.SynthesisResult {
	return s.finalize(answer, buildBlocks(items))
}

func (s *Synthesizer) buildRequest(query string, blocks []evidenceBlock) *llm.CompletionRequest {
	var ctxText strings.Builder
	for i, b := range blocks {
		if i > 0 {
			ctxText.WriteString("\n\n")
		}
		ctxText.WriteString(renderBlock(b))
	}

	system := `You answer questions strictly from the evidence blocks provided. Rules:
- Use ONLY facts present in the evidence. Never add outside knowledge.
- After each factual claim, cite the supporting block marker in square brackets, e.g. [V1] or [G2].
- If the evidence does not answer the question, reply with exactly: ` + types.CanonicalRejection

	user := fmt.Sprintf("Evidence:\n%s\n\nQuestion: %s", ctxText.String(), query)

	return &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxAnswerTokens,
	}
}

// fitBudget 按融合顺序装入证据块，超出 token 预算即停。
// 至少保留第一块，免得预算配置过小时出现"有证据却零上下文"。
func (s *Synthesizer) fitBudget(blocks []evidenceBlock) []evidenceBlock {
	budget := s.config.MaxContextTokens
	var kept []evidenceBlock
	used := 0
	for _, b := range blocks {
		cost := s.countTokens(renderBlock(b))
		if len(kept) > 0 && used+cost > budget {
			break
		}
		kept = append(kept, b)
		used += cost
	}
	if dropped := len(blocks) - len(kept); dropped > 0 {
		s.logger.Debug("evidence truncated by token budget",
			zap.Int("kept", len(kept)), zap.Int("dropped", dropped))
	}
	return kept
}

func (s *Synthesizer) countTokens(text string) int {
	if s.encoder != nil {
		return len(s.encoder.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

var markerPattern = regexp.MustCompile(`\[([VG]\d+)\]`)

// declinePhrases 是模型自述无法回答的措辞；命中即归一为标准拒答。
var declinePhrases = []string{
	strings.ToLower(types.CanonicalRejection),
	"i don't have enough information",
	"i do not have enough information",
	"the evidence does not",
	"no information about that",
	"cannot answer this question",
	"unable to answer",
}

// finalize 归一化答案：抽取引用、判定有据性。
// 无引用或自述无法回答的输出一律视为未接地。
func (s *Synthesizer) finalize(answer string, blocks []evidenceBlock) *types.SynthesisResult {
	answer = strings.TrimSpace(answer)
	if answer == "" || isDecline(answer) {
		return types.Rejected()
	}

	citations := extractCitations(answer, blocks)
	if len(citations) == 0 {
		// 有证据却一个标记都没引：不可信，按未接地处理。
		s.logger.Warn("answer carried no citations, rejecting")
		return types.Rejected()
	}

	return &types.SynthesisResult{
		AnswerText: answer,
		Citations:  citations,
		Grounded:   true,
	}
}

func isDecline(answer string) bool {
	a := strings.ToLower(answer)
	for _, phrase := range declinePhrases {
		if strings.Contains(a, phrase) {
			return true
		}
	}
	return false
}

// extractCitations 把答案中的标记映射回出处，按首次出现顺序去重。
// 引用了不存在的标记则忽略该标记。
func extractCitations(answer string, blocks []evidenceBlock) []types.Citation {
	byMarker := make(map[string]evidenceBlock, len(blocks))
	for _, b := range blocks {
		byMarker[b.Marker] = b
	}

	seen := make(map[string]bool)
	var citations []types.Citation
	for _, match := range markerPattern.FindAllStringSubmatch(answer, -1) {
		marker := match[1]
		if seen[marker] {
			continue
		}
		seen[marker] = true
		b, ok := byMarker[marker]
		if !ok {
			continue
		}
		citations = append(citations, types.Citation{
			SourceType:    b.Item.SourceType,
			DocumentLabel: documentLabel(b.Item.Provenance.DocumentID),
			Locator:       b.Item.Provenance.Locator,
			SpeakerLabel:  speakerLabel(b.Item.Provenance.Speaker),
			Confidence:    clamp01(b.Item.FusionScore),
		})
	}
	return citations
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
