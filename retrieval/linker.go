package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/store"
)

// LinkerConfig 配置实体链接。
type LinkerConfig struct {
	// CandidatesPerEntity 每个实体表面形式的候选节点上限。
	CandidatesPerEntity int `json:"candidates_per_entity" yaml:"candidates_per_entity"`
	// UseLLMFallback 确定性匹配失败时是否让模型给出别名猜测。
	UseLLMFallback bool `json:"use_llm_fallback" yaml:"use_llm_fallback"`
}

// DefaultLinkerConfig 返回默认链接配置。
func DefaultLinkerConfig() LinkerConfig {
	return LinkerConfig{
		CandidatesPerEntity: 3,
		UseLLMFallback:      true,
	}
}

// EntityLinker 把查询中的实体表面形式解析为图节点。
// 先走确定性匹配（精确 → 规范化 → 子串，由存储实现），
// 全部落空才让模型猜测别名后重查。同一表面形式命中多个
// 候选时全部保留，由后续检索自然召回。
type EntityLinker struct {
	config   LinkerConfig
	graph    store.GraphStore
	provider llm.TextProvider
	logger   *zap.Logger
}

// NewEntityLinker 创建实体链接器。provider 可为 nil（禁用模型回退）。
func NewEntityLinker(config LinkerConfig, graph store.GraphStore, provider llm.TextProvider, logger *zap.Logger) *EntityLinker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CandidatesPerEntity <= 0 {
		config.CandidatesPerEntity = 3
	}
	return &EntityLinker{
		config:   config,
		graph:    graph,
		provider: provider,
		logger:   logger.With(zap.String("component", "entity_linker")),
	}
}

// Link 解析实体列表，返回去重后的图节点。单个实体解析失败只记日志，
// 不阻断其余实体；全部实体都因存储故障解析失败时返回错误
//（区分"实体不在图里"与"图不可用"）。
func (l *EntityLinker) Link(ctx context.Context, entities []string) ([]store.GraphNode, error) {
	seen := make(map[string]bool)
	var nodes []store.GraphNode
	var lastErr error
	attempted, failed := 0, 0

	for _, entity := range entities {
		entity = strings.TrimSpace(entity)
		if entity == "" {
			continue
		}
		attempted++
		matched, err := l.linkOne(ctx, entity)
		if err != nil {
			l.logger.Warn("entity link failed",
				zap.String("entity", entity), zap.Error(err))
			lastErr = err
			failed++
			continue
		}
		for _, node := range matched {
			if !seen[node.ID] {
				seen[node.ID] = true
				nodes = append(nodes, node)
			}
		}
	}
	if attempted > 0 && failed == attempted {
		return nil, lastErr
	}
	return nodes, nil
}

func (l *EntityLinker) linkOne(ctx context.Context, entity string) ([]store.GraphNode, error) {
	nodes, err := l.graph.FindNodes(ctx, entity, l.config.CandidatesPerEntity)
	if err != nil {
		return nil, err
	}
	if len(nodes) > 0 {
		return nodes, nil
	}

	if !l.config.UseLLMFallback || l.provider == nil {
		return nil, nil
	}

	aliases, err := l.guessAliases(ctx, entity)
	if err != nil {
		// 回退失败按"未命中"处理，不升级为链接错误。
		l.logger.Debug("alias guess failed", zap.String("entity", entity), zap.Error(err))
		return nil, nil
	}
	for _, alias := range aliases {
		if strings.EqualFold(alias, entity) {
			continue
		}
		nodes, err = l.graph.FindNodes(ctx, alias, l.config.CandidatesPerEntity)
		if err != nil {
			return nil, err
		}
		if len(nodes) > 0 {
			l.logger.Debug("entity linked via alias",
				zap.String("entity", entity), zap.String("alias", alias))
			return nodes, nil
		}
	}
	return nil, nil
}

// guessAliases 让模型给出实体的其他常见写法（昵称、全称、缩写）。
func (l *EntityLinker) guessAliases(ctx context.Context, entity string) ([]string, error) {
	prompt := fmt.Sprintf(`Give up to 3 alternative surface forms for the entity below: nicknames, full names, abbreviations, common misspellings.

Entity: %s

Respond with JSON only: {"aliases": ["...", "..."]}`, entity)

	response, err := l.provider.Complete(ctx, &llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0.2,
		MaxTokens:   96,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Aliases []string `json:"aliases"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil {
		return nil, fmt.Errorf("parse alias output: %w", err)
	}
	return parsed.Aliases, nil
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
