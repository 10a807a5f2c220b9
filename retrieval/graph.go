package retrieval

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/store"
	"github.com/BaSui01/answerflow/types"
)

// GraphConfig 配置图检索。
type GraphConfig struct {
	// LimitPerNode 每个起点节点的命中上限。
	LimitPerNode int `json:"limit_per_node" yaml:"limit_per_node"`
	// CrossSourceLimit cross_source 模式的返回上限。
	CrossSourceLimit int `json:"cross_source_limit" yaml:"cross_source_limit"`
}

// DefaultGraphConfig 返回默认图检索配置。
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		LimitPerNode:     10,
		CrossSourceLimit: 10,
	}
}

// GraphRetriever 按计划的遍历模式查询属性图。
// 实体先经链接器解析为节点；无可链接实体时 entity_centric 与
// multi_hop 返回空（合法结果），cross_source 不依赖起点实体。
type GraphRetriever struct {
	config GraphConfig
	graph  store.GraphStore
	linker *EntityLinker
	logger *zap.Logger
}

// NewGraphRetriever 创建图检索器。
func NewGraphRetriever(config GraphConfig, graph store.GraphStore, linker *EntityLinker, logger *zap.Logger) *GraphRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.LimitPerNode <= 0 {
		config.LimitPerNode = 10
	}
	if config.CrossSourceLimit <= 0 {
		config.CrossSourceLimit = 10
	}
	return &GraphRetriever{
		config: config,
		graph:  graph,
		linker: linker,
		logger: logger.With(zap.String("component", "graph_retriever")),
	}
}

// Retrieve 按计划执行图检索。多跳结果按 HopCount 升序返回。
func (r *GraphRetriever) Retrieve(ctx context.Context, plan *types.QueryPlan) ([]types.RetrievedItem, error) {
	if plan.Strategy.TraversalMode == types.TraversalCrossSource {
		hits, err := r.graph.CrossSourceCounts(ctx, r.config.CrossSourceLimit)
		if err != nil {
			return nil, types.WrapError(types.ErrRetrievalFailure, "retrieve", "cross-source query failed", err)
		}
		return toItems(hits), nil
	}

	nodes, linkErr := r.linker.Link(ctx, plan.Entities)
	if linkErr != nil {
		return nil, types.WrapError(types.ErrRetrievalFailure, "retrieve", "entity linking failed", linkErr)
	}
	if len(nodes) == 0 {
		r.logger.Debug("no linkable entities", zap.Strings("entities", plan.Entities))
		return nil, nil
	}

	maxHops := hopsFor(plan.Complexity)
	var (
		hits    []store.GraphHit
		lastErr error
		failed  int
	)
	for _, node := range nodes {
		var (
			nodeHits []store.GraphHit
			err      error
		)
		switch plan.Strategy.TraversalMode {
		case types.TraversalMultiHop:
			nodeHits, err = r.graph.Paths(ctx, node.ID, maxHops, r.config.LimitPerNode)
		default:
			nodeHits, err = r.graph.Neighbors(ctx, node.ID, r.config.LimitPerNode)
		}
		if err != nil {
			r.logger.Warn("graph query failed",
				zap.String("node", node.ID), zap.Error(err))
			lastErr = err
			failed++
			continue
		}
		hits = append(hits, nodeHits...)
	}
	if failed == len(nodes) && lastErr != nil {
		return nil, types.WrapError(types.ErrRetrievalFailure, "retrieve", "all graph queries failed", lastErr)
	}

	items := toItems(dedupeHits(hits))
	// 跳数越少越相关；同跳数按分数降序，再按描述字典序保证确定性。
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].HopCount != items[j].HopCount {
			return items[i].HopCount < items[j].HopCount
		}
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Content < items[j].Content
	})
	return items, nil
}

// hopsFor 按复杂度决定遍历深度：moderate 2 跳，complex 3 跳。
func hopsFor(complexity types.QueryComplexity) int {
	if complexity == types.ComplexityComplex {
		return 3
	}
	return 2
}

func dedupeHits(hits []store.GraphHit) []store.GraphHit {
	seen := make(map[string]bool, len(hits))
	result := make([]store.GraphHit, 0, len(hits))
	for _, hit := range hits {
		key := hit.NodeID + "|" + hit.RelationPath + "|" + hit.Description
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, hit)
	}
	return result
}

func toItems(hits []store.GraphHit) []types.RetrievedItem {
	items := make([]types.RetrievedItem, 0, len(hits))
	for _, hit := range hits {
		items = append(items, types.RetrievedItem{
			SourceType: types.SourceGraph,
			Content:    hit.Description,
			Score:      hit.Score,
			HopCount:   hit.HopCount,
			Provenance: types.Provenance{
				DocumentID:   hit.DocumentID,
				Locator:      hit.Locator,
				Speaker:      hit.Speaker,
				RelationPath: hit.RelationPath,
			},
		})
	}
	return items
}
