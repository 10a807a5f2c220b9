// Package retrieval 实现双路证据检索：向量相似度索引与属性图
// 并发查询，查询扩展与实体链接作为前置步骤。
//
// 退化策略：单路失败降级为该路空结果并记入诊断，两路全部失败
// 才上抛 RETRIEVAL_FAILURE。两路都成功但都为空是合法结果，
// 由下游按无证据拒答处理。
package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/store"
	"github.com/BaSui01/answerflow/types"
)

// CoordinatorConfig 配置检索协调器。
type CoordinatorConfig struct {
	Vector    VectorConfig    `json:"vector" yaml:"vector"`
	Graph     GraphConfig     `json:"graph" yaml:"graph"`
	Expansion ExpansionConfig `json:"expansion" yaml:"expansion"`
	Linker    LinkerConfig    `json:"linker" yaml:"linker"`
	// SideTimeout 单路检索的超时；超时的一路按失败退化。
	SideTimeout time.Duration `json:"side_timeout" yaml:"side_timeout"`
}

// DefaultCoordinatorConfig 返回默认协调器配置。
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Vector:      DefaultVectorConfig(),
		Graph:       DefaultGraphConfig(),
		Expansion:   DefaultExpansionConfig(),
		Linker:      DefaultLinkerConfig(),
		SideTimeout: 15 * time.Second,
	}
}

// Result 是一次协调检索的产物：两路各自的证据与退化标记。
type Result struct {
	Vector         []types.RetrievedItem
	Graph          []types.RetrievedItem
	VectorDegraded bool
	GraphDegraded  bool
}

// Counts 返回两路证据计数。
func (r *Result) Counts() types.EvidenceCounts {
	return types.EvidenceCounts{Vector: len(r.Vector), Graph: len(r.Graph)}
}

// All 返回两路证据的合并列表（向量在前）。
func (r *Result) All() []types.RetrievedItem {
	all := make([]types.RetrievedItem, 0, len(r.Vector)+len(r.Graph))
	all = append(all, r.Vector...)
	all = append(all, r.Graph...)
	return all
}

// Coordinator 按查询计划并发调度两路检索。
type Coordinator struct {
	config   CoordinatorConfig
	vector   *VectorRetriever
	graph    *GraphRetriever
	expander *Expander
	logger   *zap.Logger
}

// NewCoordinator 组装协调器及其下属检索器。
func NewCoordinator(config CoordinatorConfig, vectors store.VectorStore, graph store.GraphStore, provider llm.TextProvider, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SideTimeout <= 0 {
		config.SideTimeout = 15 * time.Second
	}
	linker := NewEntityLinker(config.Linker, graph, provider, logger)
	return &Coordinator{
		config:   config,
		vector:   NewVectorRetriever(config.Vector, vectors, provider, logger),
		graph:    NewGraphRetriever(config.Graph, graph, linker, logger),
		expander: NewExpander(config.Expansion, provider, logger),
		logger:   logger.With(zap.String("component", "retrieval_coordinator")),
	}
}

// Retrieve 按计划并发执行两路检索，两个 goroutine 都汇合后才返回。
// 计划关闭的一路直接视为空结果，不算退化。
func (c *Coordinator) Retrieve(ctx context.Context, plan *types.QueryPlan) (*Result, error) {
	if !plan.NeedsRetrieval() {
		return &Result{}, nil
	}

	queries := []string{plan.RawQuery}
	if plan.Strategy.ExpandQuery {
		queries = c.expander.Expand(ctx, plan.RawQuery)
	}
	// 子查询也纳入向量检索（去重交给检索器）。
	queries = append(queries, plan.SubQueries...)

	result := &Result{}
	var vectorErr, graphErr error

	g := &errgroup.Group{}
	if plan.Strategy.UseVector {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, c.config.SideTimeout)
			defer cancel()
			items, err := c.vector.Retrieve(sctx, queries)
			if err != nil {
				vectorErr = err
				result.VectorDegraded = true
				return nil
			}
			result.Vector = items
			return nil
		})
	}
	if plan.Strategy.UseGraph {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, c.config.SideTimeout)
			defer cancel()
			items, err := c.graph.Retrieve(sctx, plan)
			if err != nil {
				graphErr = err
				result.GraphDegraded = true
				return nil
			}
			result.Graph = items
			return nil
		})
	}
	// 单路失败不取消另一路，Wait 只做结构化汇合。
	_ = g.Wait()

	bothRan := plan.Strategy.UseVector && plan.Strategy.UseGraph
	if bothRan && vectorErr != nil && graphErr != nil {
		return nil, types.WrapError(types.ErrRetrievalFailure, "retrieve", "both retrieval sides failed", graphErr)
	}
	if !bothRan {
		if vectorErr != nil {
			return nil, vectorErr
		}
		if graphErr != nil {
			return nil, graphErr
		}
	}

	if vectorErr != nil {
		c.logger.Warn("vector side degraded", zap.Error(vectorErr))
	}
	if graphErr != nil {
		c.logger.Warn("graph side degraded", zap.Error(graphErr))
	}
	c.logger.Info("retrieval complete",
		zap.Int("vector_hits", len(result.Vector)),
		zap.Int("graph_hits", len(result.Graph)),
		zap.Bool("vector_degraded", result.VectorDegraded),
		zap.Bool("graph_degraded", result.GraphDegraded))
	return result, nil
}
