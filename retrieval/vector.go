package retrieval

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/store"
	"github.com/BaSui01/answerflow/types"
)

// VectorConfig 配置向量检索。
type VectorConfig struct {
	TopK int `json:"top_k" yaml:"top_k"`
	// MaxConcurrentVariants 扩展变体的并发检索上限。
	MaxConcurrentVariants int `json:"max_concurrent_variants" yaml:"max_concurrent_variants"`
	// Filter 附加到每次检索的元数据过滤条件。
	Filter store.VectorFilter `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// DefaultVectorConfig 返回默认向量检索配置。
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		TopK:                  10,
		MaxConcurrentVariants: 5,
	}
}

// VectorRetriever 对相似度索引执行检索：嵌入查询文本后取 topK。
// 扩展变体并发检索并按内容去重，保留各自的最高分。
type VectorRetriever struct {
	config   VectorConfig
	vectors  store.VectorStore
	provider llm.TextProvider
	logger   *zap.Logger
}

// NewVectorRetriever 创建向量检索器。
func NewVectorRetriever(config VectorConfig, vectors store.VectorStore, provider llm.TextProvider, logger *zap.Logger) *VectorRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TopK <= 0 {
		config.TopK = 10
	}
	if config.MaxConcurrentVariants <= 0 || config.MaxConcurrentVariants > 5 {
		config.MaxConcurrentVariants = 5
	}
	return &VectorRetriever{
		config:   config,
		vectors:  vectors,
		provider: provider,
		logger:   logger.With(zap.String("component", "vector_retriever")),
	}
}

// Retrieve 并发检索全部查询变体并合并结果。
// 单个变体失败只记日志；全部失败时返回最后一个错误。
func (r *VectorRetriever) Retrieve(ctx context.Context, queries []string) ([]types.RetrievedItem, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		merged  []types.RetrievedItem
		lastErr error
		failed  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrentVariants)
	for _, query := range queries {
		query := query
		g.Go(func() error {
			items, err := r.searchOne(gctx, query)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Warn("variant search failed", zap.String("query", query), zap.Error(err))
				lastErr = err
				failed++
				return nil
			}
			merged = append(merged, items...)
			return nil
		})
	}
	// goroutine 不返回错误，Wait 仅作为结构化汇合点。
	_ = g.Wait()

	if failed == len(queries) {
		return nil, types.WrapError(types.ErrRetrievalFailure, "retrieve", "all vector searches failed", lastErr)
	}
	return dedupeByContent(merged), nil
}

func (r *VectorRetriever) searchOne(ctx context.Context, query string) ([]types.RetrievedItem, error) {
	embedding, err := r.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := r.vectors.Search(ctx, embedding, r.config.TopK, r.config.Filter)
	if err != nil {
		return nil, err
	}

	items := make([]types.RetrievedItem, 0, len(hits))
	for _, hit := range hits {
		items = append(items, types.RetrievedItem{
			SourceType: types.SourceVector,
			Content:    hit.Content,
			Score:      hit.Score,
			Provenance: types.Provenance{
				DocumentID: metaString(hit.Metadata, "document_id"),
				Locator:    metaString(hit.Metadata, "locator"),
				Speaker:    metaString(hit.Metadata, "speaker"),
			},
		})
	}
	return items, nil
}

// dedupeByContent 按内容去重，同内容保留来源分更高的一条，
// 输出按分数降序、同分按内容字典序（确定性排序）。
func dedupeByContent(items []types.RetrievedItem) []types.RetrievedItem {
	best := make(map[string]types.RetrievedItem, len(items))
	for _, item := range items {
		if existing, ok := best[item.Content]; !ok || item.Score > existing.Score {
			best[item.Content] = item
		}
	}
	result := make([]types.RetrievedItem, 0, len(best))
	for _, item := range best {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].Content < result[j].Content
	})
	return result
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}
