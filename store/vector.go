package store

import "context"

// VectorHit 是一次向量检索的单条命中。
type VectorHit struct {
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VectorFilter 是向量检索的元数据过滤条件（key 必须精确匹配 value）。
type VectorFilter map[string]string

// VectorStore 向量相似度索引接口。
// 嵌入由调用方通过模型服务生成，本接口只负责相似度检索。
type VectorStore interface {
	// Search 返回与查询向量最相似的 topK 条通道文本。
	Search(ctx context.Context, embedding []float32, topK int, filter VectorFilter) ([]VectorHit, error)
}
