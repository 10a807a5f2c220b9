package types

// SourceType 表示证据的来源存储。
type SourceType string

const (
	SourceVector SourceType = "vector" // 向量相似度索引
	SourceGraph  SourceType = "graph"  // 属性图
)

// Provenance 记录一条证据的出处。
type Provenance struct {
	DocumentID string `json:"document_id"`
	// Locator 是文档内定位符（时间戳、偏移量等），由来源存储给出。
	Locator string `json:"locator,omitempty"`
	// Speaker 是发言者/作者标识（可能是原始 ID，由合成阶段解析为可读标签）。
	Speaker string `json:"speaker,omitempty"`
	// RelationPath 记录图检索结果的关系路径（如 A-[knows]->B-[works_at]->C）。
	RelationPath string `json:"relation_path,omitempty"`
}

// RetrievedItem 是来自任一存储的一条证据。
// 由检索协调器创建，融合器消费，创建后不再修改。
type RetrievedItem struct {
	SourceType SourceType `json:"source_type"`
	Content    string     `json:"content"`
	Provenance Provenance `json:"provenance"`
	// Score 是来源存储的原生相关性分数，不同来源之间不可直接比较。
	Score float64 `json:"relevance_score"`
	// HopCount 仅对多跳图结果有意义：命中路径的边数，越小越相关。
	HopCount int `json:"hop_count,omitempty"`
}

// RankedItem 是带融合分数的证据，其列表顺序是下游所有 top-k 语义的唯一依据。
type RankedItem struct {
	RetrievedItem
	FusionScore    float64 `json:"fusion_score"`
	DiversityScore float64 `json:"diversity_score,omitempty"`
}
