package store

import "context"

// GraphNode 是图中的一个实体节点。
type GraphNode struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Aliases    []string       `json:"aliases,omitempty"`
	Labels     []string       `json:"labels,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphHit 是一次图检索的单条命中：一个概念/关系描述及其出处。
type GraphHit struct {
	NodeID string `json:"node_id"`
	// Description 是节点或关系路径的文本描述，作为证据内容。
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	// HopCount 命中路径的边数；单跳邻域查询固定为 1。
	HopCount int `json:"hop_count,omitempty"`
	// RelationPath 形如 A-[knows]->B-[works_at]->C 的路径表示。
	RelationPath string `json:"relation_path,omitempty"`
	// DocumentID/Locator/Speaker 来自节点属性的出处信息。
	DocumentID string `json:"document_id,omitempty"`
	Locator    string `json:"locator,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
	// SourceCount 引用该节点的不同来源文档数（仅 cross_source 查询填写）。
	SourceCount int `json:"source_count,omitempty"`
}

// GraphStore 属性图查询接口。
// 实现方负责查询执行；调用方负责构造深度受限的查询
//（本接口的便捷方法已将深度边界编码进查询本身）。
type GraphStore interface {
	// FindNodes 按名称查找候选实体节点（精确/别名/子串匹配交由实现方）。
	FindNodes(ctx context.Context, name string, limit int) ([]GraphNode, error)

	// Neighbors 返回节点一跳邻域内的概念与关系描述。
	Neighbors(ctx context.Context, nodeID string, limit int) ([]GraphHit, error)

	// Paths 返回从节点出发、不超过 maxHops 跳的关系路径，
	// 含入边与出边，HopCount 升序。
	Paths(ctx context.Context, nodeID string, maxHops, limit int) ([]GraphHit, error)

	// CrossSourceCounts 按引用来源文档数降序返回节点。
	CrossSourceCounts(ctx context.Context, limit int) ([]GraphHit, error)

	// Query 执行任意参数化声明式查询，返回行记录。
	Query(ctx context.Context, pattern string, params map[string]any) ([]map[string]any, error)
}
