package types

// QueryIntent 表示查询的意图类别（封闭枚举，规划器与闸门按此做穷尽分支）。
type QueryIntent string

const (
	IntentGreeting       QueryIntent = "greeting"        // 问候/寒暄
	IntentKnowledgeQuery QueryIntent = "knowledge_query" // 一般知识查询
	IntentDefinition     QueryIntent = "definition"      // 概念定义
	IntentComparison     QueryIntent = "comparison"      // 多实体比较
	IntentCausal         QueryIntent = "causal"          // 因果关系
	IntentMultiEntity    QueryIntent = "multi_entity"    // 多实体聚合
	IntentCrossEpisode   QueryIntent = "cross_episode"   // 跨文档/跨片段的共现问题
	IntentOutOfScope     QueryIntent = "out_of_scope"    // 超出语料范围
	IntentConversational QueryIntent = "conversational"  // 纯会话性跟进
)

// Valid 报告意图是否为已知枚举值。
func (i QueryIntent) Valid() bool {
	switch i {
	case IntentGreeting, IntentKnowledgeQuery, IntentDefinition, IntentComparison,
		IntentCausal, IntentMultiEntity, IntentCrossEpisode, IntentOutOfScope,
		IntentConversational:
		return true
	}
	return false
}

// QueryComplexity 表示查询复杂度等级。
type QueryComplexity string

const (
	ComplexitySimple   QueryComplexity = "simple"   // 单实体/单事实
	ComplexityModerate QueryComplexity = "moderate" // 两实体比较或关系
	ComplexityComplex  QueryComplexity = "complex"  // 多实体、多跳或跨文档聚合
)

// TraversalMode 表示图检索的遍历模式。
type TraversalMode string

const (
	TraversalEntityCentric TraversalMode = "entity_centric" // 单实体邻域查询
	TraversalMultiHop      TraversalMode = "multi_hop"      // 多跳路径遍历
	TraversalCrossSource   TraversalMode = "cross_source"   // 按来源文档数聚合排名
)

// RetrievalStrategy 描述本次请求的检索策略。
type RetrievalStrategy struct {
	UseVector     bool          `json:"use_vector"`
	UseGraph      bool          `json:"use_graph"`
	ExpandQuery   bool          `json:"expand_query"`
	TraversalMode TraversalMode `json:"graph_traversal_mode"`
}

// QueryPlan 是规划阶段的产物，每个请求生成一次，创建后不可变。
type QueryPlan struct {
	RawQuery        string            `json:"raw_query"`
	Intent          QueryIntent       `json:"intent"`
	Complexity      QueryComplexity   `json:"complexity"`
	Entities        []string          `json:"entities,omitempty"`
	SubQueries      []string          `json:"sub_queries,omitempty"`
	Strategy        RetrievalStrategy `json:"retrieval_strategy"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
}

// Terminal 报告该计划是否在规划阶段即终止管线
// （out_of_scope 计划禁止任何检索阶段执行）。
func (p *QueryPlan) Terminal() bool {
	return p.Intent == IntentOutOfScope || p.Intent == IntentGreeting ||
		p.Intent == IntentConversational
}

// NeedsRetrieval 报告该计划是否需要执行检索。
func (p *QueryPlan) NeedsRetrieval() bool {
	return !p.Terminal() && (p.Strategy.UseVector || p.Strategy.UseGraph)
}

// RestrictivePlan 返回"失败即关闭"的兜底计划：分类器不可用或输出
// 无法解析时使用，禁止一切检索，由闸门输出标准拒答。
func RestrictivePlan(query, reason string) *QueryPlan {
	return &QueryPlan{
		RawQuery:        query,
		Intent:          IntentOutOfScope,
		Complexity:      ComplexitySimple,
		Strategy:        RetrievalStrategy{},
		RejectionReason: reason,
	}
}
