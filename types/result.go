package types

// CanonicalRejection 是无证据时的标准拒答文本。
// 管线的核心正确性约束：Grounded == false 时 AnswerText 必须等于该文本。
const CanonicalRejection = "I don't have any information about that in the indexed sources."

// GreetingReply 是问候快路径的固定回复（无需检索，无引用）。
const GreetingReply = "Hello! Ask me anything about the indexed sources and I'll answer with citations."

// Citation 是答案中一条事实到其出处的映射。
type Citation struct {
	SourceType    SourceType `json:"source_type"`
	DocumentLabel string     `json:"document_label"`
	Locator       string     `json:"locator,omitempty"`
	SpeakerLabel  string     `json:"speaker_label,omitempty"`
	Confidence    float64    `json:"confidence"` // [0,1]
}

// GateVerdict 表示验证闸门的终态。
type GateVerdict string

const (
	VerdictAccepted GateVerdict = "accepted" // 答案原样返回
	VerdictRejected GateVerdict = "rejected" // 答案被替换为标准拒答
)

// SynthesisResult 是合成阶段的产物，验证闸门可改写其内容。
type SynthesisResult struct {
	AnswerText string     `json:"answer_text"`
	Citations  []Citation `json:"citations,omitempty"`
	// Grounded 为 true 当且仅当至少一条 RankedItem 被用于生成答案。
	Grounded bool `json:"grounded"`
	// Verdict 由验证闸门填写；闸门之前为空。
	Verdict GateVerdict `json:"verdict,omitempty"`
}

// Rejected 返回标准拒答结果。
func Rejected() *SynthesisResult {
	return &SynthesisResult{
		AnswerText: CanonicalRejection,
		Grounded:   false,
	}
}

// EvidenceCounts 记录两路检索各自返回的证据条数，供闸门与诊断使用。
type EvidenceCounts struct {
	Vector int `json:"vector"`
	Graph  int `json:"graph"`
}

// Empty 报告两路证据是否都为空。
func (c EvidenceCounts) Empty() bool { return c.Vector == 0 && c.Graph == 0 }

// Total 返回证据总条数。
func (c EvidenceCounts) Total() int { return c.Vector + c.Graph }

// Diagnostics 随响应返回的诊断信息。
type Diagnostics struct {
	RequestID      string          `json:"request_id"`
	Intent         QueryIntent     `json:"intent"`
	Complexity     QueryComplexity `json:"complexity"`
	EvidenceCounts EvidenceCounts  `json:"evidence_counts"`
	FusionMode     string          `json:"fusion_mode,omitempty"`
	// VectorDegraded / GraphDegraded 表示对应检索路因超时或存储故障退化为空结果。
	VectorDegraded bool  `json:"vector_degraded,omitempty"`
	GraphDegraded  bool  `json:"graph_degraded,omitempty"`
	ElapsedMillis  int64 `json:"elapsed_ms"`
}
