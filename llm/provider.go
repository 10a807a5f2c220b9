package llm

import (
	"context"

	"github.com/BaSui01/answerflow/types"
)

// Role 表示消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是一条对话消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest 是一次补全请求。
// 分类与自检使用低温度 + 结构化输出；合成使用中等温度。
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// StreamChunk 是流式补全的一个增量。
type StreamChunk struct {
	Delta string       `json:"delta,omitempty"`
	Done  bool         `json:"done,omitempty"`
	Err   *types.Error `json:"error,omitempty"`
}

// TextProvider 是文本生成服务的最小接口。
// 实现方负责协议细节；管线对所有外部调用都带超时 context。
type TextProvider interface {
	// Complete 发起同步补全，返回完整文本。
	Complete(ctx context.Context, req *CompletionRequest) (string, error)

	// Stream 发起流式补全，返回增量通道。通道在完成或出错后关闭，
	// 最后一个 chunk 携带 Done 或 Err。
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error)

	// Embed 为文本生成向量表示。
	Embed(ctx context.Context, text string) ([]float32, error)
}
