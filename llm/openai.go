package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/types"
)

// OpenAIConfig 配置 OpenAI 兼容接口的 Provider。
// 任何暴露 /chat/completions 与 /embeddings 的服务都适用。
type OpenAIConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	APIKey  string        `json:"api_key,omitempty" yaml:"api_key"`
	Model   string        `json:"model" yaml:"model"`
	// EmbedModel 嵌入模型名，默认 text-embedding-3-small。
	EmbedModel string        `json:"embed_model" yaml:"embed_model"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

// OpenAIProvider 是 OpenAI 兼容 API 的 TextProvider 实现。
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider 创建 OpenAI 兼容 Provider。
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "openai_provider")),
	}
}

// OpenAI 兼容的线格式。
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIChoice struct {
	Index        int            `json:"index"`
	FinishReason string         `json:"finish_reason"`
	Message      openAIMessage  `json:"message"`
	Delta        *openAIMessage `json:"delta,omitempty"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
}

type openAIErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Complete 实现 TextProvider。
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	body := openAIRequest{
		Model:       p.cfg.Model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	resp, err := p.post(ctx, "/chat/completions", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", types.WrapError(types.ErrSynthesisFailure, "llm", "decode completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", types.NewError(types.ErrSynthesisFailure, "llm", "completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Stream 实现 TextProvider，解析 SSE 增量。
func (p *OpenAIProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	body := openAIRequest{
		Model:       p.cfg.Model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}

	resp, err := p.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					ch <- StreamChunk{Err: types.WrapError(types.ErrSynthesisFailure, "llm", "stream read", err)}
					return
				}
				ch <- StreamChunk{Done: true}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				ch <- StreamChunk{Done: true}
				return
			}
			var parsed openAIResponse
			if err := json.Unmarshal([]byte(data), &parsed); err != nil {
				ch <- StreamChunk{Err: types.WrapError(types.ErrSynthesisFailure, "llm", "decode stream chunk", err)}
				return
			}
			for _, choice := range parsed.Choices {
				if choice.Delta != nil && choice.Delta.Content != "" {
					ch <- StreamChunk{Delta: choice.Delta.Content}
				}
			}
		}
	}()
	return ch, nil
}

// Embed 实现 TextProvider。
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body := openAIEmbedRequest{
		Model: p.cfg.EmbedModel,
		Input: []string{text},
	}

	resp, err := p.post(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.WrapError(types.ErrRetrievalFailure, "llm", "decode embedding response", err)
	}
	if len(parsed.Data) == 0 {
		return nil, types.NewError(types.ErrRetrievalFailure, "llm", "embedding returned no data")
	}
	return parsed.Data[0].Embedding, nil
}

func (p *OpenAIProvider) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.WrapError(types.ErrSynthesisFailure, "llm", "upstream unreachable", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, p.mapError(resp.StatusCode, readErrMsg(resp.Body))
	}
	return resp, nil
}

// mapError 把上游状态码映射到统一错误码：429 限流可重试，
// 5xx 上游故障可重试，4xx 请求错误不可重试。
func (p *OpenAIProvider) mapError(status int, msg string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimitedErr("llm", fmt.Errorf("status=%d msg=%s", status, msg))
	case status >= 500:
		return types.NewError(types.ErrSynthesisFailure, "llm",
			fmt.Sprintf("upstream error: status=%d msg=%s", status, msg))
	default:
		e := types.NewError(types.ErrSynthesisFailure, "llm",
			fmt.Sprintf("request rejected: status=%d msg=%s", status, msg))
		e.Retryable = false
		return e
	}
}

func readErrMsg(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var parsed openAIErrorResp
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func convertMessages(msgs []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

var _ TextProvider = (*OpenAIProvider)(nil)
