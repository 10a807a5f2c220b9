// Package pipeline 把规划、检索、融合、合成与验证串成完整管线，
// 并提供同步与流式两种问答入口。
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/fusion"
	"github.com/BaSui01/answerflow/gate"
	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/planner"
	"github.com/BaSui01/answerflow/retrieval"
	"github.com/BaSui01/answerflow/store"
	"github.com/BaSui01/answerflow/synthesis"
	"github.com/BaSui01/answerflow/types"
)

// Config 配置管线。
type Config struct {
	Planner     planner.Config              `json:"planner" yaml:"planner"`
	Retrieval   retrieval.CoordinatorConfig `json:"retrieval" yaml:"retrieval"`
	Fusion      fusion.Config               `json:"fusion" yaml:"fusion"`
	Synthesis   synthesis.Config            `json:"synthesis" yaml:"synthesis"`
	Gate        gate.Config                 `json:"gate" yaml:"gate"`
	// HistoryTurns 从会话存储取多少轮做规划上下文。
	HistoryTurns int `json:"history_turns" yaml:"history_turns"`
	// RequestTimeout 整个请求的超时。
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

// DefaultConfig 返回默认管线配置。
func DefaultConfig() Config {
	return Config{
		Planner:        planner.DefaultConfig(),
		Retrieval:      retrieval.DefaultCoordinatorConfig(),
		Fusion:         fusion.DefaultConfig(),
		Synthesis:      synthesis.DefaultConfig(),
		Gate:           gate.DefaultConfig(),
		HistoryTurns:   6,
		RequestTimeout: 60 * time.Second,
	}
}

// Request 是一次问答请求。
type Request struct {
	Query string `json:"query"`
	// SessionID 非空时启用会话上下文与历史落库。
	SessionID string `json:"session_id,omitempty"`
}

// Response 是一次问答的终态响应。
type Response struct {
	Answer      string            `json:"answer"`
	Citations   []types.Citation  `json:"citations,omitempty"`
	Grounded    bool              `json:"grounded"`
	Verdict     types.GateVerdict `json:"verdict"`
	Diagnostics types.Diagnostics `json:"diagnostics"`
}

// StreamFrame 是流式问答的一帧：增量文本或终态响应，二者只居其一。
// 终态帧保证是最后一帧；闸门拒绝时终态帧携带标准拒答，
// 调用方必须以终态帧为准丢弃已渲染的增量。
type StreamFrame struct {
	Delta string    `json:"delta,omitempty"`
	Final *Response `json:"final,omitempty"`
	Err   error     `json:"-"`
}

// Engine 是问答管线引擎。
type Engine struct {
	config        Config
	planner       *planner.Planner
	coordinator   *retrieval.Coordinator
	fuser         *fusion.Fuser
	synthesizer   *synthesis.Synthesizer
	gate          *gate.Gate
	conversations store.ConversationStore
	metrics       *Metrics
	tracer        trace.Tracer
	logger        *zap.Logger
}

// New 组装管线。conversations 可为 nil（无会话上下文），
// reg 可为 nil（不注册指标）。
func New(config Config, provider llm.TextProvider, vectors store.VectorStore, graph store.GraphStore, conversations store.ConversationStore, reg prometheus.Registerer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HistoryTurns <= 0 {
		config.HistoryTurns = 6
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}
	return &Engine{
		config:        config,
		planner:       planner.New(config.Planner, provider, logger),
		coordinator:   retrieval.NewCoordinator(config.Retrieval, vectors, graph, provider, logger),
		fuser:         fusion.New(config.Fusion, logger),
		synthesizer:   synthesis.New(config.Synthesis, provider, logger),
		gate:          gate.New(config.Gate, provider, logger),
		conversations: conversations,
		metrics:       NewMetrics(reg),
		tracer:        otel.Tracer("answerflow/pipeline"),
		logger:        logger.With(zap.String("component", "pipeline")),
	}
}

// Answer 同步执行完整管线。
// 返回错误仅限请求级致命故障（两路检索全失败、生成服务不可用）；
// 无证据、超纲、问候都是合法终态，体现在 Response 里而非错误。
func (e *Engine) Answer(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	requestID := uuid.NewString()
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "pipeline.answer",
		trace.WithAttributes(attribute.String("request_id", requestID)))
	defer span.End()

	logger := e.logger.With(zap.String("request_id", requestID))

	plan, retrieved, fused := e.prepare(ctx, req, logger)
	resp, err := e.finish(ctx, requestID, started, plan, retrieved, fused)
	if err != nil {
		return nil, err
	}
	e.record(ctx, req, resp)
	return resp, nil
}

// AnswerStream 流式执行管线。证据前置检查通过后才开始发增量；
// 流结束后过闸门，终态帧携带闸门审定后的响应。
func (e *Engine) AnswerStream(ctx context.Context, req *Request) (<-chan StreamFrame, error) {
	requestID := uuid.NewString()
	started := time.Now()

	frames := make(chan StreamFrame, 16)
	go func() {
		defer close(frames)
		ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
		defer cancel()
		ctx, span := e.tracer.Start(ctx, "pipeline.answer_stream",
			trace.WithAttributes(attribute.String("request_id", requestID)))
		defer span.End()

		logger := e.logger.With(zap.String("request_id", requestID))

		// 消费方可能中途放弃通道，发送必须随 ctx 取消退出，
		// 否则协程连同底层合成流一起泄漏。
		emit := func(frame StreamFrame) bool {
			select {
			case frames <- frame:
				return true
			case <-ctx.Done():
				return false
			}
		}

		plan, retrieved, fused := e.prepare(ctx, req, logger)
		counts := retrieved.Counts()

		// 终止型计划与空证据不进入流式合成，直接发终态帧。
		if plan.Terminal() || len(fused) == 0 {
			verdict := e.gate.Validate(ctx, plan.RawQuery, counts, nil, nil)
			resp := e.buildResponse(requestID, started, plan, retrieved, verdict)
			e.record(ctx, req, resp)
			emit(StreamFrame{Final: resp})
			return
		}

		ch, kept, err := e.synthesizer.Stream(ctx, plan.RawQuery, fused)
		if err != nil {
			emit(StreamFrame{Err: err})
			return
		}

		var full string
		for chunk := range ch {
			if chunk.Err != nil {
				emit(StreamFrame{Err: chunk.Err})
				return
			}
			if chunk.Delta != "" {
				full += chunk.Delta
				if !emit(StreamFrame{Delta: chunk.Delta}) {
					return
				}
			}
		}

		result := e.synthesizer.Finalize(full, kept)
		verdict := e.gate.Validate(ctx, plan.RawQuery, counts, result, fused)
		resp := e.buildResponse(requestID, started, plan, retrieved, verdict)
		e.record(ctx, req, resp)
		emit(StreamFrame{Final: resp})
	}()
	return frames, nil
}

// prepare 执行规划 → 检索 → 融合三个阶段，检索失败退化为空结果。
func (e *Engine) prepare(ctx context.Context, req *Request, logger *zap.Logger) (*types.QueryPlan, *retrieval.Result, []types.RankedItem) {
	var turns []store.Turn
	if e.conversations != nil && req.SessionID != "" {
		var err error
		turns, err = e.conversations.LastTurns(ctx, req.SessionID, e.config.HistoryTurns)
		if err != nil {
			logger.Warn("history unavailable", zap.Error(err))
		}
	}

	planStart := time.Now()
	pctx, planSpan := e.tracer.Start(ctx, "pipeline.plan")
	plan := e.planner.Plan(pctx, req.Query, turns)
	planSpan.SetAttributes(
		attribute.String("intent", string(plan.Intent)),
		attribute.String("complexity", string(plan.Complexity)))
	planSpan.End()
	e.metrics.observeStage("plan", time.Since(planStart).Seconds())

	if plan.Terminal() {
		return plan, &retrieval.Result{}, nil
	}

	retrieveStart := time.Now()
	rctx, retrieveSpan := e.tracer.Start(ctx, "pipeline.retrieve")
	retrieved, err := e.coordinator.Retrieve(rctx, plan)
	retrieveSpan.End()
	e.metrics.observeStage("retrieve", time.Since(retrieveStart).Seconds())
	if err != nil {
		// 两路全失败：按空证据继续，由闸门给出标准拒答。
		logger.Error("retrieval failed on both sides", zap.Error(err))
		retrieved = &retrieval.Result{VectorDegraded: true, GraphDegraded: true}
	}
	e.metrics.observeEvidence(len(retrieved.Vector), len(retrieved.Graph))
	e.metrics.recordDegraded(retrieved.VectorDegraded, retrieved.GraphDegraded)

	fuseStart := time.Now()
	fused := e.fuser.Fuse(retrieved.Vector, retrieved.Graph)
	e.metrics.observeStage("fuse", time.Since(fuseStart).Seconds())

	return plan, retrieved, fused
}

// finish 执行同步路径的合成与验证，并产出响应。
func (e *Engine) finish(ctx context.Context, requestID string, started time.Time, plan *types.QueryPlan, retrieved *retrieval.Result, fused []types.RankedItem) (*Response, error) {
	counts := retrieved.Counts()

	var result *types.SynthesisResult
	if !plan.Terminal() && len(fused) > 0 {
		synthStart := time.Now()
		sctx, synthSpan := e.tracer.Start(ctx, "pipeline.synthesize")
		var err error
		result, err = e.synthesizer.Synthesize(sctx, plan.RawQuery, fused)
		synthSpan.End()
		e.metrics.observeStage("synthesize", time.Since(synthStart).Seconds())
		if err != nil {
			// 生成服务不可用是请求级致命错误（有证据却答不出来），
			// 上抛给调用方重试，不能伪装成拒答。
			return nil, err
		}
	}

	gateStart := time.Now()
	verdict := e.gate.Validate(ctx, plan.RawQuery, counts, result, fused)
	e.metrics.observeStage("validate", time.Since(gateStart).Seconds())

	return e.buildResponse(requestID, started, plan, retrieved, verdict), nil
}

func (e *Engine) buildResponse(requestID string, started time.Time, plan *types.QueryPlan, retrieved *retrieval.Result, result *types.SynthesisResult) *Response {
	counts := retrieved.Counts()
	return &Response{
		Answer:    result.AnswerText,
		Citations: result.Citations,
		Grounded:  result.Grounded,
		Verdict:   result.Verdict,
		Diagnostics: types.Diagnostics{
			RequestID:      requestID,
			Intent:         plan.Intent,
			Complexity:     plan.Complexity,
			EvidenceCounts: counts,
			FusionMode:     string(e.config.Fusion.Mode),
			VectorDegraded: retrieved.VectorDegraded,
			GraphDegraded:  retrieved.GraphDegraded,
			ElapsedMillis:  time.Since(started).Milliseconds(),
		},
	}
}

// record 更新指标并落库会话历史。
func (e *Engine) record(ctx context.Context, req *Request, resp *Response) {
	e.metrics.recordRequest(string(resp.Diagnostics.Intent), string(resp.Verdict))

	if e.conversations == nil || req.SessionID == "" {
		return
	}
	now := time.Now()
	if err := e.conversations.Append(ctx, req.SessionID, store.Turn{Role: "user", Content: req.Query, Timestamp: now}); err != nil {
		e.logger.Warn("history append failed", zap.Error(err))
		return
	}
	if err := e.conversations.Append(ctx, req.SessionID, store.Turn{Role: "assistant", Content: resp.Answer, Timestamp: now}); err != nil {
		e.logger.Warn("history append failed", zap.Error(err))
	}
}
