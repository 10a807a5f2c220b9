package synthesis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/types"
)

type fakeProvider struct {
	response string
	err      error
	calls    int
	lastReq  *llm.CompletionRequest
}

func (f *fakeProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	f.calls++
	f.lastReq = req
	return f.response, f.err
}

func (f *fakeProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.StreamChunk{Delta: f.response}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func evidence() []types.RankedItem {
	return []types.RankedItem{
		{
			RetrievedItem: types.RetrievedItem{
				SourceType: types.SourceVector,
				Content:    "Alice proposed a phased cutover for the Kafka migration.",
				Provenance: types.Provenance{DocumentID: "ep-1", Locator: "00:12:03", Speaker: "alice_j"},
			},
			FusionScore: 0.03,
		},
		{
			RetrievedItem: types.RetrievedItem{
				SourceType: types.SourceGraph,
				Content:    "Alice leads the migration workstream.",
				Provenance: types.Provenance{DocumentID: "ep-2", RelationPath: "Alice-[leads]->Migration"},
			},
			FusionScore: 0.02,
		},
	}
}

// 空证据绝不触发模型调用。
func TestSynthesizeEmptyEvidenceSkipsModel(t *testing.T) {
	provider := &fakeProvider{response: "should never be used"}
	s := New(DefaultConfig(), provider, zaptest.NewLogger(t))

	result, err := s.Synthesize(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, types.CanonicalRejection, result.AnswerText)
	assert.False(t, result.Grounded)
	assert.Zero(t, provider.calls)
}

func TestSynthesizeGroundedAnswer(t *testing.T) {
	provider := &fakeProvider{response: "Alice proposed a phased cutover [V1]. She also leads the workstream [G1]."}
	s := New(DefaultConfig(), provider, zaptest.NewLogger(t))

	result, err := s.Synthesize(context.Background(), "what did Alice propose", evidence())
	require.NoError(t, err)
	assert.True(t, result.Grounded)
	require.Len(t, result.Citations, 2)
	assert.Equal(t, types.SourceVector, result.Citations[0].SourceType)
	assert.Equal(t, "ep-1", result.Citations[0].DocumentLabel)
	assert.Equal(t, "00:12:03", result.Citations[0].Locator)
	assert.Equal(t, "Alice J", result.Citations[0].SpeakerLabel)
	assert.Equal(t, types.SourceGraph, result.Citations[1].SourceType)
}

// 无引用的答案不可信，归一为标准拒答。
func TestSynthesizeUncitedAnswerRejected(t *testing.T) {
	provider := &fakeProvider{response: "Alice proposed a phased cutover."}
	s := New(DefaultConfig(), provider, zaptest.NewLogger(t))

	result, err := s.Synthesize(context.Background(), "what did Alice propose", evidence())
	require.NoError(t, err)
	assert.False(t, result.Grounded)
	assert.Equal(t, types.CanonicalRejection, result.AnswerText)
}

func TestSynthesizeDeclineNormalized(t *testing.T) {
	provider := &fakeProvider{response: "I don't have enough information to answer that [V1]."}
	s := New(DefaultConfig(), provider, zaptest.NewLogger(t))

	result, err := s.Synthesize(context.Background(), "what about billing", evidence())
	require.NoError(t, err)
	assert.False(t, result.Grounded)
	assert.Equal(t, types.CanonicalRejection, result.AnswerText)
}

func TestSynthesizeProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream timeout")}
	s := New(DefaultConfig(), provider, zaptest.NewLogger(t))

	_, err := s.Synthesize(context.Background(), "anything", evidence())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrSynthesisFailure))
	assert.True(t, types.IsRetryable(err))
}

// 超预算的证据按融合顺序截断，但至少保留第一块。
func TestSynthesizeBudgetTruncation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContextTokens = 20
	provider := &fakeProvider{response: "Alice proposed a phased cutover [V1]."}
	s := New(cfg, provider, zaptest.NewLogger(t))

	result, err := s.Synthesize(context.Background(), "what did Alice propose", evidence())
	require.NoError(t, err)
	assert.True(t, result.Grounded)
	assert.NotContains(t, provider.lastReq.Messages[1].Content, "[G1]",
		"second block should be dropped by the budget")
	assert.Contains(t, provider.lastReq.Messages[1].Content, "[V1]")
}

func TestStreamAndFinalize(t *testing.T) {
	provider := &fakeProvider{response: "Alice proposed a phased cutover [V1]."}
	s := New(DefaultConfig(), provider, zaptest.NewLogger(t))

	ch, kept, err := s.Stream(context.Background(), "what did Alice propose", evidence())
	require.NoError(t, err)
	require.NotNil(t, ch)
	require.Len(t, kept, 2)

	var full string
	for chunk := range ch {
		full += chunk.Delta
	}
	result := s.Finalize(full, kept)
	assert.True(t, result.Grounded)
	require.Len(t, result.Citations, 1)
}

func TestStreamEmptyEvidence(t *testing.T) {
	provider := &fakeProvider{}
	s := New(DefaultConfig(), provider, zaptest.NewLogger(t))

	ch, kept, err := s.Stream(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Nil(t, ch)
	assert.Empty(t, kept)
	assert.Zero(t, provider.calls)
}

func TestSpeakerLabel(t *testing.T) {
	assert.Equal(t, "Alice J", speakerLabel("alice_j"))
	assert.Equal(t, "Bob Smith", speakerLabel("spk_bob-smith"))
	assert.Equal(t, "Carol", speakerLabel("user:carol"))
}
