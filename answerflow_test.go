package answerflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/pipeline"
	"github.com/BaSui01/answerflow/store"
	"github.com/BaSui01/answerflow/types"
)

type stubProvider struct{}

func (stubProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	return "", errors.New("not implemented")
}

func (stubProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func (stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

type stubVectors struct{}

func (stubVectors) Search(ctx context.Context, embedding []float32, topK int, filter store.VectorFilter) ([]store.VectorHit, error) {
	return nil, nil
}

type stubGraph struct{}

func (stubGraph) FindNodes(ctx context.Context, name string, limit int) ([]store.GraphNode, error) {
	return nil, nil
}

func (stubGraph) Neighbors(ctx context.Context, nodeID string, limit int) ([]store.GraphHit, error) {
	return nil, nil
}

func (stubGraph) Paths(ctx context.Context, nodeID string, maxHops, limit int) ([]store.GraphHit, error) {
	return nil, nil
}

func (stubGraph) CrossSourceCounts(ctx context.Context, limit int) ([]store.GraphHit, error) {
	return nil, nil
}

func (stubGraph) Query(ctx context.Context, pattern string, params map[string]any) ([]map[string]any, error) {
	return nil, nil
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(context.Background())
	require.Error(t, err)

	_, err = New(context.Background(), WithProvider(stubProvider{}))
	require.Error(t, err)

	_, err = New(context.Background(), WithProvider(stubProvider{}), WithVectorStore(stubVectors{}))
	require.Error(t, err)
}

func TestNewAssemblesWorkingEngine(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.Planner.UseLLM = false
	cfg.Gate.EnableSelfCheck = false

	engine, err := New(context.Background(),
		WithConfig(cfg),
		WithProvider(stubProvider{}),
		WithVectorStore(stubVectors{}),
		WithGraphStore(stubGraph{}),
		WithResilience(llm.DefaultLimiterConfig(), llm.DefaultRetryPolicy()),
	)
	require.NoError(t, err)

	resp, err := engine.Answer(context.Background(), &pipeline.Request{Query: "hello!"})
	require.NoError(t, err)
	assert.Equal(t, types.GreetingReply, resp.Answer)
	assert.Equal(t, types.VerdictAccepted, resp.Verdict)
}
