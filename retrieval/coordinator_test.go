package retrieval

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/store"
	"github.com/BaSui01/answerflow/types"
)

// fakeVectorStore 返回固定命中，可注入延迟与错误。
type fakeVectorStore struct {
	hits    []store.VectorHit
	err     error
	delay   time.Duration
	queries atomic.Int32
}

func (f *fakeVectorStore) Search(ctx context.Context, embedding []float32, topK int, filter store.VectorFilter) ([]store.VectorHit, error) {
	f.queries.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.hits, f.err
}

// fakeGraphStore 返回固定节点与命中，可注入延迟与错误。
type fakeGraphStore struct {
	nodes     []store.GraphNode
	neighbors []store.GraphHit
	paths     []store.GraphHit
	crossSrc  []store.GraphHit
	err       error
	delay     time.Duration
}

func (f *fakeGraphStore) FindNodes(ctx context.Context, name string, limit int) ([]store.GraphNode, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.nodes, nil
}

func (f *fakeGraphStore) Neighbors(ctx context.Context, nodeID string, limit int) ([]store.GraphHit, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.neighbors, f.err
}

func (f *fakeGraphStore) Paths(ctx context.Context, nodeID string, maxHops, limit int) ([]store.GraphHit, error) {
	return f.paths, f.err
}

func (f *fakeGraphStore) CrossSourceCounts(ctx context.Context, limit int) ([]store.GraphHit, error) {
	return f.crossSrc, f.err
}

func (f *fakeGraphStore) Query(ctx context.Context, pattern string, params map[string]any) ([]map[string]any, error) {
	return nil, errors.New("not implemented")
}

// fakeEmbedder 提供嵌入与固定补全。
type fakeEmbedder struct {
	completeResp string
	completeErr  error
}

func (f *fakeEmbedder) Complete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	return f.completeResp, f.completeErr
}

func (f *fakeEmbedder) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func retrievalPlan() *types.QueryPlan {
	return &types.QueryPlan{
		RawQuery:   "what did Alice say about the migration",
		Intent:     types.IntentKnowledgeQuery,
		Complexity: types.ComplexitySimple,
		Entities:   []string{"Alice"},
		Strategy: types.RetrievalStrategy{
			UseVector:     true,
			UseGraph:      true,
			TraversalMode: types.TraversalEntityCentric,
		},
	}
}

func newCoordinator(t *testing.T, vs store.VectorStore, gs store.GraphStore) *Coordinator {
	cfg := DefaultCoordinatorConfig()
	cfg.Linker.UseLLMFallback = false
	return NewCoordinator(cfg, vs, gs, &fakeEmbedder{}, zaptest.NewLogger(t))
}

func TestRetrieveBothSides(t *testing.T) {
	vs := &fakeVectorStore{hits: []store.VectorHit{
		{Content: "Alice proposed a phased cutover", Score: 0.9,
			Metadata: map[string]any{"document_id": "ep-1", "locator": "00:12:03", "speaker": "alice"}},
	}}
	gs := &fakeGraphStore{
		nodes:     []store.GraphNode{{ID: "n1", Name: "Alice"}},
		neighbors: []store.GraphHit{{NodeID: "n1", Description: "Alice leads the migration", Score: 0.8, HopCount: 1}},
	}

	result, err := newCoordinator(t, vs, gs).Retrieve(context.Background(), retrievalPlan())
	require.NoError(t, err)

	require.Len(t, result.Vector, 1)
	assert.Equal(t, types.SourceVector, result.Vector[0].SourceType)
	assert.Equal(t, "ep-1", result.Vector[0].Provenance.DocumentID)
	assert.Equal(t, "00:12:03", result.Vector[0].Provenance.Locator)

	require.Len(t, result.Graph, 1)
	assert.Equal(t, types.SourceGraph, result.Graph[0].SourceType)
	assert.Equal(t, 1, result.Graph[0].HopCount)

	counts := result.Counts()
	assert.Equal(t, 1, counts.Vector)
	assert.Equal(t, 1, counts.Graph)
	assert.False(t, result.VectorDegraded)
	assert.False(t, result.GraphDegraded)
}

// 两路必须并发执行：各自延迟 100ms，总耗时应远小于串行的 200ms。
func TestRetrieveRunsSidesConcurrently(t *testing.T) {
	vs := &fakeVectorStore{delay: 100 * time.Millisecond,
		hits: []store.VectorHit{{Content: "v", Score: 0.5}}}
	gs := &fakeGraphStore{delay: 100 * time.Millisecond,
		nodes:     []store.GraphNode{{ID: "n1", Name: "Alice"}},
		neighbors: []store.GraphHit{{NodeID: "n1", Description: "g", Score: 0.5, HopCount: 1}}}

	start := time.Now()
	result, err := newCoordinator(t, vs, gs).Retrieve(context.Background(), retrievalPlan())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Len(t, result.Vector, 1)
	assert.Len(t, result.Graph, 1)
	assert.Less(t, elapsed, 180*time.Millisecond, "sides ran sequentially")
}

// 单路失败退化为空结果，另一路照常返回。
func TestRetrieveDegradesSingleSide(t *testing.T) {
	vs := &fakeVectorStore{err: errors.New("index unavailable")}
	gs := &fakeGraphStore{
		nodes:     []store.GraphNode{{ID: "n1", Name: "Alice"}},
		neighbors: []store.GraphHit{{NodeID: "n1", Description: "g", Score: 0.5, HopCount: 1}},
	}

	result, err := newCoordinator(t, vs, gs).Retrieve(context.Background(), retrievalPlan())
	require.NoError(t, err)
	assert.True(t, result.VectorDegraded)
	assert.Empty(t, result.Vector)
	assert.False(t, result.GraphDegraded)
	assert.Len(t, result.Graph, 1)
}

// 两路全部失败才上抛 RETRIEVAL_FAILURE。
func TestRetrieveFailsWhenBothSidesFail(t *testing.T) {
	vs := &fakeVectorStore{err: errors.New("index unavailable")}
	gs := &fakeGraphStore{err: errors.New("graph unavailable")}

	_, err := newCoordinator(t, vs, gs).Retrieve(context.Background(), retrievalPlan())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRetrievalFailure))
}

// 终止型计划不触碰任何存储。
func TestRetrieveSkipsTerminalPlan(t *testing.T) {
	vs := &fakeVectorStore{hits: []store.VectorHit{{Content: "v", Score: 0.5}}}
	gs := &fakeGraphStore{}

	plan := types.RestrictivePlan("what is 2+2", "arithmetic is out of scope")
	result, err := newCoordinator(t, vs, gs).Retrieve(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, result.Counts().Empty())
	assert.Zero(t, vs.queries.Load(), "terminal plan must not query stores")
}

// 查询扩展变体并发检索且结果按内容去重。
func TestRetrieveExpandedQueriesDeduped(t *testing.T) {
	vs := &fakeVectorStore{hits: []store.VectorHit{
		{Content: "Alice proposed a phased cutover", Score: 0.9},
	}}
	gs := &fakeGraphStore{}

	plan := retrievalPlan()
	plan.Complexity = types.ComplexityModerate
	plan.Strategy.ExpandQuery = true
	plan.RawQuery = "what did Alice decide about the plan"

	result, err := newCoordinator(t, vs, gs).Retrieve(context.Background(), plan)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int(vs.queries.Load()), 2, "expected multiple variant searches")
	assert.Len(t, result.Vector, 1, "identical hits must collapse to one")
}

func TestRetrieveCrossSourceMode(t *testing.T) {
	vs := &fakeVectorStore{}
	gs := &fakeGraphStore{crossSrc: []store.GraphHit{
		{NodeID: "n1", Description: "Migration", Score: 3, SourceCount: 3},
		{NodeID: "n2", Description: "Rollback", Score: 2, SourceCount: 2},
	}}

	plan := retrievalPlan()
	plan.Intent = types.IntentCrossEpisode
	plan.Strategy.TraversalMode = types.TraversalCrossSource

	result, err := newCoordinator(t, vs, gs).Retrieve(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, result.Graph, 2)
	assert.Equal(t, "Migration", result.Graph[0].Content)
}
