package fusion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/answerflow/types"
)

func vectorItem(content string, score float64) types.RetrievedItem {
	return types.RetrievedItem{
		SourceType: types.SourceVector,
		Content:    content,
		Score:      score,
		Provenance: types.Provenance{DocumentID: "doc-" + content, Locator: "loc-" + content},
	}
}

func graphItem(content string, score float64, hops int) types.RetrievedItem {
	return types.RetrievedItem{
		SourceType: types.SourceGraph,
		Content:    content,
		Score:      score,
		HopCount:   hops,
	}
}

func TestRRFOrdersByReciprocalRank(t *testing.T) {
	f := New(DefaultConfig(), nil)

	vector := []types.RetrievedItem{
		vectorItem("alpha evidence about the migration", 0.9),
		vectorItem("beta evidence about the rollback", 0.5),
	}
	graph := []types.RetrievedItem{
		graphItem("gamma relation describing ownership", 0.8, 1),
	}

	ranked := f.Fuse(vector, graph)
	require.Len(t, ranked, 3)

	// 各路第 1 名并列（1/61），按内容字典序：alpha 在 gamma 前。
	assert.Equal(t, "alpha evidence about the migration", ranked[0].Content)
	assert.Equal(t, "gamma relation describing ownership", ranked[1].Content)
	assert.Equal(t, "beta evidence about the rollback", ranked[2].Content)
	assert.InDelta(t, 1.0/61, ranked[0].FusionScore, 1e-9)
	assert.InDelta(t, 1.0/62, ranked[2].FusionScore, 1e-9)
}

// 同一证据在两路都命中时贡献叠加，排名必须高于单路命中。
func TestRRFCrossSourceBoost(t *testing.T) {
	f := New(DefaultConfig(), nil)

	shared := "the migration was approved in the spring planning meeting"
	vector := []types.RetrievedItem{
		vectorItem("unrelated top vector hit about billing", 0.99),
		{SourceType: types.SourceVector, Content: shared, Score: 0.7,
			Provenance: types.Provenance{DocumentID: "ep-2", Locator: "00:05:00"}},
	}
	graph := []types.RetrievedItem{
		{SourceType: types.SourceGraph, Content: shared, Score: 0.8,
			Provenance: types.Provenance{DocumentID: "ep-2", Locator: "00:05:00"}},
	}

	ranked := f.Fuse(vector, graph)
	require.Len(t, ranked, 2)
	assert.Equal(t, shared, ranked[0].Content, "cross-source hit must outrank single-source rank-1")
	assert.InDelta(t, 1.0/62+1.0/61, ranked[0].FusionScore, 1e-9)
}

func TestDedupeMergesProvenance(t *testing.T) {
	a := types.RetrievedItem{
		SourceType: types.SourceVector, Score: 0.6,
		Content:    "Alice proposed the phased cutover during the planning call",
		Provenance: types.Provenance{DocumentID: "ep-1", Locator: "00:12:00"},
	}
	b := types.RetrievedItem{
		SourceType: types.SourceGraph, Score: 0.9,
		Content:    "Alice proposed the phased cutover during the planning call and scheduling",
		Provenance: types.Provenance{Speaker: "alice", RelationPath: "Alice-[proposed]->Cutover"},
	}

	merged := dedupe([]types.RetrievedItem{a, b})
	require.Len(t, merged, 1)
	// 分数高者为主，缺失出处补齐。
	assert.Equal(t, 0.9, merged[0].Score)
	assert.Equal(t, "ep-1", merged[0].Provenance.DocumentID)
	assert.Equal(t, "00:12:00", merged[0].Provenance.Locator)
	assert.Equal(t, "alice", merged[0].Provenance.Speaker)
	assert.Equal(t, "Alice-[proposed]->Cutover", merged[0].Provenance.RelationPath)
}

func TestDedupeByLocatorIdentity(t *testing.T) {
	a := vectorItem("completely different wording of the fact", 0.5)
	b := a
	b.Content = "another phrasing entirely for the same turn"
	b.Score = 0.7

	merged := dedupe([]types.RetrievedItem{a, b})
	require.Len(t, merged, 1)
	assert.Equal(t, 0.7, merged[0].Score)
}

func TestMMRPenalizesRedundancy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeMMR
	f := New(cfg, nil)

	items := []types.RetrievedItem{
		graphItem("the migration plan covers kafka topics and consumer groups", 1.0, 1),
		graphItem("the migration plan covers kafka topics and consumer lag", 0.95, 1),
		graphItem("billing ownership moved to the platform team", 0.9, 1),
	}

	ranked := f.Fuse(nil, items)
	require.Len(t, ranked, 3)
	assert.Equal(t, "the migration plan covers kafka topics and consumer groups", ranked[0].Content)
	// 第二位应是多样的 billing 条目，而非近重复的 kafka 条目。
	assert.Equal(t, "billing ownership moved to the platform team", ranked[1].Content)
}

func TestHybridKeepsTailOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeHybrid
	cfg.HybridPoolSize = 2
	cfg.TopK = 0
	f := New(cfg, nil)

	vector := []types.RetrievedItem{
		vectorItem("first vector evidence entry", 0.9),
		vectorItem("second vector evidence entry", 0.8),
		vectorItem("third vector evidence entry", 0.7),
		vectorItem("fourth vector evidence entry", 0.6),
	}

	ranked := f.Fuse(vector, nil)
	require.Len(t, ranked, 4)
	// 池外的尾部保持 RRF 顺序。
	assert.Equal(t, "third vector evidence entry", ranked[2].Content)
	assert.Equal(t, "fourth vector evidence entry", ranked[3].Content)
}

func TestFuseEmptyInputs(t *testing.T) {
	f := New(DefaultConfig(), nil)
	assert.Nil(t, f.Fuse(nil, nil))

	only := f.Fuse([]types.RetrievedItem{vectorItem("solo", 0.5)}, nil)
	require.Len(t, only, 1)
}

func TestFuseTopKTruncation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopK = 2
	f := New(cfg, nil)

	vector := []types.RetrievedItem{
		vectorItem("one", 0.9), vectorItem("two", 0.8), vectorItem("three", 0.7),
	}
	assert.Len(t, f.Fuse(vector, nil), 2)
}

func genItems(t *rapid.T, source types.SourceType, label string) []types.RetrievedItem {
	n := rapid.IntRange(0, 8).Draw(t, label+"_n")
	items := make([]types.RetrievedItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, types.RetrievedItem{
			SourceType: source,
			Content:    fmt.Sprintf("%s evidence item number %d with distinct trailing words %d", label, i, i*7),
			Score:      rapid.Float64Range(0, 1).Draw(t, fmt.Sprintf("%s_score_%d", label, i)),
			Provenance: types.Provenance{DocumentID: fmt.Sprintf("%s-doc-%d", label, i), Locator: fmt.Sprintf("%d", i)},
		})
	}
	return items
}

// 融合是纯函数：同样输入两次调用产出完全相同的顺序与分数。
func TestFuseDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mode := rapid.SampledFrom([]Mode{ModeRRF, ModeMMR, ModeHybrid}).Draw(rt, "mode")
		cfg := DefaultConfig()
		cfg.Mode = mode
		f := New(cfg, nil)

		vector := genItems(rt, types.SourceVector, "vec")
		graph := genItems(rt, types.SourceGraph, "gra")

		first := f.Fuse(vector, graph)
		second := f.Fuse(vector, graph)
		require.Equal(rt, first, second)
	})
}

// 融合对重复证据幂等：一路与自身拼接两份后去重，排名顺序不变。
func TestFuseSelfConcatIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mode := rapid.SampledFrom([]Mode{ModeRRF, ModeMMR}).Draw(rt, "mode")
		cfg := DefaultConfig()
		cfg.Mode = mode
		cfg.TopK = 0
		f := New(cfg, nil)

		vector := genItems(rt, types.SourceVector, "vec")
		doubled := append(append([]types.RetrievedItem{}, vector...), vector...)

		once := f.Fuse(vector, nil)
		twice := f.Fuse(doubled, nil)
		require.Len(rt, twice, len(once))
		for i := range once {
			assert.Equal(rt, once[i].Content, twice[i].Content)
		}
	})
}

// 双路单调性：一条证据额外出现在另一路时分数只增不减，
// 其余证据的分数保持不变。
func TestRRFCrossListMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := DefaultConfig()
		cfg.Mode = ModeRRF
		cfg.TopK = 0
		f := New(cfg, nil)

		vector := genItems(rt, types.SourceVector, "vec")
		if len(vector) == 0 {
			return
		}
		dup := rapid.IntRange(0, len(vector)-1).Draw(rt, "dup")
		graph := []types.RetrievedItem{vector[dup]}

		baseline := scoresByContent(f.Fuse(vector, nil))
		boosted := scoresByContent(f.Fuse(vector, graph))
		for content, base := range baseline {
			if content == vector[dup].Content {
				assert.Greater(rt, boosted[content], base)
			} else {
				assert.Equal(rt, base, boosted[content])
			}
		}
	})
}

func scoresByContent(ranked []types.RankedItem) map[string]float64 {
	scores := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		scores[r.Content] = r.FusionScore
	}
	return scores
}

// 单路 RRF 的贡献随名次严格递减：输出顺序保持输入名次，分数单调下降。
func TestRRFMonotonicInRank(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := DefaultConfig()
		cfg.Mode = ModeRRF
		f := New(cfg, nil)

		vector := genItems(rt, types.SourceVector, "vec")
		ranked := f.Fuse(vector, nil)
		require.Len(rt, ranked, len(vector))
		for i, r := range ranked {
			assert.Equal(rt, vector[i].Content, r.Content)
			if i > 0 {
				assert.Greater(rt, ranked[i-1].FusionScore, r.FusionScore)
			}
		}
	})
}

// 输出条数不超过 TopK，且每条都来自输入。
func TestFuseOutputBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := New(DefaultConfig(), nil)
		vector := genItems(rt, types.SourceVector, "vec")
		graph := genItems(rt, types.SourceGraph, "gra")

		ranked := f.Fuse(vector, graph)
		assert.LessOrEqual(rt, len(ranked), DefaultConfig().TopK)

		inputs := make(map[string]bool)
		for _, item := range append(vector, graph...) {
			inputs[item.Content] = true
		}
		for _, r := range ranked {
			assert.True(rt, inputs[r.Content], "fused item not present in inputs")
		}
	})
}
