package fusion

import (
	"github.com/BaSui01/answerflow/types"
)

// rrf 倒数排名融合：每条证据累加它在各路列表中的 1/(k+rank)，
// rank 从 1 计。同一证据出现在两路时贡献叠加（跨源一致性加成），
// 累加前先做跨源去重合并。
func (f *Fuser) rrf(vector, graph []types.RetrievedItem) []types.RankedItem {
	type scored struct {
		item  types.RetrievedItem
		score float64
	}
	var pool []scored

	contribute := func(list []types.RetrievedItem) {
		for rank, item := range list {
			contribution := 1.0 / float64(f.config.RRFK+rank+1)
			merged := false
			for i := range pool {
				if sameEvidence(pool[i].item, item) {
					pool[i].item = mergeEvidence(pool[i].item, item)
					pool[i].score += contribution
					merged = true
					break
				}
			}
			if !merged {
				pool = append(pool, scored{item: item, score: contribution})
			}
		}
	}
	contribute(vector)
	contribute(graph)

	ranked := make([]types.RankedItem, 0, len(pool))
	for _, s := range pool {
		ranked = append(ranked, types.RankedItem{
			RetrievedItem: s.item,
			FusionScore:   s.score,
		})
	}
	sortDeterministic(ranked)
	return ranked
}
