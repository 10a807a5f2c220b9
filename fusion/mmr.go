package fusion

import (
	"strings"

	"github.com/BaSui01/answerflow/types"
)

// mmr 对去重后的证据做最大边际相关选择。
// 相关性取归一化后的原生分数，相似度用词集 Jaccard。
func (f *Fuser) mmr(items []types.RetrievedItem) []types.RankedItem {
	candidates := make([]types.RankedItem, 0, len(items))
	maxScore := 0.0
	for _, item := range items {
		if item.Score > maxScore {
			maxScore = item.Score
		}
	}
	for _, item := range items {
		rel := item.Score
		if maxScore > 0 {
			rel = item.Score / maxScore
		}
		candidates = append(candidates, types.RankedItem{
			RetrievedItem: item,
			FusionScore:   rel,
		})
	}
	sortDeterministic(candidates)
	return f.mmrRanked(candidates)
}

// mmrRanked 对已带融合分的候选做 MMR 贪心重排：
// 每步选 λ*rel - (1-λ)*maxSim 最大者，并列按内容字典序。
// 重排只改顺序与 DiversityScore，不改 FusionScore。
func (f *Fuser) mmrRanked(candidates []types.RankedItem) []types.RankedItem {
	if len(candidates) <= 1 {
		return candidates
	}

	lambda := f.config.MMRLambda
	remaining := append([]types.RankedItem{}, candidates...)
	tokens := make([]map[string]bool, len(remaining))
	for i, c := range remaining {
		tokens[i] = tokenSet(c.Content)
	}

	selected := make([]types.RankedItem, 0, len(remaining))
	var selectedTokens []map[string]bool

	for len(remaining) > 0 {
		bestIdx := 0
		bestScore := mmrScore(lambda, remaining[0].FusionScore, tokens[0], selectedTokens)
		for i := 1; i < len(remaining); i++ {
			score := mmrScore(lambda, remaining[i].FusionScore, tokens[i], selectedTokens)
			if score > bestScore || (score == bestScore && remaining[i].Content < remaining[bestIdx].Content) {
				bestIdx = i
				bestScore = score
			}
		}

		chosen := remaining[bestIdx]
		chosen.DiversityScore = bestScore
		selected = append(selected, chosen)
		selectedTokens = append(selectedTokens, tokens[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		tokens = append(tokens[:bestIdx], tokens[bestIdx+1:]...)
	}
	return selected
}

func mmrScore(lambda, rel float64, candidate map[string]bool, selected []map[string]bool) float64 {
	maxSim := 0.0
	for _, s := range selected {
		if sim := jaccard(candidate, s); sim > maxSim {
			maxSim = sim
		}
	}
	return lambda*rel - (1-lambda)*maxSim
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:'\"()[]")
		if len(w) > 2 {
			set[w] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for w := range small {
		if large[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
