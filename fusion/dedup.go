package fusion

import (
	"strings"

	"github.com/BaSui01/answerflow/types"
)

// 跨源去重：同一条底层证据可能同时出现在两路结果里
//（向量命中的转写片段与图命中的关系描述指向同一出处）。
// 身份判定：出处定位符完全一致，或内容存在长公共前缀。
// 合并时保留分数更高的一条，出处字段取并集（非空优先）。

const prefixDupMinLen = 24

// identityKey 返回基于出处的身份键；出处不完整时返回空。
func identityKey(item types.RetrievedItem) string {
	p := item.Provenance
	if p.DocumentID != "" && p.Locator != "" {
		return p.DocumentID + "|" + p.Locator
	}
	return ""
}

// sameEvidence 报告两条证据是否指向同一出处。
func sameEvidence(a, b types.RetrievedItem) bool {
	ka, kb := identityKey(a), identityKey(b)
	if ka != "" && ka == kb {
		return true
	}
	return longCommonPrefix(a.Content, b.Content)
}

// longCommonPrefix 报告两段内容是否有足够长的公共前缀（近重复文本）。
func longCommonPrefix(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	n := min(len(a), len(b))
	if n < prefixDupMinLen {
		return a == b && a != ""
	}
	threshold := (n * 9) / 10
	return a[:threshold] == b[:threshold]
}

// mergeEvidence 合并两条重复证据：分数高者为主，出处字段取并集。
func mergeEvidence(a, b types.RetrievedItem) types.RetrievedItem {
	primary, secondary := a, b
	if b.Score > a.Score {
		primary, secondary = b, a
	}
	if primary.Provenance.DocumentID == "" {
		primary.Provenance.DocumentID = secondary.Provenance.DocumentID
	}
	if primary.Provenance.Locator == "" {
		primary.Provenance.Locator = secondary.Provenance.Locator
	}
	if primary.Provenance.Speaker == "" {
		primary.Provenance.Speaker = secondary.Provenance.Speaker
	}
	if primary.Provenance.RelationPath == "" {
		primary.Provenance.RelationPath = secondary.Provenance.RelationPath
	}
	return primary
}

// dedupe 对列表做两两去重，保持首次出现顺序。
// 候选集规模在几十条量级，二次扫描足够。
func dedupe(items []types.RetrievedItem) []types.RetrievedItem {
	var result []types.RetrievedItem
	for _, item := range items {
		merged := false
		for i := range result {
			if sameEvidence(result[i], item) {
				result[i] = mergeEvidence(result[i], item)
				merged = true
				break
			}
		}
		if !merged {
			result = append(result, item)
		}
	}
	return result
}
