package synthesis

import (
	"fmt"
	"strings"

	"github.com/BaSui01/answerflow/types"
)

// 证据上下文构造：每条证据带 [V1]/[G2] 标记写入提示词，
// 模型在答案里引用标记，引用再映射回出处。

// evidenceBlock 是写入提示词的一条证据及其标记。
type evidenceBlock struct {
	Marker string
	Item   types.RankedItem
}

// buildBlocks 为证据分配标记：向量证据 V1..Vn，图证据 G1..Gn，
// 按融合顺序编号。
func buildBlocks(items []types.RankedItem) []evidenceBlock {
	blocks := make([]evidenceBlock, 0, len(items))
	v, g := 0, 0
	for _, item := range items {
		var marker string
		if item.SourceType == types.SourceGraph {
			g++
			marker = fmt.Sprintf("G%d", g)
		} else {
			v++
			marker = fmt.Sprintf("V%d", v)
		}
		blocks = append(blocks, evidenceBlock{Marker: marker, Item: item})
	}
	return blocks
}

// renderBlock 渲染一条证据为提示词片段。
func renderBlock(b evidenceBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]", b.Marker)

	p := b.Item.Provenance
	var meta []string
	if p.DocumentID != "" {
		meta = append(meta, "source: "+p.DocumentID)
	}
	if p.Locator != "" {
		meta = append(meta, "at: "+p.Locator)
	}
	if p.Speaker != "" {
		meta = append(meta, "speaker: "+speakerLabel(p.Speaker))
	}
	if p.RelationPath != "" {
		meta = append(meta, "path: "+p.RelationPath)
	}
	if len(meta) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(meta, ", "))
	}
	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(b.Item.Content))
	return sb.String()
}

// speakerLabel 把原始发言者 ID 转成可读标签：
// 去掉常见前缀并把蛇形/短横线切词后首字母大写。
func speakerLabel(raw string) string {
	s := strings.TrimSpace(raw)
	for _, prefix := range []string{"user:", "speaker:", "spk_", "user_"} {
		s = strings.TrimPrefix(s, prefix)
	}
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	label := strings.Join(parts, " ")
	if label == "" {
		return raw
	}
	return label
}

// documentLabel 把文档 ID 转成引用里的可读标签。
func documentLabel(docID string) string {
	if docID == "" {
		return "unknown source"
	}
	return docID
}
