package planner

import (
	"regexp"
	"strings"

	"github.com/BaSui01/answerflow/store"
)

// 会话上下文分析：判断跟进问句并合并近几轮提到的实体。

var followUpMarkers = []string{
	"what about", "how about", "and what", "and how", "and why",
	"tell me more", "anything else", "why is that", "what else",
}

var pronounPattern = regexp.MustCompile(`(?i)^\s*(what|how|why|when|where|did|does|is|was)?\s*\b(he|she|they|it|him|her|them|his|hers|their|its|that|this|those)\b`)

// isFollowUp 报告查询是否是对近几轮对话的跟进。
func isFollowUp(query string, turns []store.Turn) bool {
	if len(turns) == 0 {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(query))
	for _, marker := range followUpMarkers {
		if strings.HasPrefix(q, marker) {
			return true
		}
	}
	return pronounPattern.MatchString(query)
}

// contextEntities 从近几轮对话中提取实体表面形式。
func contextEntities(turns []store.Turn) []string {
	seen := make(map[string]bool)
	var entities []string
	for _, turn := range turns {
		for _, e := range extractEntities(turn.Content) {
			key := strings.ToLower(e)
			if !seen[key] {
				seen[key] = true
				entities = append(entities, e)
			}
		}
	}
	return entities
}

var trailingPunct = regexp.MustCompile(`[^\w]+$`)

// extractEntities 基于大小写的轻量实体提取：句中以大写开头的词串。
func extractEntities(text string) []string {
	words := strings.Fields(text)
	var entities []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			entities = append(entities, strings.Join(current, " "))
			current = nil
		}
	}

	for i, word := range words {
		w := trailingPunct.ReplaceAllString(word, "")
		if i > 0 && len(w) > 1 && w[0] >= 'A' && w[0] <= 'Z' {
			current = append(current, w)
			continue
		}
		flush()
	}
	flush()
	return entities
}

// mergeEntities 合并并去重（大小写不敏感），保持首次出现顺序。
func mergeEntities(lists ...[]string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, list := range lists {
		for _, e := range list {
			key := strings.ToLower(strings.TrimSpace(e))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, e)
		}
	}
	return merged
}
