package planner

import (
	"regexp"
	"strings"
)

// 快路径：确定性的、不经过模型的匹配。
// 问候与超纲两组模式互斥，且按问候优先的顺序求值。

var greetingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(hi|hiya|hello|hey|yo|howdy)\s*[!.?]*\s*$`),
	regexp.MustCompile(`(?i)^\s*good\s+(morning|afternoon|evening|night)\s*[!.?]*\s*$`),
	regexp.MustCompile(`(?i)^\s*(how\s+are\s+you|how's\s+it\s+going|what's\s+up)\s*[!.?]*\s*$`),
	regexp.MustCompile(`(?i)^\s*(thanks|thank\s+you|bye|goodbye|see\s+you)\s*[!.?]*\s*$`),
}

// outOfScopePatterns 固定超纲清单：算术、写代码、天气、时事。
var outOfScopePatterns = []struct {
	pattern *regexp.Regexp
	reason  string
}{
	{regexp.MustCompile(`(?i)(what\s+is|calculate|compute)?\s*\d+\s*[-+*/^%]\s*\d+`), "arithmetic is out of scope"},
	{regexp.MustCompile(`(?i)\b(write|generate|debug|fix)\b.*\b(code|function|script|program|regex|sql)\b`), "coding tasks are out of scope"},
	{regexp.MustCompile(`(?i)\b(weather|temperature|forecast)\b.*\b(today|tomorrow|now|this week)\b`), "weather is out of scope"},
	{regexp.MustCompile(`(?i)\bweather\s+in\b`), "weather is out of scope"},
	{regexp.MustCompile(`(?i)\b(latest|today'?s|current|breaking)\s+(news|headlines|stock|stocks|price of)\b`), "current events are out of scope"},
}

// IsGreeting 报告查询是否命中固定问候模式。
// 验证闸门用同一个匹配器独立复核，绝不只信任规划器的标签。
func IsGreeting(query string) bool {
	q := strings.TrimSpace(query)
	if q == "" {
		return false
	}
	for _, p := range greetingPatterns {
		if p.MatchString(q) {
			return true
		}
	}
	return false
}

// matchOutOfScope 报告查询是否命中固定超纲模式，并返回原因。
// 调用方必须先检查 IsGreeting，保证两个快路径互斥。
func matchOutOfScope(query string) (string, bool) {
	q := strings.TrimSpace(query)
	for _, entry := range outOfScopePatterns {
		if entry.pattern.MatchString(q) {
			return entry.reason, true
		}
	}
	return "", false
}
