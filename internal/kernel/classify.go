// Package kernel turns natural-language tasks into runs: classification,
// profile binding, strategy ranking, and the sequential fallback engine,
// fronted by a bounded worker pool.
package kernel

import (
	"strings"
	"unicode"

	"agentos/internal/domain/run"
)

// explicitPrefixes map a leading "verb:" marker to a task kind. Checked
// before keyword matching so the operator can force a classification.
var explicitPrefixes = map[string]run.TaskKind{
	"ppt:":      run.KindPresentation,
	"slides:":   run.KindPresentation,
	"research:": run.KindResearch,
	"query:":    run.KindDataQuery,
	"sql:":      run.KindDataQuery,
	"image:":    run.KindImage,
	"auto:":     run.KindAutomation,
}

// kindKeywords is the capability catalog's matching vocabulary, English and
// Chinese. First kind whose keywords hit wins; order below is the
// disambiguation priority.
var kindKeywords = []struct {
	kind     run.TaskKind
	keywords []string
}{
	{run.KindPresentation, []string{
		"presentation", "slide", "deck", "ppt", "outline",
		"演示", "幻灯", "汇报", "复盘", "框架",
	}},
	{run.KindDataQuery, []string{
		"query", "sql", "database", "table", "metric", "dashboard",
		"查询", "数据", "报表", "指标",
	}},
	{run.KindImage, []string{
		"image", "picture", "diagram", "logo", "render",
		"图片", "图像", "海报", "配图",
	}},
	{run.KindAutomation, []string{
		"automate", "schedule", "cron", "workflow", "pipeline", "batch",
		"自动", "定时", "批量", "流程",
	}},
	{run.KindResearch, []string{
		"research", "summarize", "summary", "analyze", "investigate", "compare", "fetch",
		"研究", "调研", "总结", "摘要", "分析", "抓取",
	}},
}

// Classify derives the task kind: explicit prefix, then keyword catalog,
// then other. Unknown kinds are not an error; they route to the generalist
// strategy set.
func Classify(text string) run.TaskKind {
	trimmed := strings.TrimSpace(strings.ToLower(text))
	for prefix, kind := range explicitPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return kind
		}
	}
	for _, entry := range kindKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(trimmed, kw) {
				return entry.kind
			}
		}
	}
	return run.KindOther
}

// StripPrefix removes a recognized explicit prefix so downstream scoring
// sees only the task body.
func StripPrefix(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for prefix := range explicitPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	return trimmed
}

// DetectLanguage reports "zh" when the text is predominantly Han characters,
// otherwise "en".
func DetectLanguage(text string) string {
	han, total := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsDigit(r) {
			continue
		}
		total++
		if unicode.Is(unicode.Han, r) {
			han++
		}
	}
	if total > 0 && han*2 >= total {
		return "zh"
	}
	return "en"
}
