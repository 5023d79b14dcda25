package memory

import (
	"strings"
)

const summaryPrompt = `你是一个对话记忆整理助手。下面给出已有的长期记忆摘要和一段更早的对话。
请把这段对话中值得长期记住的信息（人物、偏好、事件、承诺）合并进摘要，
输出新的摘要正文，不超过300字，不要输出任何解释。`

const reflectionPrompt = `你是一个善于观察的陪伴型角色。阅读下面最近的几轮对话，
总结一条关于对方的洞察（情绪、需求或关系变化），用一到两句话表达，不要输出任何解释。`

func summaryQuery(current string, evicted Turn) string {
	var b strings.Builder
	b.WriteString("已有摘要：\n")
	if strings.TrimSpace(current) == "" {
		b.WriteString("（无）")
	} else {
		b.WriteString(current)
	}
	b.WriteString("\n\n更早的对话：\n")
	b.WriteString(evicted.Line())
	return b.String()
}

func reflectionQuery(recent []Turn) string {
	lines := make([]string, 0, len(recent))
	for _, t := range recent {
		lines = append(lines, t.Line())
	}
	return strings.Join(lines, "\n")
}

// composeLong renders the long-term history block handed to the prompt.
func composeLong(rec LongTerm, relevant []Turn) string {
	var parts []string
	if s := strings.TrimSpace(rec.Summary); s != "" {
		parts = append(parts, "摘要："+s)
	}
	if r := strings.TrimSpace(rec.Reflection); r != "" {
		parts = append(parts, "洞察："+r)
	}
	if len(relevant) > 0 {
		lines := make([]string, 0, len(relevant))
		for _, t := range relevant {
			lines = append(lines, t.Line())
		}
		parts = append(parts, "相关回忆：\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n")
}
