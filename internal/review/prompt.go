package review

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/spigell/doc-reviewer/internal/utils"
)

const systemPrompt = "You are an experienced reviewer of project proposals. " +
	"You are strict, fair and concise, and you follow output format instructions exactly."

var (
	//go:embed prompts/evaluate.md
	evaluateTemplate string

	//go:embed prompts/summarize.md
	summarizeTemplate string
)

func buildEvaluatePrompt(text, filename string, maxChars int) string {
	criteria := make([]string, len(Criteria))
	for i, name := range Criteria {
		criteria[i] = fmt.Sprintf("%d. %s", i+1, name)
	}

	prompt := strings.ReplaceAll(evaluateTemplate, "{{CRITERIA}}", strings.Join(criteria, "\n"))
	return fillDocument(prompt, text, filename, maxChars)
}

func buildSummarizePrompt(text, filename string, maxChars int) string {
	return fillDocument(summarizeTemplate, text, filename, maxChars)
}

func fillDocument(template, text, filename string, maxChars int) string {
	if filename = strings.TrimSpace(filename); filename == "" {
		filename = "untitled"
	}

	document, truncated := utils.TruncateRunes(strings.TrimSpace(text), maxChars)
	note := ""
	if truncated {
		note = fmt.Sprintf("Only the first %d characters of the document are included.\n", maxChars)
	}

	prompt := strings.ReplaceAll(template, "{{FILENAME}}", filename)
	prompt = strings.ReplaceAll(prompt, "{{TRUNCATION}}", note)
	return strings.ReplaceAll(prompt, "{{DOCUMENT}}", document)
}
