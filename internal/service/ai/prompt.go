package ai

import (
	"fmt"
	"strings"

	"github.com/podc/assistant-widget/internal/model/widget"
	"github.com/podc/assistant-widget/internal/service/catalog"
)

// PromptBuilder assembles the system prompt for one question.
type PromptBuilder struct {
	instructions string
	rules        []string
}

// NewPromptBuilder creates a builder around the base instructions.
func NewPromptBuilder(instructions string) *PromptBuilder {
	return &PromptBuilder{
		instructions: strings.TrimSpace(instructions),
		rules: []string{
			"Answer in plain language a worried parent can follow; markdown lists and emphasis are allowed.",
			"Prefer the listed sources and do not invent documents or links.",
			"When a question needs a clinician, audiologist or teacher of the deaf, say so.",
			"If the sources do not cover the question, answer briefly from general knowledge and say that.",
		},
	}
}

// BuildSystemPrompt combines instructions, answering rules and the sources
// retrieved for the question.
func (b *PromptBuilder) BuildSystemPrompt(docs []catalog.Document) string {
	var builder strings.Builder
	builder.WriteString(b.instructions)

	builder.WriteString("\n\nAnswering rules:\n- ")
	builder.WriteString(strings.Join(b.rules, "\n- "))

	if len(docs) == 0 {
		builder.WriteString("\n\nNo catalogued sources matched this question.")
		return builder.String()
	}

	builder.WriteString("\n\nSources:")
	for i, doc := range docs {
		builder.WriteString(fmt.Sprintf("\n%d. %s", i+1, doc.Filename))
		if doc.Category != "" {
			builder.WriteString(fmt.Sprintf(" [%s]", doc.Category))
		}
		if doc.Version() == widget.VersionOld {
			builder.WriteString(" (older edition)")
		}
		if summary := strings.TrimSpace(doc.Summary); summary != "" {
			builder.WriteString(": ")
			builder.WriteString(summary)
		}
	}
	return builder.String()
}
