package engine

import (
	"fmt"
	"strings"

	"github.com/papersift/llm-engine/pkg/paper"
)

// buildFilterPrompt renders the criteria plus the batch's papers into one
// prompt. The reply format is restated even though structured output mode
// already constrains it; models follow the schema more reliably with both.
func buildFilterPrompt(criteria string, papers []paper.Paper) string {
	var sb strings.Builder
	sb.WriteString(criteria)
	sb.WriteString("\n\nEvaluate each of the following papers against the criteria above.\n")
	sb.WriteString("Reply with a JSON array containing exactly one object per paper: ")
	sb.WriteString(`{"id": <paper id>, "decision": <true|false>, "reasoning": <one sentence>}.`)
	sb.WriteString("\n\nPapers:\n")

	for _, p := range papers {
		fmt.Fprintf(&sb, "\n[%s] %s", p.ID, p.Title)
		if p.Year > 0 {
			fmt.Fprintf(&sb, " (%d)", p.Year)
		}
		if len(p.Authors) > 0 {
			fmt.Fprintf(&sb, "\nAuthors: %s", strings.Join(p.Authors, ", "))
		}
		if p.Abstract != "" {
			fmt.Fprintf(&sb, "\nAbstract: %s", p.Abstract)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// repairPrompt asks the model to re-emit a reply that failed decoding.
func repairPrompt(criteria string, papers []paper.Paper, ids []string) string {
	var sb strings.Builder
	sb.WriteString(buildFilterPrompt(criteria, papers))
	sb.WriteString("\nYour previous reply could not be parsed. ")
	fmt.Fprintf(&sb, "Return ONLY the JSON array, no prose, covering exactly these ids: %s.\n",
		strings.Join(ids, ", "))
	return sb.String()
}
