package ai

import (
	"fmt"
	"strings"

	"github.com/atlas-erp/advisor/backend/internal/model/persona"
)

// BuildSystemPrompt expands a persona into the full system prompt: voice,
// required response sections, and markdown formatting rules.
func BuildSystemPrompt(p persona.Persona) string {
	var b strings.Builder
	b.WriteString(p.SystemPrompt)

	if len(p.Sections) > 0 {
		b.WriteString("\n\nRESPONSE STRUCTURE:\n")
		b.WriteString("Please structure your response using the following sections: ")
		b.WriteString(strings.Join(p.Sections, ", "))
		b.WriteString(".")
	}

	b.WriteString("\n\nFORMATTING:\n")
	b.WriteString("- Use standard Markdown for all formatting (headings, lists, bold, italics, etc.).\n")
	b.WriteString("- ONLY use Markdown code blocks for actual code snippets (e.g., SQL, API payloads). Do NOT wrap the entire response in code blocks.\n")
	b.WriteString("- Use Markdown tables for structured data or statistics.\n")

	b.WriteString("\nREMEMBER:\n")
	b.WriteString(fmt.Sprintf("1. Use appropriate terminology for a %s user.\n", p.ID))
	b.WriteString("2. Provide practical examples where relevant.\n")
	b.WriteString("3. Include any necessary warnings or considerations.\n")
	b.WriteString("4. If the current query is very short or conversational (like 'ok', 'thanks'), provide a brief acknowledgement instead of a full structured response.")

	return b.String()
}
