package intent

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/ecoreturns/internal/engine"
)

const systemPromptTemplate = `You are the request router of a product-return assistant. Read the customer's message (usually in Spanish) and pick exactly one capability. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Capabilities:
- "check_eligibility": the customer asks whether a specific product can still be returned
- "generate_label": the customer wants a return label or shipping label
- "policy_answer": the customer asks about return periods, conditions or exceptions
- "knowledge_answer": any other question about products, quality checks or support

Rules:
- Copy product ids (PROD...) and customer ids (CLI...) exactly as written.
- Convert any purchase date to YYYY-MM-DD. Relative dates are relative to today.
- Leave a field empty when the message does not contain it. Never invent ids.`

// BuildPrompt constructs the chat messages for intent extraction.
func BuildPrompt(query string, capabilities []string, now time.Time) []engine.Message {
	var sb strings.Builder
	sb.WriteString(systemPromptTemplate)
	fmt.Fprintf(&sb, "\n\nAllowed capabilities: %s\nToday is %s.", strings.Join(capabilities, ", "), now.Format("2006-01-02"))

	return []engine.Message{
		{Role: engine.RoleSystem, Content: sb.String()},
		{Role: engine.RoleUser, Content: query},
	}
}
