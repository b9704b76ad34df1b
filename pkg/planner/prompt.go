package planner

import (
	"fmt"
	"strings"

	"github.com/sabio/ops-chat-gateway/pkg/adapters"
)

const ROUTER_PROMPT_HEADER = `You are a router. Return ONLY a compact JSON with fields: intent (string), endpoints (array of strings), params (object).
Available endpoints:
`

const ROUTER_PROMPT_RULES = `Rules:
1) Pick 1-3 endpoints most relevant.
2) Keep 'params' small (date_from/date_to/tz/service/branch). If user mentions a component/service (e.g., "payments service"), include params.service="<name>".
3) NO prose. Return JSON only.
`

// BuildRoutingPrompt renders the classification prompt for the model
func BuildRoutingPrompt(systemHint, userText string) string {
	var b strings.Builder

	b.WriteString(ROUTER_PROMPT_HEADER)
	for _, a := range adapters.Catalog {
		fmt.Fprintf(&b, "- %-30s: %s\n", fmt.Sprintf("%q", a.Path), a.Description)
	}
	b.WriteString(ROUTER_PROMPT_RULES)

	fmt.Fprintf(&b, "\nSystem hint: %s\n\nUser: %s\n", systemHint, userText)
	return b.String()
}

// BuildAnswerPrompt renders the user message of the final answer request
func BuildAnswerPrompt(question, joined string) string {
	return fmt.Sprintf("Question: %s\n\nJoined data:\n%s", question, joined)
}
