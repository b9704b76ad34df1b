package planner

import (
	"regexp"
	"strings"

	"github.com/sabio/ops-chat-gateway/pkg/adapters"
)

// Intents produced by the keyword heuristic
const (
	IntentCICD         = "ci_cd_investigation"
	IntentLogs         = "logs_fetch"
	IntentMetrics      = "metrics_check"
	IntentIncident     = "incident_review"
	IntentUserFeedback = "user_feedback_review"
	IntentGeneralOps   = "general_ops_question"
)

// Well-known plan parameters
const (
	ParamService  = "service"
	ParamDateFrom = "date_from"
	ParamDateTo   = "date_to"
	ParamTZ       = "tz"
)

// Plan describes which adapters to query and with which shared parameters
type Plan struct {
	Intent    string            `json:"intent"`
	Endpoints []string          `json:"endpoints"`
	Params    map[string]string `json:"params"`
}

func newPlan(intent string, endpoints ...string) Plan {
	return Plan{
		Intent:    intent,
		Endpoints: endpoints,
		Params:    map[string]string{},
	}
}

// ci is matched as a word so that "incident" or "decision" do not count
var ciWord = regexp.MustCompile(`\bci\b`)

var serviceKeywords = []struct {
	keyword string
	service string
}{
	{"payments", "payments"},
	{"payment", "payments"},
	{"auth-service", "auth-service"},
	{"auth", "auth-service"},
	{"orders", "orders"},
	{"order", "orders"},
	{"checkout", "checkout"},
	{"billing", "billing"},
}

var serviceSuffix = regexp.MustCompile(`([a-z0-9\-]+)\s+service`)

// HeuristicPlan maps free text onto a plan by keyword. It never fails and
// always returns at least one endpoint.
func HeuristicPlan(text string) Plan {
	t := strings.ToLower(text)

	var plan Plan
	switch {
	case ciWord.MatchString(t) || strings.Contains(t, "pipeline") || strings.Contains(t, "gitlab"):
		plan = newPlan(IntentCICD, adapters.GitlabCI)
	case containsAny(t, "log", "container", "runtime"):
		plan = newPlan(IntentLogs, adapters.RuntimeLogs)
	case containsAny(t, "metric", "error rate", "latency", "observability"):
		plan = newPlan(IntentMetrics, adapters.Observability)
	case containsAny(t, "incident", "rollback"):
		plan = newPlan(IntentIncident, adapters.IncidentMetrics, adapters.RuntimeLogs)
	case strings.Contains(t, "feedback") || (strings.Contains(t, "user") && strings.Contains(t, "report")):
		plan = newPlan(IntentUserFeedback, adapters.UserFeedback)
	default:
		plan = newPlan(IntentGeneralOps, adapters.GitlabCI, adapters.Observability)
	}

	if svc, ok := InferService(text); ok {
		plan.Params[ParamService] = svc
	}

	return plan
}

// InferService looks up a canonical service name from the keyword table
func InferService(text string) (string, bool) {
	t := strings.ToLower(text)
	for _, k := range serviceKeywords {
		if strings.Contains(t, k.keyword) {
			return k.service, true
		}
	}
	return "", false
}

// guessService extracts "<name>" from "<name> service"
func guessService(text string) (string, bool) {
	m := serviceSuffix.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return "", false
	}
	return m[1], true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
