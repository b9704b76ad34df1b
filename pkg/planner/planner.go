package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/grafana/grafana-plugin-sdk-go/backend/log"

	"github.com/sabio/ops-chat-gateway/pkg/metrics"
)

// Plan sources recorded in metrics and logs
const (
	SourceModel     = "model"
	SourceHeuristic = "heuristic"
)

// Classifier asks a language model to route a question
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// Overrides are caller-supplied parameters that always win over the plan
type Overrides struct {
	DateFrom *string
	DateTo   *string
	TZ       *string
}

// Planner turns a question into a Plan, using the model when it can and the
// keyword heuristic otherwise.
type Planner struct {
	classifier Classifier
	systemHint string
	logger     log.Logger
}

// New creates a planner. classifier may be nil, in which case every plan
// comes from the heuristic.
func New(classifier Classifier, systemHint string, logger log.Logger) *Planner {
	return &Planner{
		classifier: classifier,
		systemHint: systemHint,
		logger:     logger,
	}
}

// Plan always returns a plan with at least one endpoint
func (p *Planner) Plan(ctx context.Context, text string, o Overrides) Plan {
	raw := p.classify(ctx, text)

	plan, source := ParseOrFallback(raw, text)
	metrics.PlanSource.WithLabelValues(source).Inc()

	applyOverrides(&plan, o)

	if _, ok := plan.Params[ParamService]; !ok {
		if svc, ok := guessService(text); ok {
			plan.Params[ParamService] = svc
		}
	}

	p.logger.Info("Route planned", "intent", plan.Intent, "endpoints", plan.Endpoints, "params", plan.Params, "source", source)
	return plan
}

func (p *Planner) classify(ctx context.Context, text string) string {
	if p.classifier == nil {
		return ""
	}

	out, err := p.classifier.Classify(ctx, BuildRoutingPrompt(p.systemHint, text))
	if err != nil {
		p.logger.Warn("Planner request failed, using heuristic", "error", err)
		return ""
	}
	return out
}

// ParseOrFallback decodes the model output. Unparsable output or an empty
// endpoint list is replaced wholesale by the heuristic plan. A missing
// service is filled from the keyword table either way.
func ParseOrFallback(raw, text string) (Plan, string) {
	plan, err := parsePlan(raw)
	source := SourceModel
	if err != nil || len(plan.Endpoints) == 0 {
		plan = HeuristicPlan(text)
		source = SourceHeuristic
	}

	if _, ok := plan.Params[ParamService]; !ok {
		if svc, ok := InferService(text); ok {
			plan.Params[ParamService] = svc
		}
	}

	return plan, source
}

type rawPlan struct {
	Intent    string                 `json:"intent"`
	Endpoints []string               `json:"endpoints"`
	Params    map[string]interface{} `json:"params"`
}

func parsePlan(raw string) (Plan, error) {
	body := stripFence(raw)
	if body == "" {
		return Plan{}, fmt.Errorf("empty model output")
	}

	var rp rawPlan
	if err := json.Unmarshal([]byte(body), &rp); err != nil {
		return Plan{}, fmt.Errorf("decoding plan: %w", err)
	}

	plan := Plan{
		Intent:    rp.Intent,
		Endpoints: make([]string, 0, len(rp.Endpoints)),
		Params:    make(map[string]string, len(rp.Params)),
	}
	for _, ep := range rp.Endpoints {
		if ep = strings.TrimSpace(ep); ep != "" {
			plan.Endpoints = append(plan.Endpoints, ep)
		}
	}
	for k, v := range rp.Params {
		switch val := v.(type) {
		case string:
			plan.Params[k] = val
		case float64, bool:
			plan.Params[k] = fmt.Sprint(val)
		}
	}

	return plan, nil
}

// stripFence removes a markdown code fence some models wrap JSON in
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func applyOverrides(plan *Plan, o Overrides) {
	if o.DateFrom != nil {
		plan.Params[ParamDateFrom] = *o.DateFrom
	}
	if o.DateTo != nil {
		plan.Params[ParamDateTo] = *o.DateTo
	}
	if o.TZ != nil {
		plan.Params[ParamTZ] = *o.TZ
	}
}
