package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/grafana/grafana-plugin-sdk-go/backend/log"

	"github.com/sabio/ops-chat-gateway/pkg/fetch"
	"github.com/sabio/ops-chat-gateway/pkg/llm"
	"github.com/sabio/ops-chat-gateway/pkg/planner"
	"github.com/sabio/ops-chat-gateway/pkg/settings"
)

// ErrEmptyText is returned when a chat request carries no question
var ErrEmptyText = errors.New("missing 'text'")

// ChatRequest is the inbound question with optional caller overrides
type ChatRequest struct {
	Text     string  `json:"text" query:"text"`
	DateFrom *string `json:"date_from,omitempty" query:"date_from"`
	DateTo   *string `json:"date_to,omitempty" query:"date_to"`
	TZ       *string `json:"tz,omitempty" query:"tz"`
}

func (r ChatRequest) overrides() planner.Overrides {
	return planner.Overrides{
		DateFrom: r.DateFrom,
		DateTo:   r.DateTo,
		TZ:       r.TZ,
	}
}

// Manager runs the plan, fetch and answer pipeline for chat requests
type Manager struct {
	planner     *planner.Planner
	fetcher     *fetch.Orchestrator
	llmClient   *llm.Client
	settings    *settings.Settings
	adapterBase string
	logger      log.Logger
}

// NewManager creates a new agent manager. Without an API key the planner
// runs on heuristics only.
func NewManager(s *settings.Settings, llmClient *llm.Client, fetcher *fetch.Orchestrator, adapterBase string, logger log.Logger) *Manager {
	var classifier planner.Classifier
	if s.HasAPIKey() {
		classifier = llmClient
	}

	return &Manager{
		planner:     planner.New(classifier, s.SystemPrompt, logger),
		fetcher:     fetcher,
		llmClient:   llmClient,
		settings:    s,
		adapterBase: strings.TrimSuffix(adapterBase, "/"),
		logger:      logger,
	}
}

// Planner exposes the route planner
func (m *Manager) Planner() *planner.Planner {
	return m.planner
}

// Fetcher exposes the fetch-join orchestrator
func (m *Manager) Fetcher() *fetch.Orchestrator {
	return m.fetcher
}

// AdapterBase returns the base URL adapters are fetched from
func (m *Manager) AdapterBase() string {
	return m.adapterBase
}

// RunChat executes a chat interaction (non-streaming)
func (m *Manager) RunChat(ctx context.Context, req ChatRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", ErrEmptyText
	}

	// Without a key there is no answer to give, so nothing is fetched
	if !m.settings.HasAPIKey() {
		return "", llm.ErrMissingAPIKey
	}

	plan := m.planner.Plan(ctx, text, req.overrides())
	joined := m.fetcher.Join(ctx, m.adapterBase, plan.Endpoints, plan.Params)

	reply, err := m.llmClient.Complete(ctx, m.settings.ResponsePrompt, planner.BuildAnswerPrompt(text, joined.Pretty()))
	if err != nil {
		return "", fmt.Errorf("OpenAI chat failed: %w", err)
	}

	if reply == "" {
		return NO_CONTENT_REPLY, nil
	}
	return reply, nil
}
