package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/sabio/ops-chat-gateway/pkg/fallback"
	"github.com/sabio/ops-chat-gateway/pkg/fetch"
	"github.com/sabio/ops-chat-gateway/pkg/llm"
	"github.com/sabio/ops-chat-gateway/pkg/metrics"
	"github.com/sabio/ops-chat-gateway/pkg/planner"
)

var errStreamClosed = errors.New("stream consumer gone")

// RunChatStream executes a streaming chat interaction. Events are sent on an
// unbuffered channel, so the consumer sets the pace. The channel is closed
// after the done event, or as soon as ctx is canceled.
func (m *Manager) RunChatStream(ctx context.Context, id string, req ChatRequest) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		metrics.StreamsActive.Inc()
		defer metrics.StreamsActive.Dec()

		r := &relay{manager: m, ctx: ctx, id: id, out: events}
		outcome := r.run(req)
		r.emit(EventDone, DoneData)

		if ctx.Err() != nil {
			outcome = metrics.OutcomeCanceled
		}
		metrics.StreamOutcomes.WithLabelValues(outcome).Inc()
		m.logger.Info("Chat stream finished", "requestId", id, "outcome", outcome)
	}()

	return events
}

// relay holds the state of one chat stream
type relay struct {
	manager *Manager
	ctx     context.Context
	id      string
	out     chan<- Event
}

// emit sends one event, giving up when the consumer is gone
func (r *relay) emit(name EventName, data string) bool {
	select {
	case r.out <- Event{Name: name, ID: r.id, Data: data}:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *relay) emitJSON(name EventName, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("{}")
	}
	return r.emit(name, string(data))
}

func (r *relay) emitLines(lines []string) bool {
	for _, line := range lines {
		if !r.emit(EventToken, line) {
			return false
		}
	}
	return true
}

// run walks the stream from received to the answer stage and returns the
// outcome label. The caller sends done.
func (r *relay) run(req ChatRequest) string {
	m := r.manager

	if !r.emit(EventReceived, req.Text) {
		return metrics.OutcomeCanceled
	}

	if !r.emit(EventLLMStart, StagePlan) {
		return metrics.OutcomeCanceled
	}
	plan := m.planner.Plan(r.ctx, req.Text, req.overrides())
	if !r.emitJSON(EventRoutePlanned, plan) {
		return metrics.OutcomeCanceled
	}

	joined, ok := r.fetchAll(plan)
	if !ok {
		return metrics.OutcomeCanceled
	}
	if !r.emit(EventJoined, joined.Pretty()) {
		return metrics.OutcomeCanceled
	}

	if joined.AllFailed() {
		r.emit(EventToken, allFailedMessage(joined.FirstError()))
		return metrics.OutcomeAllFailed
	}

	if !m.settings.HasAPIKey() {
		m.logger.Warn("No API key configured, rendering fallback summary", "requestId", r.id)
		r.emitLines(fallback.Render(joined, llm.ErrMissingAPIKey.Error()))
		return metrics.OutcomeMissingKey
	}

	if !r.emit(EventLLMStart, StageAnswer) {
		return metrics.OutcomeCanceled
	}
	return r.answer(req.Text, joined)
}

func (r *relay) fetchAll(plan planner.Plan) (fetch.JoinedResult, bool) {
	m := r.manager
	joined := fetch.JoinedResult{Results: make([]fetch.Entry, 0, len(plan.Endpoints))}

	for _, ep := range plan.Endpoints {
		if !r.emitJSON(EventFetchProgress, fetchProgress{Endpoint: ep, Status: fetch.StatusStart}) {
			return joined, false
		}

		entry := m.fetcher.Fetch(r.ctx, m.adapterBase, ep, plan.Params)
		status := fetch.StatusOK
		if entry.Failed() {
			status = fetch.StatusError
		}
		joined.Results = append(joined.Results, entry)

		if !r.emitJSON(EventFetchProgress, fetchProgress{Endpoint: ep, Status: status}) {
			return joined, false
		}
	}

	return joined, true
}

// answer streams the model's summary of the joined data, degrading to the
// fallback renderer when the model cannot be used.
func (r *relay) answer(question string, joined fetch.JoinedResult) string {
	m := r.manager
	user := planner.BuildAnswerPrompt(question, joined.Pretty())

	body, err := r.openStream(user)
	if err != nil {
		var providerErr *llm.ProviderError
		if errors.As(err, &providerErr) {
			m.logger.Warn("Model returned an error, rendering fallback summary", "requestId", r.id, "status", providerErr.StatusCode, "error", providerErr.Message)
			r.emitLines(fallback.Render(joined, providerErr.Message))
			return metrics.OutcomeProviderFallback
		}
		if r.ctx.Err() != nil {
			return metrics.OutcomeCanceled
		}

		m.logger.Warn("Model unreachable, rendering fallback summary", "requestId", r.id, "error", err)
		r.emitLines(fallback.Render(joined, transportNote(err)))
		return metrics.OutcomeTransportFallback
	}
	defer body.Close()

	skipped, err := llm.ReadDeltas(r.ctx, body, func(token string) error {
		if !r.emit(EventToken, token) {
			return errStreamClosed
		}
		return nil
	})
	if skipped > 0 {
		metrics.SkippedRecords.Add(float64(skipped))
		m.logger.Debug("Skipped malformed stream records", "requestId", r.id, "count", skipped)
	}
	if err != nil && !errors.Is(err, errStreamClosed) && r.ctx.Err() == nil {
		m.logger.Warn("Model stream ended early", "requestId", r.id, "error", err)
	}

	return metrics.OutcomeAnswered
}

// openStream sends the streamed completion request, retrying a transport
// failure once. Provider errors are not retried.
func (r *relay) openStream(user string) (io.ReadCloser, error) {
	m := r.manager

	body, err := m.llmClient.OpenStream(r.ctx, m.settings.ResponsePrompt, user)
	if err == nil || !isTransportError(err) {
		return body, err
	}

	m.logger.Warn("Model send failed, retrying once", "requestId", r.id, "error", err, "backoff", m.settings.RetryBackoff)
	metrics.UpstreamRetries.Inc()

	timer := time.NewTimer(m.settings.RetryBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.ctx.Done():
		return nil, r.ctx.Err()
	}

	return m.llmClient.OpenStream(r.ctx, m.settings.ResponsePrompt, user)
}

func isTransportError(err error) bool {
	var providerErr *llm.ProviderError
	return !errors.As(err, &providerErr) && !errors.Is(err, llm.ErrMissingAPIKey)
}
