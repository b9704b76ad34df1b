package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sabio/ops-chat-gateway/pkg/fetch"
	"github.com/sabio/ops-chat-gateway/pkg/llm"
	"github.com/sabio/ops-chat-gateway/pkg/metrics"
	"github.com/sabio/ops-chat-gateway/pkg/settings"
)

const paymentsQuestion = "What's going on with payments service logs?"

// newAdapterServer serves runtime-logs with two ERROR and one INFO line.
// When failing is set every endpoint answers 500.
func newAdapterServer(t *testing.T, failing bool) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			http.Error(w, "adapter down", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"service": %q,
			"tz": "Asia/Singapore",
			"checked_at": "2026-01-27T10:00:00+08:00",
			"logs": [
				{"ts": "t1", "level": "ERROR", "message": "card declined spike"},
				{"ts": "t2", "level": "INFO", "message": "healthy"},
				{"ts": "t3", "level": "ERROR", "message": "timeout to psp"}
			]
		}`, r.URL.Query().Get("service"))
	}))
	t.Cleanup(server.Close)
	return server
}

// fakeModel answers blocking requests with plan and streamed requests with
// stream. A non-zero status makes every request fail with that status. The
// first dropStreams streamed requests have their connection closed without
// a response.
type fakeModel struct {
	plan        string
	reply       string
	stream      string
	status      int
	dropStreams int32
	streamCalls atomic.Int32
}

func (f *fakeModel) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream   bool `json:"stream"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding model request: %v", err)
		}
		if req.Stream && f.streamCalls.Add(1) <= f.dropStreams {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer does not support hijacking")
				return
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Errorf("hijack: %v", err)
				return
			}
			_ = conn.Close()
			return
		}

		if f.status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`)
			return
		}

		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, f.stream)
			return
		}

		content := f.plan
		if len(req.Messages) > 0 && strings.HasPrefix(req.Messages[len(req.Messages)-1].Content, "Question:") {
			content = f.reply
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]interface{}{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		}
		if content == "" {
			resp["choices"] = []interface{}{}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newTestManager(t *testing.T, adapterBase, modelBase, apiKey string) *Manager {
	t.Helper()

	s := settings.Defaults()
	s.OpenAIAPIKey = apiKey
	s.OpenAIBaseURL = modelBase
	s.RetryBackoff = time.Millisecond

	upstream := resty.New().SetTimeout(2 * time.Second)
	client := llm.NewClient(s, upstream, log.DefaultLogger)
	fetcher := fetch.New(resty.New().SetTimeout(2*time.Second), log.DefaultLogger)

	return NewManager(s, client, fetcher, adapterBase, log.DefaultLogger)
}

func newModelServer(t *testing.T, model *fakeModel) string {
	t.Helper()
	server := httptest.NewServer(model.handler(t))
	t.Cleanup(server.Close)
	return server.URL + "/v1"
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()

	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("stream did not finish, got %d events", len(out))
		}
	}
}

func names(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = string(ev.Name)
	}
	return out
}

func tokens(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Name == EventToken {
			b.WriteString(ev.Data)
		}
	}
	return b.String()
}

func countEvents(events []Event, name EventName) int {
	n := 0
	for _, ev := range events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func assertSingleDone(t *testing.T, events []Event) {
	t.Helper()

	if got := countEvents(events, EventDone); got != 1 {
		t.Fatalf("done events = %d, want 1 (%v)", got, names(events))
	}
	last := events[len(events)-1]
	if last.Name != EventDone || last.Data != DoneData {
		t.Errorf("last event = %s %q, want done", last.Name, last.Data)
	}
}

func TestRunChatStreamAnswered(t *testing.T) {
	adapters := newAdapterServer(t, false)
	model := &fakeModel{
		plan: `{"intent":"logs_fetch","endpoints":["/api/runtime-logs"],"params":{}}`,
		stream: "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
			"data: not-json\n\n" +
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n" +
			"data: [DONE]\n\n",
	}
	m := newTestManager(t, adapters.URL, newModelServer(t, model), "sk-test")

	events := collect(t, m.RunChatStream(context.Background(), "req-1", ChatRequest{Text: paymentsQuestion}))

	want := []string{"received", "llm_start", "route_planned", "fetch_progress", "fetch_progress", "joined", "llm_start", "token", "token", "done"}
	if strings.Join(names(events), ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", names(events), want)
	}
	assertSingleDone(t, events)

	for _, ev := range events {
		if ev.ID != "req-1" {
			t.Errorf("%s has id %q, want req-1", ev.Name, ev.ID)
		}
	}

	if events[0].Data != paymentsQuestion {
		t.Errorf("received data = %q", events[0].Data)
	}
	if events[1].Data != StagePlan || events[6].Data != StageAnswer {
		t.Errorf("llm_start stages = %q, %q", events[1].Data, events[6].Data)
	}

	var plan struct {
		Endpoints []string          `json:"endpoints"`
		Params    map[string]string `json:"params"`
	}
	if err := json.Unmarshal([]byte(events[2].Data), &plan); err != nil {
		t.Fatalf("route_planned is not JSON: %v", err)
	}
	if plan.Params["service"] != "payments" {
		t.Errorf("service = %q, want payments", plan.Params["service"])
	}

	if events[3].Data != `{"endpoint":"/api/runtime-logs","status":"start"}` {
		t.Errorf("first progress = %s", events[3].Data)
	}
	if events[4].Data != `{"endpoint":"/api/runtime-logs","status":"ok"}` {
		t.Errorf("second progress = %s", events[4].Data)
	}
	if !strings.Contains(events[5].Data, `"service": "payments"`) {
		t.Errorf("joined data missing adapter payload: %s", events[5].Data)
	}

	if got := tokens(events); got != "Hello" {
		t.Errorf("tokens = %q, want Hello", got)
	}
}

func TestRunChatStreamAllFailed(t *testing.T) {
	adapters := newAdapterServer(t, true)
	model := &fakeModel{plan: `{"intent":"x","endpoints":["/api/gitlab-ci","/api/observability"]}`}
	m := newTestManager(t, adapters.URL, newModelServer(t, model), "sk-test")

	events := collect(t, m.RunChatStream(context.Background(), "req-2", ChatRequest{Text: "how are things"}))

	assertSingleDone(t, events)
	if got := countEvents(events, EventToken); got != 1 {
		t.Fatalf("token events = %d, want 1", got)
	}
	if got := countEvents(events, EventLLMStart); got != 1 {
		t.Errorf("llm_start events = %d, want only the planning one", got)
	}
	if model.streamCalls.Load() != 0 {
		t.Error("model was asked to answer although every fetch failed")
	}

	token := tokens(events)
	if !strings.HasPrefix(token, "(fetch error) fetch /api/gitlab-ci failed 500") {
		t.Errorf("token = %q", token)
	}
	if !strings.HasSuffix(token, "\n"+FETCH_FAILED_HINT) {
		t.Errorf("token missing hint: %q", token)
	}
}

func TestRunChatStreamTransportFallback(t *testing.T) {
	adapters := newAdapterServer(t, false)
	m := newTestManager(t, adapters.URL, "http://127.0.0.1:1/v1", "sk-test")

	events := collect(t, m.RunChatStream(context.Background(), "req-3", ChatRequest{Text: paymentsQuestion}))

	assertSingleDone(t, events)

	out := tokens(events)
	for _, want := range []string{
		"Runtime logs (service=payments, tz=Asia/Singapore) - checked_at=2026-01-27T10:00:00+08:00\n",
		"• ERROR: 2\n",
		"• INFO: 1\n",
		"[t1] ERROR: card declined spike\n",
		"[t2] INFO: healthy\n",
		"[t3] ERROR: timeout to psp\n",
		"\n(note) LLM formatting skipped: ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("fallback output missing %q\n%s", want, out)
		}
	}
}

func TestRunChatStreamRetriesSendOnce(t *testing.T) {
	tests := []struct {
		name         string
		dropStreams  int32
		wantTokens   string
		wantFallback bool
	}{
		{
			name:        "retry succeeds",
			dropStreams: 1,
			wantTokens:  "hello",
		},
		{
			name:         "retry fails",
			dropStreams:  100,
			wantFallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapters := newAdapterServer(t, false)
			model := &fakeModel{
				plan:        `{"intent":"logs_fetch","endpoints":["/api/runtime-logs"],"params":{}}`,
				stream:      "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hello\"}}]}\n\ndata: [DONE]\n\n",
				dropStreams: tt.dropStreams,
			}
			m := newTestManager(t, adapters.URL, newModelServer(t, model), "sk-test")
			retriesBefore := testutil.ToFloat64(metrics.UpstreamRetries)

			events := collect(t, m.RunChatStream(context.Background(), "req-retry", ChatRequest{Text: paymentsQuestion}))

			assertSingleDone(t, events)
			if got := model.streamCalls.Load(); got != 2 {
				t.Errorf("stream attempts = %d, want 2", got)
			}
			if got := testutil.ToFloat64(metrics.UpstreamRetries) - retriesBefore; got != 1 {
				t.Errorf("upstream retries = %v, want 1", got)
			}

			out := tokens(events)
			if !tt.wantFallback {
				if out != tt.wantTokens {
					t.Errorf("tokens = %q, want %q", out, tt.wantTokens)
				}
				tail := names(events)[len(events)-3:]
				if strings.Join(tail, ",") != "llm_start,token,done" {
					t.Errorf("last events = %v", tail)
				}
				return
			}

			for _, want := range []string{"• ERROR: 2\n", "[t3] ERROR: timeout to psp\n", "\n(note) LLM formatting skipped: "} {
				if !strings.Contains(out, want) {
					t.Errorf("fallback output missing %q\n%s", want, out)
				}
			}
		})
	}
}

func TestRunChatStreamProviderFallback(t *testing.T) {
	adapters := newAdapterServer(t, false)
	model := &fakeModel{status: http.StatusUnauthorized}
	m := newTestManager(t, adapters.URL, newModelServer(t, model), "sk-bad")

	events := collect(t, m.RunChatStream(context.Background(), "req-4", ChatRequest{Text: paymentsQuestion}))

	assertSingleDone(t, events)
	if model.streamCalls.Load() != 1 {
		t.Errorf("stream calls = %d, provider errors must not be retried", model.streamCalls.Load())
	}

	out := tokens(events)
	if !strings.Contains(out, "• ERROR: 2\n") {
		t.Errorf("fallback summary missing counts:\n%s", out)
	}
	if !strings.HasSuffix(out, "(note) OpenAI error: Incorrect API key (type=invalid_request_error, code=invalid_api_key)\n") {
		t.Errorf("fallback note = %q", out)
	}
}

func TestRunChatStreamMissingKey(t *testing.T) {
	adapters := newAdapterServer(t, false)
	model := &fakeModel{}
	m := newTestManager(t, adapters.URL, newModelServer(t, model), "")

	events := collect(t, m.RunChatStream(context.Background(), "req-5", ChatRequest{Text: paymentsQuestion}))

	assertSingleDone(t, events)
	if model.streamCalls.Load() != 0 {
		t.Error("model called without an API key")
	}
	if !strings.HasSuffix(tokens(events), "(note) missing OpenAI API key\n") {
		t.Errorf("tokens = %q", tokens(events))
	}
}

func TestRunChatStreamCanceled(t *testing.T) {
	adapters := newAdapterServer(t, false)
	m := newTestManager(t, adapters.URL, "http://127.0.0.1:1/v1", "")

	ctx, cancel := context.WithCancel(context.Background())
	events := m.RunChatStream(ctx, "req-6", ChatRequest{Text: paymentsQuestion})

	first := <-events
	if first.Name != EventReceived {
		t.Fatalf("first event = %s", first.Name)
	}
	cancel()

	select {
	case <-drain(events):
	case <-time.After(5 * time.Second):
		t.Fatal("producer kept running after cancellation")
	}
}

func drain(events <-chan Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range events {
		}
		close(done)
	}()
	return done
}

func TestRunChatMissingKeySkipsFetch(t *testing.T) {
	var hits atomic.Int32
	adapters := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{}`)
	}))
	t.Cleanup(adapters.Close)

	m := newTestManager(t, adapters.URL, newModelServer(t, &fakeModel{}), "")

	_, err := m.RunChat(context.Background(), ChatRequest{Text: paymentsQuestion})
	if !errors.Is(err, llm.ErrMissingAPIKey) {
		t.Fatalf("error = %v, want %v", err, llm.ErrMissingAPIKey)
	}
	if got := hits.Load(); got != 0 {
		t.Errorf("adapter requests = %d, want 0", got)
	}
}

func TestRunChat(t *testing.T) {
	adapters := newAdapterServer(t, false)

	tests := []struct {
		name     string
		model    *fakeModel
		apiKey   string
		text     string
		want     string
		wantErr  error
		wantProv bool
	}{
		{
			name:   "answered",
			model:  &fakeModel{plan: `{"intent":"logs_fetch","endpoints":["/api/runtime-logs"]}`, reply: "payments is noisy"},
			apiKey: "sk-test",
			text:   paymentsQuestion,
			want:   "payments is noisy",
		},
		{
			name:   "no choices",
			model:  &fakeModel{plan: `{"intent":"logs_fetch","endpoints":["/api/runtime-logs"]}`},
			apiKey: "sk-test",
			text:   paymentsQuestion,
			want:   NO_CONTENT_REPLY,
		},
		{
			name:    "empty text",
			model:   &fakeModel{},
			apiKey:  "sk-test",
			text:    "   ",
			wantErr: ErrEmptyText,
		},
		{
			name:    "missing key",
			model:   &fakeModel{},
			text:    paymentsQuestion,
			wantErr: llm.ErrMissingAPIKey,
		},
		{
			name:     "provider error",
			model:    &fakeModel{status: http.StatusUnauthorized},
			apiKey:   "sk-bad",
			text:     paymentsQuestion,
			wantProv: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, adapters.URL, newModelServer(t, tt.model), tt.apiKey)

			got, err := m.RunChat(context.Background(), ChatRequest{Text: tt.text})

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
			case tt.wantProv:
				var providerErr *llm.ProviderError
				if !errors.As(err, &providerErr) {
					t.Fatalf("error = %v, want *llm.ProviderError", err)
				}
				if providerErr.StatusCode != http.StatusUnauthorized {
					t.Errorf("StatusCode = %d", providerErr.StatusCode)
				}
			default:
				if err != nil {
					t.Fatalf("RunChat() error = %v", err)
				}
				if got != tt.want {
					t.Errorf("RunChat() = %q, want %q", got, tt.want)
				}
			}
		})
	}
}
