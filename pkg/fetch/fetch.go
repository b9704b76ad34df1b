package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"

	"github.com/sabio/ops-chat-gateway/pkg/adapters"
	"github.com/sabio/ops-chat-gateway/pkg/metrics"
)

// Fetch progress states
const (
	StatusStart = "start"
	StatusOK    = "ok"
	StatusError = "error"

	// OtherEndpointLabel is the metric label for endpoints outside the catalog
	OtherEndpointLabel = "other"
)

// Entry is the outcome of fetching one endpoint. Failed fetches carry
// {"error": "<message>"} as data and the same message in Err.
type Entry struct {
	Endpoint string          `json:"endpoint"`
	Data     json.RawMessage `json:"data"`
	Err      string          `json:"-"`
}

// Failed reports whether the fetch for this entry failed
func (e Entry) Failed() bool {
	return e.Err != ""
}

// JoinedResult holds one entry per planned endpoint, in plan order
type JoinedResult struct {
	Results []Entry `json:"results"`
}

// AllFailed reports whether every entry carries an error
func (j JoinedResult) AllFailed() bool {
	if len(j.Results) == 0 {
		return false
	}
	for _, e := range j.Results {
		if !e.Failed() {
			return false
		}
	}
	return true
}

// FirstError returns the first error message, or "unknown error"
func (j JoinedResult) FirstError() string {
	for _, e := range j.Results {
		if e.Failed() {
			return e.Err
		}
	}
	return "unknown error"
}

// Pretty renders the joined result as indented JSON
func (j JoinedResult) Pretty() string {
	out, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}

// Orchestrator fetches adapter endpoints one after another
type Orchestrator struct {
	client *resty.Client
	logger log.Logger
}

// New creates an orchestrator on top of the internal (no proxy) client
func New(client *resty.Client, logger log.Logger) *Orchestrator {
	return &Orchestrator{
		client: client,
		logger: logger,
	}
}

// FetchOne issues GET <base><endpoint>?<params> and returns the JSON body
func (o *Orchestrator) FetchOne(ctx context.Context, base, endpoint string, params map[string]string) (json.RawMessage, error) {
	req := o.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")
	if len(params) > 0 {
		req.SetQueryParams(params)
	}

	resp, err := req.Get(strings.TrimSuffix(base, "/") + endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch %s failed: %w", endpoint, err)
	}

	body := bytes.TrimSpace(resp.Body())
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		o.logger.Error("Adapter fetch failed", "endpoint", endpoint, "status", resp.StatusCode(), "body", string(body))
		return nil, fmt.Errorf("fetch %s failed %s: %s", endpoint, resp.Status(), string(body))
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("fetch %s returned invalid JSON", endpoint)
	}

	return json.RawMessage(body), nil
}

// Fetch runs FetchOne and folds a failure into an error-tagged entry
func (o *Orchestrator) Fetch(ctx context.Context, base, endpoint string, params map[string]string) Entry {
	label := endpointLabel(endpoint)

	start := time.Now()
	data, err := o.FetchOne(ctx, base, endpoint, params)
	metrics.AdapterFetchDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AdapterFetches.WithLabelValues(label, StatusError).Inc()
		return ErrorEntry(endpoint, err.Error())
	}

	metrics.AdapterFetches.WithLabelValues(label, StatusOK).Inc()
	return Entry{Endpoint: endpoint, Data: data}
}

// endpointLabel bounds metric cardinality: planned endpoints come from the
// model, so paths outside the catalog share one label.
func endpointLabel(endpoint string) string {
	if adapters.Known(endpoint) {
		return endpoint
	}
	return OtherEndpointLabel
}

// Join fetches every endpoint in order. One failure never stops the rest.
func (o *Orchestrator) Join(ctx context.Context, base string, endpoints []string, params map[string]string) JoinedResult {
	joined := JoinedResult{Results: make([]Entry, 0, len(endpoints))}
	for _, ep := range endpoints {
		joined.Results = append(joined.Results, o.Fetch(ctx, base, ep, params))
	}
	return joined
}

// ErrorEntry builds the error-tagged entry for a failed endpoint
func ErrorEntry(endpoint, message string) Entry {
	data, _ := json.Marshal(map[string]string{"error": message})
	return Entry{Endpoint: endpoint, Data: data, Err: message}
}
