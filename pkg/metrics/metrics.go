package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ops_chat"

var (
	PlanSource = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Route plans by source (model or heuristic)",
		},
		[]string{"source"},
	)

	AdapterFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_fetches_total",
			Help:      "Adapter fetches by endpoint and outcome",
		},
		[]string{"endpoint", "status"},
	)

	AdapterFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_fetch_duration_seconds",
			Help:      "Duration of a single adapter fetch in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		},
		[]string{"endpoint"},
	)

	StreamOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_outcomes_total",
			Help:      "Completed chat streams by terminal branch",
		},
		[]string{"outcome"},
	)

	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Chat streams currently being relayed",
		},
	)

	UpstreamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Retries of the streamed completion send",
		},
	)

	SkippedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_provider_records_total",
			Help:      "Malformed provider stream records that were dropped",
		},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the inbound rate limiter",
		},
		[]string{"route"},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mcp_tool_calls_total",
			Help:      "MCP tool invocations by tool and outcome",
		},
		[]string{"tool", "status"},
	)
)

// Stream outcome label values
const (
	OutcomeAnswered          = "answered"
	OutcomeAllFailed         = "all_failed"
	OutcomeTransportFallback = "transport_fallback"
	OutcomeProviderFallback  = "provider_fallback"
	OutcomeMissingKey        = "missing_key"
	OutcomeCanceled          = "canceled"
)
