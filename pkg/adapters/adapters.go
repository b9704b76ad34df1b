package adapters

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Endpoint paths served by the synthetic monitoring adapters
const (
	GitlabCI          = "/api/gitlab-ci"
	RuntimeLogs       = "/api/runtime-logs"
	Observability     = "/api/observability"
	CloudMon          = "/api/cloud-mon"
	DBPerf            = "/api/db-perf"
	MobileTelemetry   = "/api/mobile-telemetry"
	SecurityAuth      = "/api/security-auth"
	IncidentMetrics   = "/api/incident-metrics"
	UserFeedback      = "/api/user-feedback"
	DataIntegrationBI = "/api/data-integration-bi"
)

const (
	defaultTZ       = "Asia/Singapore"
	defaultLogLimit = 5
	maxLogLimit     = 200
)

// Adapter describes one monitoring endpoint the planner can route to
type Adapter struct {
	Path        string
	Description string
	handler     echo.HandlerFunc
}

// Catalog lists every adapter in the order it is presented to the model
var Catalog = []Adapter{
	{Path: GitlabCI, Description: "CI/CD pipelines & jobs", handler: getGitlabCI},
	{Path: RuntimeLogs, Description: "container/runtime logs", handler: getRuntimeLogs},
	{Path: Observability, Description: "SLO, error_rate, p95 latency", handler: getObservability},
	{Path: CloudMon, Description: "cloud infra metrics", handler: getCloudMon},
	{Path: DBPerf, Description: "db query perf & locks", handler: getDBPerf},
	{Path: MobileTelemetry, Description: "mobile client telemetry", handler: getMobileTelemetry},
	{Path: SecurityAuth, Description: "auth failures, lockouts", handler: getSecurityAuth},
	{Path: IncidentMetrics, Description: "incidents, MTTR, rollback", handler: getIncidentMetrics},
	{Path: UserFeedback, Description: "NPS, CSAT, user tickets", handler: getUserFeedback},
	{Path: DataIntegrationBI, Description: "BI joins & KPIs", handler: getDataIntegrationBI},
}

// Known reports whether path is one of the catalog endpoints
func Known(path string) bool {
	for _, a := range Catalog {
		if a.Path == path {
			return true
		}
	}
	return false
}

// Register mounts every adapter on the router
func Register(e *echo.Echo) {
	for _, a := range Catalog {
		e.GET(a.Path, a.handler)
	}
	e.GET("/api/test-join", getTestJoin)
}

// Range is the shared query contract of the adapters
type Range struct {
	DateFrom *string `query:"date_from" json:"date_from"`
	DateTo   *string `query:"date_to" json:"date_to"`
	TZ       *string `query:"tz" json:"tz"`
	Service  *string `query:"service" json:"service"`
	Limit    *int    `query:"limit" json:"limit"`
}

func bindRange(c echo.Context) (Range, error) {
	var q Range
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return q, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid query: %v", err))
	}
	return q, nil
}

var gmt8 = time.FixedZone("GMT+8", 8*60*60)

// nowGMT8 is swapped out in tests
var nowGMT8 = func() time.Time {
	return time.Now().In(gmt8)
}

func checkedAt() string {
	return nowGMT8().Format(time.RFC3339Nano)
}

// LogLine is one synthetic runtime log entry
type LogLine struct {
	TS      string `json:"ts"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// RuntimeLogsResponse is the runtime-logs adapter payload
type RuntimeLogsResponse struct {
	Adapter   string    `json:"adapter"`
	Service   string    `json:"service"`
	Container string    `json:"container"`
	CheckedAt string    `json:"checked_at"`
	TZ        string    `json:"tz"`
	Logs      []LogLine `json:"logs"`
}

var logLevels = [...]string{"INFO", "DEBUG", "WARN", "ERROR", "INFO"}

func getRuntimeLogs(c echo.Context) error {
	q, err := bindRange(c)
	if err != nil {
		return err
	}

	tz := defaultTZ
	if q.TZ != nil && *q.TZ != "" {
		tz = *q.TZ
	}
	service := "unknown"
	if q.Service != nil && *q.Service != "" {
		service = *q.Service
	}
	limit := defaultLogLimit
	if q.Limit != nil {
		limit = min(max(*q.Limit, 1), maxLogLimit)
	}

	container := containerFor(service)

	logs := make([]LogLine, 0, limit)
	for i := 0; i < limit; i++ {
		logs = append(logs, LogLine{
			TS:      checkedAt(),
			Level:   logLevels[i%len(logLevels)],
			Message: fmt.Sprintf("[%s] line #%d - synthetic log line for %s (tz=%s)", service, i, container, tz),
		})
	}

	return c.JSON(http.StatusOK, RuntimeLogsResponse{
		Adapter:   "runtime_logs",
		Service:   service,
		Container: container,
		CheckedAt: checkedAt(),
		TZ:        tz,
		Logs:      logs,
	})
}

func containerFor(service string) string {
	switch service {
	case "payments", "payment":
		return "payments-service"
	case "auth", "auth-service":
		return "auth-service"
	case "orders", "order":
		return "orders-service"
	default:
		return service + "-service"
	}
}

func getGitlabCI(c echo.Context) error {
	if _, err := bindRange(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"adapter":      "gitlab_ci",
		"project":      "ticketing-backend",
		"branch":       "main",
		"status":       "success",
		"checked_at":   checkedAt(),
		"failed_tests": []string{},
	})
}

func getObservability(c echo.Context) error {
	if _, err := bindRange(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"adapter":            "observability",
		"metric":             "latency_p95",
		"service":            "orders-api",
		"window":             "last_24h",
		"avg_response_ms":    243,
		"unresolved_tickets": 7,
		"checked_at":         checkedAt(),
	})
}

func getCloudMon(c echo.Context) error {
	if _, err := bindRange(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"adapter":    "cloud_monitoring",
		"resource":   "payment-service@ecs",
		"checked_at": checkedAt(),
	})
}

func getDBPerf(c echo.Context) error {
	if _, err := bindRange(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"adapter":    "db_perf",
		"query":      "SELECT * FROM passenger_info WHERE ...",
		"checked_at": checkedAt(),
	})
}

func getMobileTelemetry(c echo.Context) error {
	if _, err := bindRange(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"adapter":    "mobile_telemetry",
		"platform":   "android",
		"checked_at": checkedAt(),
	})
}

func getSecurityAuth(c echo.Context) error {
	if _, err := bindRange(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"adapter":    "security_auth",
		"service":    "api-gateway-production",
		"event":      "failed_login",
		"error_rate": 2.35,
		"checked_at": checkedAt(),
	})
}

type releaseDuration struct {
	Release           string `json:"release"`
	StagingMinutes    int    `json:"staging_minutes"`
	ProductionMinutes int    `json:"production_minutes"`
}

func getIncidentMetrics(c echo.Context) error {
	if _, err := bindRange(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"adapter":    "incident_metrics",
		"checked_at": checkedAt(),
		"releases": []releaseDuration{
			{Release: "v1.2.3", StagingMinutes: 12, ProductionMinutes: 18},
			{Release: "v1.2.2", StagingMinutes: 15, ProductionMinutes: 20},
			{Release: "v1.2.1", StagingMinutes: 10, ProductionMinutes: 14},
		},
	})
}

func getUserFeedback(c echo.Context) error {
	if _, err := bindRange(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"adapter":    "user_feedback",
		"source":     "playstore",
		"checked_at": checkedAt(),
	})
}

func getDataIntegrationBI(c echo.Context) error {
	if _, err := bindRange(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"adapter":    "data_integration_bi",
		"pipeline":   "etl_ridership_to_bi",
		"checked_at": checkedAt(),
	})
}

// getTestJoin echoes the query contract for a fixed two-endpoint join
func getTestJoin(c echo.Context) error {
	q, err := bindRange(c)
	if err != nil {
		return err
	}

	tz := defaultTZ
	if q.TZ != nil {
		tz = *q.TZ
	}

	endpoints := []string{GitlabCI, RuntimeLogs}
	results := make([]map[string]interface{}, 0, len(endpoints))
	for _, ep := range endpoints {
		results = append(results, map[string]interface{}{
			"endpoint": ep,
			"data": map[string]interface{}{
				"ok":        true,
				"endpoint":  ep,
				"date_from": q.DateFrom,
				"date_to":   q.DateTo,
				"tz":        tz,
				"service":   q.Service,
				"limit":     q.Limit,
			},
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
}
