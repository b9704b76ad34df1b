package plugin

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sabio/ops-chat-gateway/pkg/adapters"
)

// NewRouter builds the HTTP surface of an instance. The same router is served
// standalone and behind Grafana resource calls.
func NewRouter(i *Instance) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(accessLog(i.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/health", i.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	chat := e.Group("/api/chat", rateLimit(i.limiter))
	chat.POST("", i.handleChat)
	chat.GET("/stream", i.handleChatStream)

	e.GET("/api/settings", i.handleGetSettings)
	e.POST("/api/settings", i.handleSaveSettings)
	e.GET("/internal/openai/ping", i.handlePing)

	adapters.Register(e)

	return e
}
