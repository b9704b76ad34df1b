package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/labstack/echo/v4"

	"github.com/sabio/ops-chat-gateway/pkg/agent"
	"github.com/sabio/ops-chat-gateway/pkg/llm"
)

// handleChat handles non-streaming chat requests
func (i *Instance) handleChat(c echo.Context) error {
	var chatReq agent.ChatRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&chatReq); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("Invalid request body: %v", err)))
	}

	ctx := c.Request().Context()
	i.logger.Info("Chat request", "requestId", requestID(c), "text_length", len(chatReq.Text))

	reply, err := i.manager.RunChat(ctx, chatReq)
	if err != nil {
		status := chatErrorStatus(err)
		i.logger.Error("Chat failed", "requestId", requestID(c), "status", status, "error", err)
		return c.JSON(status, errorBody(chatErrorMessage(err)))
	}

	return c.JSON(http.StatusOK, ChatResponse{Reply: reply})
}

func chatErrorStatus(err error) int {
	var providerErr *llm.ProviderError
	switch {
	case errors.Is(err, agent.ErrEmptyText):
		return http.StatusBadRequest
	case errors.As(err, &providerErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func chatErrorMessage(err error) string {
	var providerErr *llm.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Message
	}
	return err.Error()
}

// handleHealth returns model and adapter reachability
func (i *Instance) handleHealth(c echo.Context) error {
	health := i.checkHealth(c.Request().Context())

	status := http.StatusOK
	if !health.Healthy() {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, health)
}

// handleGetSettings returns the chat settings view
func (i *Instance) handleGetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, UiSettings{
		Model:        i.settings.Model,
		Temperature:  0.2,
		TopP:         0.9,
		SystemPrompt: i.settings.SystemPrompt,
		Streaming:    true,
	})
}

// handleSaveSettings echoes the submitted settings. Nothing is persisted.
func (i *Instance) handleSaveSettings(c echo.Context) error {
	var ui UiSettings
	if err := c.Bind(&ui); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("Invalid settings: %v", err)))
	}
	return c.JSON(http.StatusOK, ui)
}

// handlePing previews the model list response of the provider
func (i *Instance) handlePing(c echo.Context) error {
	out, err := i.llmClient.Ping(c.Request().Context())
	if err != nil {
		i.logger.Warn("Model ping failed", "error", err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.String(http.StatusOK, out)
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

// sendError answers a resource call before an instance is available
func sendError(sender backend.CallResourceResponseSender, status int, message string) error {
	body, _ := json.Marshal(errorBody(message))
	return sender.Send(&backend.CallResourceResponse{
		Status:  status,
		Headers: map[string][]string{"Content-Type": {"application/json"}},
		Body:    body,
	})
}
