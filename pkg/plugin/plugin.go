package plugin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/grafana/grafana-plugin-sdk-go/backend/resource/httpadapter"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/sabio/ops-chat-gateway/pkg/adapters"
	"github.com/sabio/ops-chat-gateway/pkg/agent"
	"github.com/sabio/ops-chat-gateway/pkg/fetch"
	"github.com/sabio/ops-chat-gateway/pkg/httpclient"
	"github.com/sabio/ops-chat-gateway/pkg/llm"
	"github.com/sabio/ops-chat-gateway/pkg/settings"
)

const healthTimeout = 3 * time.Second

// Make sure Plugin implements required interfaces
var (
	_ backend.CallResourceHandler = (*Plugin)(nil)
	_ backend.CheckHealthHandler  = (*Plugin)(nil)
)

// Plugin is the main plugin struct that manages instances
type Plugin struct {
	mu        sync.RWMutex
	instances map[int64]*Instance
	logger    log.Logger
}

// Instance serves the chat gateway for one organization
type Instance struct {
	settings  *settings.Settings
	llmClient *llm.Client
	manager   *agent.Manager
	limiter   *rate.Limiter
	router    *echo.Echo
	resources backend.CallResourceHandler
	loopback  *http.Server
	logger    log.Logger
}

// NewPlugin creates a new Plugin
func NewPlugin() *Plugin {
	return &Plugin{
		instances: make(map[int64]*Instance),
		logger:    log.DefaultLogger,
	}
}

// NewInstance wires the clients, the pipeline and the router for one set of
// settings. Adapters are fetched from adapterBase.
func NewInstance(s *settings.Settings, adapterBase string, logger log.Logger) (*Instance, error) {
	upstream, err := httpclient.NewUpstream(s, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}
	internal := httpclient.NewInternal(s.FetchTimeout, logger)

	llmClient := llm.NewClient(s, upstream, logger)
	fetcher := fetch.New(internal, logger)

	i := &Instance{
		settings:  s,
		llmClient: llmClient,
		manager:   agent.NewManager(s, llmClient, fetcher, adapterBase, logger),
		limiter:   newLimiter(s.RateLimitRPS, s.RateLimitBurst),
		logger:    logger,
	}
	i.router = NewRouter(i)
	i.resources = httpadapter.New(i.router)

	return i, nil
}

// Router returns the HTTP router of the instance
func (i *Instance) Router() *echo.Echo {
	return i.router
}

// Manager returns the chat pipeline of the instance
func (i *Instance) Manager() *agent.Manager {
	return i.manager
}

// Dispose stops the loopback adapter listener, if any
func (i *Instance) Dispose() {
	if i.loopback == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	if err := i.loopback.Shutdown(ctx); err != nil {
		i.logger.Warn("Failed to stop adapter listener", "error", err)
	}
}

// CallResource handles HTTP requests to plugin resources
func (p *Plugin) CallResource(ctx context.Context, req *backend.CallResourceRequest, sender backend.CallResourceResponseSender) error {
	p.logger.Debug("CallResource", "path", req.Path, "method", req.Method)

	instance, err := p.getInstance(req.PluginContext)
	if err != nil {
		return sendError(sender, http.StatusInternalServerError, fmt.Sprintf("Failed to get plugin instance: %v", err))
	}

	return instance.resources.CallResource(ctx, req, sender)
}

// CheckHealth reports model and adapter reachability to Grafana
func (p *Plugin) CheckHealth(ctx context.Context, req *backend.CheckHealthRequest) (*backend.CheckHealthResult, error) {
	instance, err := p.getInstance(req.PluginContext)
	if err != nil {
		return &backend.CheckHealthResult{
			Status:  backend.HealthStatusError,
			Message: err.Error(),
		}, nil
	}

	health := instance.checkHealth(ctx)
	if !health.Healthy() {
		return &backend.CheckHealthResult{
			Status:  backend.HealthStatusError,
			Message: fmt.Sprintf("model: %s; adapters: %s", describe(health.LLMProvider), describe(health.Adapters)),
		}, nil
	}

	return &backend.CheckHealthResult{
		Status:  backend.HealthStatusOk,
		Message: fmt.Sprintf("Model %s reachable, adapters reachable", instance.settings.Model),
	}, nil
}

// Dispose stops every instance
func (p *Plugin) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, instance := range p.instances {
		instance.Dispose()
		delete(p.instances, id)
	}
}

// getInstance gets or creates an instance for the given plugin context
func (p *Plugin) getInstance(pluginCtx backend.PluginContext) (*Instance, error) {
	// Use OrgID as the instance key since this is an app plugin
	instanceID := pluginCtx.OrgID

	p.mu.RLock()
	instance, exists := p.instances[instanceID]
	p.mu.RUnlock()

	if exists {
		return instance, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if instance, exists = p.instances[instanceID]; exists {
		return instance, nil
	}

	instance, err := p.createInstance(pluginCtx)
	if err != nil {
		return nil, err
	}

	p.instances[instanceID] = instance
	return instance, nil
}

// createInstance creates a new plugin instance
func (p *Plugin) createInstance(pluginCtx backend.PluginContext) (*Instance, error) {
	p.logger.Info("Creating new plugin instance", "org_id", pluginCtx.OrgID)

	var jsonData []byte
	var decryptedSecrets map[string]string

	if pluginCtx.AppInstanceSettings != nil {
		jsonData = pluginCtx.AppInstanceSettings.JSONData
		decryptedSecrets = pluginCtx.AppInstanceSettings.DecryptedSecureJSONData
	} else if pluginCtx.DataSourceInstanceSettings != nil {
		jsonData = pluginCtx.DataSourceInstanceSettings.JSONData
		decryptedSecrets = pluginCtx.DataSourceInstanceSettings.DecryptedSecureJSONData
	}

	s, err := settings.LoadSettings(jsonData)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	s.ApplySecrets(decryptedSecrets)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	if !s.HasAPIKey() {
		p.logger.Warn("No OpenAI API key configured, answers use the fallback renderer", "org_id", pluginCtx.OrgID)
	}

	// Resource calls never reach a TCP port, so the adapters get a loopback
	// listener unless an external base URL is configured.
	if s.AdapterBaseURL != "" {
		return NewInstance(s, s.AdapterBase(""), p.logger)
	}
	return NewLoopbackInstance(s, p.logger)
}

// NewLoopbackInstance creates an instance whose adapters are served by its
// own router on an ephemeral 127.0.0.1 port. Dispose stops the listener.
func NewLoopbackInstance(s *settings.Settings, logger log.Logger) (*Instance, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to open adapter listener: %w", err)
	}
	adapterBase := "http://" + ln.Addr().String()

	instance, err := NewInstance(s, adapterBase, logger)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	instance.loopback = &http.Server{Handler: instance.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := instance.loopback.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Adapter listener stopped", "error", err)
		}
	}()
	logger.Info("Serving adapters on loopback", "base", adapterBase)

	return instance, nil
}

// checkHealth probes the model provider and one adapter
func (i *Instance) checkHealth(ctx context.Context) HealthResponse {
	resp := HealthResponse{Status: "healthy"}

	llmCtx, llmCancel := context.WithTimeout(ctx, healthTimeout)
	err := i.llmClient.CheckModel(llmCtx)
	llmCancel()
	resp.LLMProvider = componentHealth(err)

	adapterCtx, adapterCancel := context.WithTimeout(ctx, healthTimeout)
	_, err = i.manager.Fetcher().FetchOne(adapterCtx, i.manager.AdapterBase(), adapters.GitlabCI, nil)
	adapterCancel()
	resp.Adapters = componentHealth(err)

	if !resp.Healthy() {
		resp.Status = "unhealthy"
	}
	return resp
}

func componentHealth(err error) ComponentHealth {
	if err != nil {
		return ComponentHealth{OK: false, Error: err.Error()}
	}
	return ComponentHealth{OK: true}
}

func describe(h ComponentHealth) string {
	if h.OK {
		return "ok"
	}
	return h.Error
}
