package settings

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults used when a value is not configured
const (
	DefaultModel          = "gpt-4o-mini"
	DefaultOpenAIBaseURL  = "https://api.openai.com/v1"
	DefaultSystemPrompt   = "You are an MCP intent router for the IT operations team."
	DefaultResponsePrompt = "You are an assistant for the IT operations team. Summarize and explain monitoring data clearly to the user."
	DefaultPort           = 8080

	DefaultModelTimeout      = 60 * time.Second
	DefaultFetchTimeout      = 15 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultRetryBackoff      = 250 * time.Millisecond

	DefaultRateLimitRPS   = 5.0
	DefaultRateLimitBurst = 10
)

// Settings holds the gateway configuration. It is built once at process start
// and handed to every component that needs it.
type Settings struct {
	OpenAIAPIKey   string `json:"openai_api_key" mapstructure:"openai_api_key"`
	OpenAIBaseURL  string `json:"openai_base_url" mapstructure:"openai_base_url"`
	Model          string `json:"model" mapstructure:"model"`
	SystemPrompt   string `json:"system_prompt" mapstructure:"system_prompt"`
	ResponsePrompt string `json:"response_prompt" mapstructure:"response_prompt"`

	// AdapterBaseURL is where the monitoring adapters are reached. Empty means
	// the gateway's own address.
	AdapterBaseURL string `json:"adapter_base_url" mapstructure:"adapter_base_url"`

	HTTPProxy  string `json:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy string `json:"https_proxy" mapstructure:"https_proxy"`
	ForceHTTP1 bool   `json:"force_http1" mapstructure:"force_http1"`

	Port           int     `json:"port" mapstructure:"port"`
	RateLimitRPS   float64 `json:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst" mapstructure:"rate_limit_burst"`

	ModelTimeout      time.Duration `json:"-" mapstructure:"model_timeout"`
	FetchTimeout      time.Duration `json:"-" mapstructure:"fetch_timeout"`
	HeartbeatInterval time.Duration `json:"-" mapstructure:"heartbeat_interval"`
	RetryBackoff      time.Duration `json:"-" mapstructure:"retry_backoff"`
}

// Defaults returns settings populated with the default values
func Defaults() *Settings {
	return &Settings{
		OpenAIBaseURL:     DefaultOpenAIBaseURL,
		Model:             DefaultModel,
		SystemPrompt:      DefaultSystemPrompt,
		ResponsePrompt:    DefaultResponsePrompt,
		Port:              DefaultPort,
		RateLimitRPS:      DefaultRateLimitRPS,
		RateLimitBurst:    DefaultRateLimitBurst,
		ModelTimeout:      DefaultModelTimeout,
		FetchTimeout:      DefaultFetchTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		RetryBackoff:      DefaultRetryBackoff,
	}
}

// LoadSettings loads plugin settings from the instance JSON data
func LoadSettings(jsonData []byte) (*Settings, error) {
	settings := Defaults()

	if len(jsonData) == 0 {
		return settings, nil
	}

	if err := json.Unmarshal(jsonData, settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	settings.fillEmpty()
	return settings, nil
}

// ApplySecrets overrides credentials with decrypted secure values
func (s *Settings) ApplySecrets(secrets map[string]string) {
	if secrets == nil {
		return
	}
	if key := secrets["openai_api_key"]; key != "" {
		s.OpenAIAPIKey = key
	}
}

// fillEmpty restores defaults for values an operator blanked out
func (s *Settings) fillEmpty() {
	d := Defaults()
	if strings.TrimSpace(s.Model) == "" {
		s.Model = d.Model
	}
	if strings.TrimSpace(s.OpenAIBaseURL) == "" {
		s.OpenAIBaseURL = d.OpenAIBaseURL
	}
	if strings.TrimSpace(s.SystemPrompt) == "" {
		s.SystemPrompt = d.SystemPrompt
	}
	if strings.TrimSpace(s.ResponsePrompt) == "" {
		s.ResponsePrompt = d.ResponsePrompt
	}
	if s.ModelTimeout <= 0 {
		s.ModelTimeout = d.ModelTimeout
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = d.FetchTimeout
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = d.HeartbeatInterval
	}
	if s.RetryBackoff <= 0 {
		s.RetryBackoff = d.RetryBackoff
	}
	if s.Port == 0 {
		s.Port = d.Port
	}
}

// Validate checks that the settings are usable
func (s *Settings) Validate() error {
	if s.Model == "" {
		return fmt.Errorf("model is required")
	}

	if err := validateURL("openai_base_url", s.OpenAIBaseURL, true); err != nil {
		return err
	}
	if err := validateURL("adapter_base_url", s.AdapterBaseURL, false); err != nil {
		return err
	}
	if err := validateURL("http_proxy", s.HTTPProxy, false); err != nil {
		return err
	}
	if err := validateURL("https_proxy", s.HTTPSProxy, false); err != nil {
		return err
	}

	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port %d is out of range", s.Port)
	}
	if s.RateLimitRPS < 0 || s.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}

	return nil
}

// HasAPIKey reports whether a model credential is configured
func (s *Settings) HasAPIKey() bool {
	return strings.TrimSpace(s.OpenAIAPIKey) != ""
}

// AdapterBase returns the adapter base URL, falling back to host when unset
func (s *Settings) AdapterBase(host string) string {
	if base := strings.TrimSpace(s.AdapterBaseURL); base != "" {
		return strings.TrimSuffix(base, "/")
	}
	if host == "" {
		host = fmt.Sprintf("127.0.0.1:%d", s.Port)
	}
	return "http://" + host
}

func validateURL(name, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}

	return nil
}
