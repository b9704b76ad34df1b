package settings

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envBindings maps settings keys to the environment variables that feed them
var envBindings = map[string][]string{
	"openai_api_key":     {"OPENAI_API_KEY"},
	"openai_base_url":    {"OPENAI_BASE_URL"},
	"model":              {"OPENAI_MODEL"},
	"system_prompt":      {"SYSTEM_PROMPT"},
	"response_prompt":    {"RESPONSE_PROMPT"},
	"adapter_base_url":   {"SELF_BASE_URL"},
	"http_proxy":         {"HTTP_PROXY", "http_proxy"},
	"https_proxy":        {"HTTPS_PROXY", "https_proxy"},
	"force_http1":        {"FORCE_HTTP1"},
	"port":               {"PORT"},
	"rate_limit_rps":     {"RATE_LIMIT_RPS"},
	"rate_limit_burst":   {"RATE_LIMIT_BURST"},
	"model_timeout":      {"MODEL_TIMEOUT"},
	"fetch_timeout":      {"FETCH_TIMEOUT"},
	"heartbeat_interval": {"HEARTBEAT_INTERVAL"},
	"retry_backoff":      {"RETRY_BACKOFF"},
}

// Load builds settings for the standalone server from defaults, an optional
// YAML config file and the environment (a .env file is honoured when present).
// Environment values take precedence over the file.
func Load(path string) (*Settings, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	s.OpenAIBaseURL = strings.TrimSuffix(s.OpenAIBaseURL, "/")
	s.fillEmpty()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return s, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", d.OpenAIBaseURL)
	v.SetDefault("model", d.Model)
	v.SetDefault("system_prompt", d.SystemPrompt)
	v.SetDefault("response_prompt", d.ResponsePrompt)
	v.SetDefault("adapter_base_url", "")
	v.SetDefault("http_proxy", "")
	v.SetDefault("https_proxy", "")
	v.SetDefault("force_http1", false)
	v.SetDefault("port", d.Port)
	v.SetDefault("rate_limit_rps", d.RateLimitRPS)
	v.SetDefault("rate_limit_burst", d.RateLimitBurst)
	v.SetDefault("model_timeout", d.ModelTimeout)
	v.SetDefault("fetch_timeout", d.FetchTimeout)
	v.SetDefault("heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("retry_backoff", d.RetryBackoff)
}
