package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSettings(t *testing.T) {
	tests := []struct {
		name      string
		jsonData  string
		wantModel string
		wantBase  string
		wantErr   bool
	}{
		{
			name:      "empty data uses defaults",
			jsonData:  "",
			wantModel: DefaultModel,
			wantBase:  DefaultOpenAIBaseURL,
		},
		{
			name:      "custom model",
			jsonData:  `{"model":"gpt-4o","openai_base_url":"http://llm.local/v1"}`,
			wantModel: "gpt-4o",
			wantBase:  "http://llm.local/v1",
		},
		{
			name:      "blank model restored",
			jsonData:  `{"model":"  "}`,
			wantModel: DefaultModel,
			wantBase:  DefaultOpenAIBaseURL,
		},
		{
			name:     "invalid json",
			jsonData: `{"model":`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := LoadSettings([]byte(tt.jsonData))
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadSettings() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if s.Model != tt.wantModel {
				t.Errorf("Model = %q, want %q", s.Model, tt.wantModel)
			}
			if s.OpenAIBaseURL != tt.wantBase {
				t.Errorf("OpenAIBaseURL = %q, want %q", s.OpenAIBaseURL, tt.wantBase)
			}
			if s.HeartbeatInterval != DefaultHeartbeatInterval {
				t.Errorf("HeartbeatInterval = %v, want %v", s.HeartbeatInterval, DefaultHeartbeatInterval)
			}
		})
	}
}

func TestApplySecrets(t *testing.T) {
	s := Defaults()
	s.ApplySecrets(nil)
	if s.HasAPIKey() {
		t.Fatal("HasAPIKey() = true with no secrets")
	}

	s.ApplySecrets(map[string]string{"openai_api_key": "sk-test"})
	if !s.HasAPIKey() {
		t.Fatal("HasAPIKey() = false after applying secret")
	}
	if s.OpenAIAPIKey != "sk-test" {
		t.Errorf("OpenAIAPIKey = %q, want sk-test", s.OpenAIAPIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(s *Settings) {}},
		{name: "missing model", mutate: func(s *Settings) { s.Model = "" }, wantErr: true},
		{name: "relative base url", mutate: func(s *Settings) { s.OpenAIBaseURL = "/v1" }, wantErr: true},
		{name: "valid proxy", mutate: func(s *Settings) { s.HTTPSProxy = "http://proxy:3128" }},
		{name: "bad proxy", mutate: func(s *Settings) { s.HTTPProxy = "proxy" }, wantErr: true},
		{name: "bad adapter base", mutate: func(s *Settings) { s.AdapterBaseURL = "localhost" }, wantErr: true},
		{name: "port out of range", mutate: func(s *Settings) { s.Port = 70000 }, wantErr: true},
		{name: "negative rate", mutate: func(s *Settings) { s.RateLimitRPS = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAdapterBase(t *testing.T) {
	tests := []struct {
		name string
		base string
		host string
		want string
	}{
		{name: "configured", base: "http://adapters:9000/", host: "gw:8080", want: "http://adapters:9000"},
		{name: "request host", base: "", host: "gw:8080", want: "http://gw:8080"},
		{name: "loopback", base: "", host: "", want: "http://127.0.0.1:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			s.AdapterBaseURL = tt.base
			if got := s.AdapterBase(tt.host); got != tt.want {
				t.Errorf("AdapterBase() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_MODEL", "gpt-4.1-mini")
	t.Setenv("PORT", "9090")
	t.Setenv("FORCE_HTTP1", "true")
	t.Setenv("HEARTBEAT_INTERVAL", "3s")

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.OpenAIAPIKey != "sk-env" {
		t.Errorf("OpenAIAPIKey = %q, want sk-env", s.OpenAIAPIKey)
	}
	if s.Model != "gpt-4.1-mini" {
		t.Errorf("Model = %q, want gpt-4.1-mini", s.Model)
	}
	if s.Port != 9090 {
		t.Errorf("Port = %d, want 9090", s.Port)
	}
	if !s.ForceHTTP1 {
		t.Error("ForceHTTP1 = false, want true")
	}
	if s.HeartbeatInterval != 3*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 3s", s.HeartbeatInterval)
	}
	if s.FetchTimeout != DefaultFetchTimeout {
		t.Errorf("FetchTimeout = %v, want %v", s.FetchTimeout, DefaultFetchTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("SELF_BASE_URL", "")
	t.Setenv("RATE_LIMIT_BURST", "")

	path := filepath.Join(dir, "gateway.yaml")
	content := "model: gpt-4o\nadapter_base_url: http://adapters:9000\nrate_limit_burst: 3\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", s.Model)
	}
	if s.AdapterBaseURL != "http://adapters:9000" {
		t.Errorf("AdapterBaseURL = %q", s.AdapterBaseURL)
	}
	if s.RateLimitBurst != 3 {
		t.Errorf("RateLimitBurst = %d, want 3", s.RateLimitBurst)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}
