package plugin

// ChatResponse is the body of a successful blocking chat call
type ChatResponse struct {
	Reply string `json:"reply"`
}

// UiSettings is the view of the chat settings shown by the frontend
type UiSettings struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	SystemPrompt string  `json:"system_prompt"`
	Streaming    bool    `json:"streaming"`
}

// ComponentHealth is the reachability of one dependency
type ComponentHealth struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HealthResponse is returned by /api/health
type HealthResponse struct {
	Status      string          `json:"status"`
	LLMProvider ComponentHealth `json:"llm_provider"`
	Adapters    ComponentHealth `json:"adapters"`
}

// Healthy reports whether every dependency answered
func (h HealthResponse) Healthy() bool {
	return h.LLMProvider.OK && h.Adapters.OK
}
