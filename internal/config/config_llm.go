package config

// LLMConfig selects and configures the LLM Provider port's concrete
// adapters (internal/agent/providers: Anthropic, OpenAI, Google genai).
// Trimmed from the teacher's version: Bedrock discovery and local-Ollama
// auto-discovery are dropped along with their provider adapters (see
// DESIGN.md) since nothing in this spec's scope drives them.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies "provider/model" (or bare "model", using
	// DefaultProvider) candidates to try, in order, if the primary
	// completion attempt fails. cmd/sentinel wires this into a
	// fallbackProvider backed by internal/models.RunWithModelFallback.
	FallbackChain []string `yaml:"fallback_chain"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`

	// OAuth, if set, fronts this provider behind an OAuth2 token proxy
	// instead of a static APIKey (see providers.NewOAuthHTTPClient).
	OAuth *LLMProviderOAuthConfig `yaml:"oauth,omitempty"`
}

type LLMProviderOAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
	RefreshToken string   `yaml:"refresh_token"`
}
