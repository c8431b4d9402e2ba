package config

import "time"

// Config is the top-level configuration for the sentinel agent runtime.
// Trimmed from the teacher's multi-channel-gateway Config down to the
// sections a single-process agent loop actually needs: no gateway,
// channels, marketplace, or plugin blocks — those are the distillation's
// channel-integration surface, out of this spec's scope.
type Config struct {
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	LLM           LLMConfig           `yaml:"llm"`
	Database      DatabaseConfig      `yaml:"database"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Tools         ToolsConfig         `yaml:"tools"`
	VectorMemory  VectorMemoryConfig  `yaml:"vector_memory"`
}

// WorkspaceConfig points at the on-disk files the agent reads for its
// system prompt, tool manifest, and long-term-memory snapshot.
type WorkspaceConfig struct {
	Path       string `yaml:"path"`
	AgentsFile string `yaml:"agents_file"`
	ToolsFile  string `yaml:"tools_file"`
	MemoryFile string `yaml:"memory_file"`
}

// DatabaseConfig configures the optional shared-store persistence backend
// (Postgres, via lib/pq) for sessions and long-term memory. When URL is
// empty, both fall back to local SQLite/JSON-snapshot persistence.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SandboxConfig is the YAML-facing mirror of internal/sandbox.Config.
type SandboxConfig struct {
	Enabled          bool          `yaml:"enabled"`
	MaxMemoryBytes   uint32        `yaml:"max_memory_bytes"`
	MaxFuel          uint64        `yaml:"max_fuel"`
	WallClockTimeout time.Duration `yaml:"wall_clock_timeout"`
	Capabilities     []string      `yaml:"capabilities"`
	FileReadPaths    []string      `yaml:"file_read_paths"`
	FileWritePaths   []string      `yaml:"file_write_paths"`
	NetworkHosts     []string      `yaml:"network_hosts"`
	EnvironmentKeys  []string      `yaml:"environment_keys"`
}

// ScheduleConfig is the YAML-facing mirror of internal/cron.Config, used
// when the CLI's --every/--cron flags aren't passed but a config file
// wants to pin a recurring task instead.
type ScheduleConfig struct {
	Cron     string        `yaml:"cron"`
	Every    time.Duration `yaml:"every"`
	At       string        `yaml:"at"`
	Timezone string        `yaml:"timezone"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig maps to internal/observability's Metrics and Tracer.
type ObservabilityConfig struct {
	MetricsPort  int     `yaml:"metrics_port"`
	OTELExporter string  `yaml:"otel_exporter"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// ToolsConfig gates which registered tools an agent may call, on top of
// the Guardian's per-call risk decision — a deployment that never wants
// an agent touching the sandbox tool, say, sets this instead of relying
// on RequestApproval to catch it every time. Maps onto
// internal/tools/policy.Policy (Profile/Allow/Deny), resolved once in
// cmd/sentinel's buildRuntime.
type ToolsConfig struct {
	// Profile is one of "minimal", "coding", "messaging", "full" (see
	// policy.Profile). Empty means no profile default, allow/deny still
	// apply.
	Profile string   `yaml:"profile"`
	Allow   []string `yaml:"allow"`
	Deny    []string `yaml:"deny"`
}

// VectorMemoryConfig is the YAML-facing mirror of internal/memory.Config:
// an optional semantic-search augmentation over the mandatory, substring-
// matched LongTermMemory (spec §4.4). Disabled by default — when enabled,
// cmd/sentinel builds an internal/memory.Manager from this and registers
// the recall_memory tool so the agent can index and semantically search
// facts/notes beyond exact substring matches.
type VectorMemoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Backend   string `yaml:"backend"` // sqlite-vec, pgvector, lancedb
	Dimension int    `yaml:"dimension"`

	SQLiteVecPath string `yaml:"sqlite_vec_path"`
	PgvectorDSN   string `yaml:"pgvector_dsn"`
	LanceDBPath   string `yaml:"lancedb_path"`

	Embeddings VectorMemoryEmbeddingsConfig `yaml:"embeddings"`
}

// VectorMemoryEmbeddingsConfig mirrors internal/memory.EmbeddingsConfig.
type VectorMemoryEmbeddingsConfig struct {
	Provider  string `yaml:"provider"` // openai, ollama
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	OllamaURL string `yaml:"ollama_url"`
}

// Load reads and decodes the config file at path, resolving $include
// directives and environment variable expansion via LoadRaw.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	return decodeRawConfig(raw)
}

// Default returns the zero-value-filled defaults used when no config file
// is given (e.g. a bare `sentinel` invocation relying entirely on flags and
// environment variables).
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Path:       ".",
			AgentsFile: "AGENTS.md",
			ToolsFile:  "tools.yaml",
			MemoryFile: "memory.json",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}
