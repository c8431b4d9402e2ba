// Package main provides the CLI entry point for the sentinel agent runtime.
//
// sentinel drives a single agent loop (spec §4.1) over one LLM provider,
// with tool dispatch gated by the Safety Guardian (spec §4.3) and guest
// code execution sandboxed under wazero (spec §4.5).
//
// # Basic Usage
//
// Start an interactive session:
//
//	sentinel --config sentinel.yaml
//
// Run a single task and exit:
//
//	sentinel "summarize the open issues in this repo"
//
// Run a task on a recurring schedule:
//
//	sentinel --every 1h "check for new releases"
//	sentinel --cron "0 9 * * 1-5" "send the morning digest"
//
// # Environment Variables
//
//   - SENTINEL_CONFIG: path to the configuration file (default: sentinel.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY: provider credentials
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sentinelrun/sentinel/internal/agent"
	"github.com/sentinelrun/sentinel/internal/agent/providers"
	"github.com/sentinelrun/sentinel/internal/audit"
	"github.com/sentinelrun/sentinel/internal/config"
	"github.com/sentinelrun/sentinel/internal/cron"
	"github.com/sentinelrun/sentinel/internal/memory"
	modelcatalog "github.com/sentinelrun/sentinel/internal/models"
	"github.com/sentinelrun/sentinel/internal/observability"
	"github.com/sentinelrun/sentinel/internal/safety"
	"github.com/sentinelrun/sentinel/internal/sandbox"
	"github.com/sentinelrun/sentinel/internal/sessions"
	"github.com/sentinelrun/sentinel/internal/tools/policy"
	"github.com/sentinelrun/sentinel/pkg/models"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath   string
	providerName string
	modelName    string
	workspace    string
	everyFlag    time.Duration
	cronFlag     string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a run failure to spec §6's CLI exit codes: 0 success,
// 1 failure/cancelled, 2 config error.
func exitCodeFor(err error) int {
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}

type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sentinel [task]",
		Short: "sentinel - a sandboxed, audited agentic task runner",
		Long: `sentinel drives an LLM agent loop with tool-call dispatch gated by a
safety guardian and a capability-limited WASM sandbox for guest code.

With no task argument, sentinel starts an interactive REPL. With a task
argument, it runs that task once (or repeatedly, with --every/--cron) and
exits.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		Args:         cobra.MaximumNArgs(1),
		RunE:         runSentinel,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "sentinel.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&providerName, "provider", "", "LLM provider to use (overrides config default_provider)")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "model name (overrides provider default)")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory (overrides config workspace.path)")
	rootCmd.Flags().DurationVar(&everyFlag, "every", 0, "repeat the task on this interval")
	rootCmd.Flags().StringVar(&cronFlag, "cron", "", "repeat the task on this cron expression")
	rootCmd.AddCommand(buildModelsCmd())
	rootCmd.AddCommand(buildConfigSchemaCmd())
	return rootCmd
}

// buildConfigSchemaCmd prints the JSON Schema for sentinel.yaml's Config
// struct, the CLI equivalent of the teacher's gateway/web config-schema
// endpoints (config.JSONSchema served over HTTP there; here there's no
// HTTP server to serve it from, so it prints to stdout instead).
func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-schema",
		Short: "print the JSON Schema for the config file format",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(schema, '\n'))
			return err
		},
	}
}

// buildModelsCmd exposes the built-in model catalog (internal/models) so
// operators can check a model's capabilities/context window/pricing and
// resolve aliases before putting them in sentinel.yaml's fallback_chain.
func buildModelsCmd() *cobra.Command {
	var providerFilter string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "list known LLM models and their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := &modelcatalog.Filter{}
			if providerFilter != "" {
				filter.Providers = []modelcatalog.Provider{modelcatalog.Provider(strings.ToLower(providerFilter))}
			}
			w := cmd.OutOrStdout()
			titleCase := cases.Title(language.Und)
			for _, m := range modelcatalog.List(filter) {
				fmt.Fprintf(w, "%-28s %-10s %-9s ctx=%-9d %s\n",
					m.ID, titleCase.String(string(m.Provider)), titleCase.String(string(m.Tier)),
					m.ContextWindow, strings.Join(capStrings(m.Capabilities), ","))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&providerFilter, "provider", "", "filter to one provider (anthropic, openai, google, ...)")
	return cmd
}

func capStrings(caps []modelcatalog.Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}

func runSentinel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return &configError{err}
	}
	if workspace != "" {
		cfg.Workspace.Path = workspace
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return &configError{err}
	}
	defer rt.sandbox.Close(context.Background())
	if rt.vectorMemory != nil {
		defer rt.vectorMemory.Close()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 {
		return runREPL(ctx, rt)
	}

	task := args[0]
	schedCfg := cron.Config{Every: everyFlag, Cron: cronFlag}
	if everyFlag == 0 && cronFlag == "" && (cfg.Schedule.Every > 0 || cfg.Schedule.Cron != "" || cfg.Schedule.At != "") {
		schedCfg = cron.Config{
			Cron:     cfg.Schedule.Cron,
			Every:    cfg.Schedule.Every,
			At:       cfg.Schedule.At,
			Timezone: cfg.Schedule.Timezone,
		}
	}
	if schedCfg.Every > 0 || schedCfg.Cron != "" || schedCfg.At != "" {
		sched, err := cron.NewSchedule(schedCfg)
		if err != nil {
			return &configError{err}
		}
		runner := cron.NewRunner(sched, func(ctx context.Context) error {
			return runOnce(ctx, rt, task)
		}, cron.WithLogger(slog.Default()))
		return runner.Run(ctx)
	}

	return runOnce(ctx, rt, task)
}

// loadConfig reads path, falling back to config.Default() when it doesn't
// exist so a bare `sentinel "task"` invocation with only flags/env vars
// still works.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return config.Default(), nil
	}
	return config.Load(path)
}

// runtime bundles everything a single task run needs.
type runtime struct {
	loop         *agent.AgenticLoop
	sandbox      *sandbox.Sandbox
	registry     *agent.ToolRegistry
	vectorMemory *memory.Manager
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("build LLM provider: %w", err)
	}

	registry := agent.NewToolRegistry()
	sb := sandbox.New(context.Background(), func(msg string) { slog.Info("guest log", "message", msg) })
	registry.RegisterWithRisk(sandbox.NewTool(sb, sandboxConfigFrom(cfg.Sandbox)), models.RiskWrite)
	applyToolPolicy(registry, cfg.Tools)

	store, err := sessionStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	vecMem, err := memory.NewManager(memoryConfigFrom(cfg.VectorMemory))
	if err != nil {
		return nil, fmt.Errorf("build vector memory: %w", err)
	}
	if vecMem != nil {
		registry.RegisterWithRisk(newRecallMemoryTool(vecMem), models.RiskWrite)
	}

	chain := audit.NewMerkleChain()
	// onDecision is left nil: loop.go's recordDecision already mirrors every
	// decision's Explanation into AuditChain once LoopConfig.AuditChain is
	// set, so wiring it again here would double-append.
	guardian := safety.New(safety.DefaultConfig(), nil)

	approvalChecker := agent.NewApprovalChecker(nil)
	approvalChecker.SetStore(agent.NewMemoryApprovalStore())
	// SENTINEL_APPROVAL_SECRET lets an out-of-process approver (e.g. a
	// chat-ops bot posting a decision back later) verify a request came from
	// this run instead of trusting an unauthenticated request ID. Unset
	// means tokens are simply not issued; CLI approval still works.
	tokenSvc := agent.NewTokenService(os.Getenv("SENTINEL_APPROVAL_SECRET"), 5*time.Minute)

	loopCfg := agent.DefaultLoopConfig()
	loopCfg.Guardian = guardian
	loopCfg.AuditChain = chain
	loopCfg.RequestApproval = func(ctx context.Context, req models.ActionRequest, call models.ToolCall) (bool, error) {
		return requestApprovalChecked(ctx, approvalChecker, tokenSvc, req, call)
	}
	loopCfg.ExecutorConfig.Metrics = observability.NewMetrics()
	serveMetrics(cfg.Observability.MetricsPort)

	loop := agent.NewAgenticLoop(provider, registry, store, loopCfg)
	if modelName != "" {
		loop.SetDefaultModel(resolveModelAlias(modelName))
	}
	return &runtime{loop: loop, sandbox: sb, registry: registry, vectorMemory: vecMem}, nil
}

// reloadFromConfig re-applies the parts of cfg that can change safely on a
// live runtime without tearing down open sessions or sandbox state: the
// default model and the tool access policy. LLM credentials, sandbox
// capabilities and the session store path still require a process restart.
func (rt *runtime) reloadFromConfig(cfg *config.Config) {
	applyToolPolicy(rt.registry, cfg.Tools)
	slog.Info("config reloaded", "tools_profile", cfg.Tools.Profile)
}

func sandboxConfigFrom(cfg config.SandboxConfig) sandbox.Config {
	caps := make(sandbox.CapabilitySet, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		caps[sandbox.Capability(c)] = true
	}
	out := sandbox.DefaultConfig()
	out.Capabilities = caps
	out.FileReadPaths = cfg.FileReadPaths
	out.FileWritePaths = cfg.FileWritePaths
	out.NetworkHosts = cfg.NetworkHosts
	out.EnvironmentKeys = cfg.EnvironmentKeys
	if cfg.MaxMemoryBytes > 0 {
		out.MaxMemoryBytes = cfg.MaxMemoryBytes
	}
	if cfg.MaxFuel > 0 {
		out.MaxFuel = cfg.MaxFuel
	}
	if cfg.WallClockTimeout > 0 {
		out.WallClockTimeout = cfg.WallClockTimeout
	}
	return out
}

// applyToolPolicy unregisters any tool the config's Profile/Allow/Deny
// rules don't permit, so a denied tool never reaches the LLM's tool list
// or Execute — a coarser, deployment-wide gate underneath the Guardian's
// per-call risk decision. No-op when ToolsConfig is unset (registry keeps
// every tool it was given, matching prior behavior).
func applyToolPolicy(registry *agent.ToolRegistry, cfg config.ToolsConfig) {
	if cfg.Profile == "" && len(cfg.Allow) == 0 && len(cfg.Deny) == 0 {
		return
	}
	pol := &policy.Policy{
		Profile: policy.Profile(cfg.Profile),
		Allow:   cfg.Allow,
		Deny:    cfg.Deny,
	}
	resolver := policy.NewResolver()
	for _, def := range registry.Definitions() {
		if !resolver.IsAllowed(pol, def.Name) {
			registry.Unregister(def.Name)
		}
	}
}

func sessionStore(cfg *config.Config) (sessions.Store, error) {
	dir := filepath.Join(cfg.Workspace.Path, ".sentinel", "sessions")
	return sessions.NewFileStore(dir)
}

// buildProvider selects the configured LLM provider per the --provider
// flag or cfg.LLM.DefaultProvider, falling back to environment variables
// for credentials when the config file doesn't set them. When
// cfg.LLM.FallbackChain is non-empty, the result is wrapped so a failed
// completion automatically retries against the next candidate.
func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	name := resolveProviderName(cfg)
	primary, err := buildNamedProvider(name, cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.LLM.FallbackChain) == 0 {
		return primary, nil
	}
	return newFallbackProvider(name, primary, cfg), nil
}

func resolveProviderName(cfg *config.Config) string {
	name := strings.ToLower(strings.TrimSpace(providerName))
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	}
	if name == "" {
		name = "anthropic"
	}
	return name
}

// buildNamedProvider constructs a single concrete provider adapter by
// name, independent of flag/config resolution — the unit buildProvider
// and fallbackProvider both build candidates from.
func buildNamedProvider(name string, cfg *config.Config) (agent.LLMProvider, error) {
	pc := cfg.LLM.Providers[name]

	switch name {
	case "anthropic":
		apiKey := firstNonEmpty(pc.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		httpClient := oauthClientFor(pc)
		if apiKey == "" && httpClient == nil {
			return nil, fmt.Errorf("anthropic: no API key or OAuth config")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: firstNonEmpty(modelName, pc.DefaultModel),
			HTTPClient:   httpClient,
		})
	case "openai":
		apiKey := firstNonEmpty(pc.APIKey, os.Getenv("OPENAI_API_KEY"))
		if httpClient := oauthClientFor(pc); httpClient != nil {
			return providers.NewOpenAIProviderWithClient(apiKey, httpClient), nil
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai: no API key or OAuth config")
		}
		return providers.NewOpenAIProvider(apiKey), nil
	case "google":
		apiKey := firstNonEmpty(pc.APIKey, os.Getenv("GOOGLE_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("google: no API key configured")
		}
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       apiKey,
			DefaultModel: firstNonEmpty(modelName, pc.DefaultModel),
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// fallbackProvider wraps a primary agent.LLMProvider with the provider/model
// candidates in cfg.LLM.FallbackChain, lazily building and reusing each
// fallback provider the first time it's needed. Completion attempts are
// driven by modelcatalog.RunWithModelFallback, which classifies a failed
// attempt's error and decides whether the next candidate is worth trying
// (see internal/models/fallback.go).
type fallbackProvider struct {
	primary     agent.LLMProvider
	primaryName string
	cfg         *config.Config

	mu        sync.Mutex
	providers map[string]agent.LLMProvider
}

func newFallbackProvider(name string, primary agent.LLMProvider, cfg *config.Config) *fallbackProvider {
	return &fallbackProvider{
		primary:     primary,
		primaryName: name,
		cfg:         cfg,
		providers:   map[string]agent.LLMProvider{name: primary},
	}
}

func (f *fallbackProvider) Name() string          { return f.primary.Name() }
func (f *fallbackProvider) Models() []agent.Model { return f.primary.Models() }
func (f *fallbackProvider) SupportsTools() bool   { return f.primary.SupportsTools() }

func (f *fallbackProvider) providerFor(name string) (agent.LLMProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.providers[name]; ok {
		return p, nil
	}
	p, err := buildNamedProvider(name, f.cfg)
	if err != nil {
		return nil, err
	}
	f.providers[name] = p
	return p, nil
}

func (f *fallbackProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	fbCfg := &modelcatalog.FallbackConfig{
		PrimaryProvider: f.primaryName,
		PrimaryModel:    req.Model,
		Fallbacks:       f.cfg.LLM.FallbackChain,
	}

	result, err := modelcatalog.RunWithModelFallback(ctx, fbCfg,
		func(ctx context.Context, providerName, modelID string) (<-chan *agent.CompletionChunk, error) {
			p, err := f.providerFor(providerName)
			if err != nil {
				return nil, err
			}
			attempt := *req
			attempt.Model = modelID
			return p.Complete(ctx, &attempt)
		},
		func(providerName, modelID string, err error, attempt, total int) {
			slog.Warn("llm completion failed, trying fallback candidate",
				"provider", providerName, "model", modelID,
				"attempt", attempt, "total", total, "error", err)
		},
	)
	if err != nil {
		return nil, err
	}
	return result.Result, nil
}

func oauthClientFor(pc config.LLMProviderConfig) *http.Client {
	if pc.OAuth == nil {
		return nil
	}
	return providers.NewOAuthHTTPClient(context.Background(), providers.OAuthTokenConfig{
		ClientID:     pc.OAuth.ClientID,
		ClientSecret: pc.OAuth.ClientSecret,
		TokenURL:     pc.OAuth.TokenURL,
		Scopes:       pc.OAuth.Scopes,
		RefreshToken: pc.OAuth.RefreshToken,
	})
}

// resolveModelAlias looks id up in the built-in model catalog and returns
// its canonical ID (e.g. "opus" -> "claude-opus-4"). Unknown IDs pass
// through unchanged — the catalog only covers models it ships metadata
// for, it isn't the source of truth for what a provider actually serves.
func resolveModelAlias(id string) string {
	if m, ok := modelcatalog.Get(id); ok {
		return m.ID
	}
	return id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var metricsServerOnce sync.Once

// serveMetrics exposes the process's Prometheus registry on
// /metrics over HTTP when port > 0. Guarded by sync.Once since buildRuntime
// can run more than once per process (e.g. tests, future multi-runtime
// commands) and a second bind on the same port would just fail loudly.
func serveMetrics(port int) {
	if port <= 0 {
		return
	}
	metricsServerOnce.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
		slog.Info("metrics server listening", "addr", addr)
	})
}

// requestApprovalChecked runs the tool call through the ApprovalChecker's
// allow/deny/require-approval policy before falling back to the interactive
// CLI prompt, and persists the outcome on the checker's store so a later
// approval query (or an out-of-process approver presenting a signed token)
// sees the same decision.
func requestApprovalChecked(ctx context.Context, checker *agent.ApprovalChecker, tokenSvc *agent.TokenService, req models.ActionRequest, call models.ToolCall) (bool, error) {
	decision, reason := checker.Check(ctx, "", call)
	switch decision {
	case agent.ApprovalAllowed:
		return true, nil
	case agent.ApprovalDenied:
		fmt.Fprintf(os.Stderr, "\napproval policy denied tool=%s: %s\n", call.Name, reason)
		return false, nil
	}

	pending, err := checker.CreateApprovalRequest(ctx, "", "", call, reason)
	if err != nil {
		return false, fmt.Errorf("create approval request: %w", err)
	}
	if token, err := tokenSvc.Sign(pending); err == nil {
		fmt.Fprintf(os.Stderr, "approval token: %s\n", token)
	} else if !errors.Is(err, agent.ErrApprovalTokenDisabled) {
		slog.Warn("approval token signing failed", "error", err)
	}

	allowed, err := requestApprovalCLI(req, call)
	if err != nil {
		return false, err
	}
	decidedBy := "cli"
	if allowed {
		err = checker.Approve(ctx, pending.ID, decidedBy)
	} else {
		err = checker.Deny(ctx, pending.ID, decidedBy)
	}
	if err != nil {
		slog.Warn("approval store update failed", "error", err)
	}
	return allowed, nil
}

// requestApprovalCLI implements the Callback port's request_approval hook
// (spec §6) by prompting on stderr and reading a y/n answer from stdin.
func requestApprovalCLI(req models.ActionRequest, call models.ToolCall) (bool, error) {
	fmt.Fprintf(os.Stderr, "\napproval required: tool=%s risk=%s reason=%q — allow? [y/N] ", call.Name, req.RiskLevel, req.Description)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func runOnce(ctx context.Context, rt *runtime, task string) error {
	session := models.Session{ID: uuid.NewString(), CreatedAt: time.Now(), UpdatedAt: time.Now()}
	chunks, err := rt.loop.Run(ctx, session, task)
	if err != nil {
		return err
	}
	return drain(chunks)
}

func runREPL(ctx context.Context, rt *runtime) error {
	if _, err := os.Stat(configPath); err == nil {
		watcher := config.NewWatcher(configPath, func(cfg *config.Config, err error) {
			if err != nil {
				slog.Warn("config reload failed, keeping previous config", "error", err)
				return
			}
			rt.reloadFromConfig(cfg)
		})
		if err := watcher.Start(ctx); err != nil {
			slog.Warn("config watch disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	session := models.Session{ID: uuid.NewString(), CreatedAt: time.Now(), UpdatedAt: time.Now()}
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(os.Stdout, "sentinel interactive mode. Ctrl-D to exit.")
	for {
		fmt.Fprint(os.Stdout, "> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		chunks, err := rt.loop.Run(ctx, session, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if err := drain(chunks); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func drain(chunks <-chan *agent.ResponseChunk) error {
	var lastErr error
	for chunk := range chunks {
		if chunk.Error != nil {
			lastErr = chunk.Error
			fmt.Fprintf(os.Stderr, "error: %v\n", chunk.Error)
			continue
		}
		if chunk.Text != "" {
			fmt.Fprint(os.Stdout, chunk.Text)
		}
	}
	fmt.Fprintln(os.Stdout)
	return lastErr
}
