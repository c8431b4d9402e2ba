package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sentinelrun/sentinel/internal/audit"
	"github.com/sentinelrun/sentinel/internal/memory"
	"github.com/sentinelrun/sentinel/internal/safety"
	"github.com/sentinelrun/sentinel/internal/sessions"
	"github.com/sentinelrun/sentinel/pkg/models"
)

// LoopConfig configures the agentic loop: iteration and token budgets, the
// tool executor, the Safety Guardian and its audit trail, and the callback
// the loop uses to surface approval requests. Mirrors spec §4.1's
// process_task/run_iteration parameters plus §4.3's Guardian wiring.
type LoopConfig struct {
	// MaxIterations is the hard ceiling on think/act rounds within a single
	// Run call. Exceeding it fails the run with ErrMaxIterationsReached.
	// Default: 10.
	MaxIterations int

	// MaxTokens is the default max_tokens passed to the LLM provider.
	// Default: 4096.
	MaxTokens int

	// MemoryWindowSize sizes a freshly created session's ShortTermMemory
	// window when no prior snapshot exists. Default: 20.
	MemoryWindowSize int

	// ExecutorConfig configures the tool executor's concurrency, timeout,
	// and retry behavior. Tool calls within one iteration are still
	// dispatched strictly in order (spec §4.1 step 4) — ExecutorConfig's
	// MaxConcurrency only bounds how many *different* Run calls may have
	// in-flight tool executions at once.
	ExecutorConfig *ExecutorConfig

	// ToolResultGuard redacts/truncates tool output before it is added to
	// memory or streamed to the caller.
	ToolResultGuard ToolResultGuard

	// Guardian is the Safety Guardian (spec §4.3). If nil, every tool call
	// is allowed unconditionally — callers embedding the loop in a
	// trusted, single-operator context may opt out this way.
	Guardian *safety.Guardian

	// AuditChain, if set, receives a hash-chained JSON record of every
	// Guardian decision and every tool dispatch outcome (spec §4.3's
	// "decisions are also hashed into the Merkle audit log").
	AuditChain *audit.MerkleChain

	// RequestApproval is the Callback port's request_approval hook: invoked
	// when the Guardian returns RequireApproval. A nil RequestApproval
	// treats every such decision as rejected (fail closed).
	RequestApproval func(ctx context.Context, req models.ActionRequest, call models.ToolCall) (bool, error)

	// Summarize produces the text that ShortTermMemory.Compress folds into
	// its running summary once the window needs compression (spec §4.1
	// step 5: "synchronously summarize via LLM"). A nil Summarize falls
	// back to a mechanical summary of the evicted messages.
	Summarize func(ctx context.Context, messages []models.Message) (string, error)

	// Sink receives every AgentEvent the loop emits, in addition to the
	// ResponseChunk stream returned by Run. Useful for metrics/logging
	// sinks layered alongside the caller's own consumption of the channel.
	// Defaults to NopSink.
	Sink EventSink

	// Logger receives warnings for non-fatal failures, per spec §7: memory
	// persistence errors log a warning and continue rather than failing the
	// run. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultLoopConfig returns spec §4.1's default budgets.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations:    10,
		MaxTokens:        4096,
		MemoryWindowSize: 20,
		ExecutorConfig:   DefaultExecutorConfig(),
		ToolResultGuard:  ToolResultGuard{MaxChars: DefaultMaxToolResultSize},
	}
}

func sanitizeLoopConfig(cfg *LoopConfig) *LoopConfig {
	if cfg == nil {
		return DefaultLoopConfig()
	}
	out := *cfg
	if out.MaxIterations <= 0 {
		out.MaxIterations = 10
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}
	if out.MemoryWindowSize <= 0 {
		out.MemoryWindowSize = 20
	}
	if out.ExecutorConfig == nil {
		out.ExecutorConfig = DefaultExecutorConfig()
	}
	if out.ToolResultGuard.MaxChars <= 0 {
		// Spec §3/§4.2 require tool output to be bounded with a trailing
		// truncation marker out of the box, not only when a caller opts in.
		out.ToolResultGuard.MaxChars = DefaultMaxToolResultSize
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Sink == nil {
		out.Sink = NopSink{}
	}
	return &out
}

// AgenticLoop drives the think → act → observe cycle of spec §4.1:
// process_task seeds memory with a goal, then iterates calling the LLM,
// dispatching any requested tools in order through the Safety Guardian, and
// feeding results back until the model stops requesting tools or a budget
// is exhausted. Grounded on rustant-core/src/agent.rs's run loop, adapted
// from the teacher's streaming AgenticLoop.
type AgenticLoop struct {
	provider LLMProvider
	registry *ToolRegistry
	executor *Executor
	store    sessions.Store
	config   *LoopConfig

	mu            sync.RWMutex
	defaultModel  string
	defaultSystem string
}

// NewAgenticLoop builds a loop over the given provider, tool registry, and
// session store. store may be nil, in which case every Run call starts from
// a fresh memory.System and nothing is persisted between calls.
func NewAgenticLoop(provider LLMProvider, registry *ToolRegistry, store sessions.Store, config *LoopConfig) *AgenticLoop {
	cfg := sanitizeLoopConfig(config)
	return &AgenticLoop{
		provider: provider,
		registry: registry,
		executor: NewExecutor(registry, cfg.ExecutorConfig),
		store:    store,
		config:   cfg,
	}
}

// SetDefaultModel sets the model used when a CompletionRequest doesn't
// otherwise specify one.
func (l *AgenticLoop) SetDefaultModel(model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaultModel = model
}

// SetDefaultSystem sets the system prompt sent with every completion request.
func (l *AgenticLoop) SetDefaultSystem(prompt string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaultSystem = prompt
}

// ConfigureTool overrides per-tool executor settings (timeout, retries).
func (l *AgenticLoop) ConfigureTool(name string, cfg *ToolConfig) {
	l.executor.ConfigureTool(name, cfg)
}

// runState is the mutable state threaded through one Run call's iterations.
// Unlike the teacher's LoopState, there is no BranchID/AssistantMsgID: a
// session owns exactly one Memory (spec's ownership rule), so there is
// nothing to branch.
type runState struct {
	runID     string
	session   models.Session
	mem       *memory.System
	seq       uint64
	iteration int
}

func (s *runState) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// Run starts a task: it seeds the session's memory with description as the
// goal, appends it as a user message, and drives iterations in a background
// goroutine, streaming progress on the returned channel until the task
// completes, fails, or is cancelled via ctx. Implements spec §4.1's
// process_task.
func (l *AgenticLoop) Run(ctx context.Context, session models.Session, description string) (<-chan *ResponseChunk, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if session.ID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	mem, err := l.loadOrCreateMemory(session.ID)
	if err != nil {
		return nil, fmt.Errorf("load session memory: %w", err)
	}
	mem.StartNewTask(description)
	mem.AddMessage(models.Message{
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   description,
		CreatedAt: time.Now(),
	})

	out := make(chan *ResponseChunk, 16)
	chunkSink := NewChunkAdapterSink(out)
	sink := NewMultiSink(chunkSink, l.config.Sink)

	state := &runState{runID: uuid.NewString(), session: session, mem: mem}

	go func() {
		defer close(out)
		l.runLoop(ctx, state, sink)
	}()

	return out, nil
}

func (l *AgenticLoop) loadOrCreateMemory(sessionID string) (*memory.System, error) {
	if l.store == nil {
		return memory.NewSystem(l.config.MemoryWindowSize), nil
	}
	snap, ok, err := l.store.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return memory.NewSystem(l.config.MemoryWindowSize), nil
	}
	return sessions.RestoreSystem(snap), nil
}

func (l *AgenticLoop) persist(state *runState) {
	if l.store == nil {
		return
	}
	snap := sessions.SnapshotSystem(state.session, state.mem)
	if err := l.store.Save(snap); err != nil {
		l.config.Logger.Warn("session persistence failed",
			"session_id", state.session.ID,
			"error", memory.NewPersistenceError(state.session.ID, err))
	}
}

// runLoop implements spec §4.1's numbered algorithm: fail on exhausted
// iterations, call the LLM, execute any requested tools in order through
// the Guardian, compress memory synchronously if needed, and repeat until
// the model stops requesting tools.
func (l *AgenticLoop) runLoop(ctx context.Context, state *runState, sink EventSink) {
	defer l.persist(state)

	for {
		if err := ctx.Err(); err != nil {
			l.emitError(ctx, sink, state, models.AgentEventRunCancelled, "run cancelled", err)
			return
		}

		if state.iteration >= l.config.MaxIterations {
			err := ErrMaxIterationsReached(l.config.MaxIterations)
			l.emitError(ctx, sink, state, models.AgentEventRunError, err.Error(), err)
			return
		}
		state.iteration++

		sink.Emit(ctx, models.AgentEvent{
			Version: 1, Type: models.AgentEventIterStarted, Time: time.Now(),
			Sequence: state.nextSeq(), RunID: state.runID, IterIndex: state.iteration,
		})

		text, toolCalls, err := l.streamCompletion(ctx, state, sink)
		if err != nil {
			l.emitError(ctx, sink, state, models.AgentEventRunError, "completion failed", err)
			return
		}

		state.mem.AddMessage(models.Message{
			SessionID: state.session.ID,
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
			CreatedAt: time.Now(),
		})

		sink.Emit(ctx, models.AgentEvent{
			Version: 1, Type: models.AgentEventIterFinished, Time: time.Now(),
			Sequence: state.nextSeq(), RunID: state.runID, IterIndex: state.iteration,
		})

		if len(toolCalls) == 0 {
			sink.Emit(ctx, models.AgentEvent{
				Version: 1, Type: models.AgentEventRunFinished, Time: time.Now(),
				Sequence: state.nextSeq(), RunID: state.runID,
			})
			return
		}

		l.executeToolsInOrder(ctx, state, sink, toolCalls)

		if state.mem.ShortTerm.NeedsCompression() {
			l.compress(ctx, state)
		}

		l.persist(state)
	}
}

// streamCompletion calls the LLM with the current context messages and
// collects the streamed text and any requested tool calls.
func (l *AgenticLoop) streamCompletion(ctx context.Context, state *runState, sink EventSink) (string, []models.ToolCall, error) {
	l.mu.RLock()
	model := l.defaultModel
	system := l.defaultSystem
	l.mu.RUnlock()

	req := &CompletionRequest{
		Model:     model,
		System:    system,
		Messages:  toCompletionMessages(state.mem.ContextMessages()),
		Tools:     l.registry.AsLLMTools(),
		MaxTokens: l.config.MaxTokens,
	}

	chunks, err := l.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", nil, chunk.Error
		}
		if chunk.Thinking != "" {
			sink.Emit(ctx, models.AgentEvent{
				Version: 1, Type: models.AgentEventModelDelta, Time: time.Now(),
				Sequence: state.nextSeq(), RunID: state.runID, IterIndex: state.iteration,
				Stream: &models.StreamEventPayload{Delta: chunk.Thinking},
			})
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			sink.Emit(ctx, models.AgentEvent{
				Version: 1, Type: models.AgentEventModelDelta, Time: time.Now(),
				Sequence: state.nextSeq(), RunID: state.runID, IterIndex: state.iteration,
				Stream: &models.StreamEventPayload{Delta: chunk.Text},
			})
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			sink.Emit(ctx, models.AgentEvent{
				Version: 1, Type: models.AgentEventModelCompleted, Time: time.Now(),
				Sequence: state.nextSeq(), RunID: state.runID, IterIndex: state.iteration,
				Stream: &models.StreamEventPayload{
					Final: text.String(), InputTokens: chunk.InputTokens, OutputTokens: chunk.OutputTokens,
				},
			})
		}
	}

	return text.String(), toolCalls, nil
}

// executeToolsInOrder dispatches every requested tool call strictly in the
// order the model emitted them (spec §4.1 step 4: "for each tool call in
// order"), appending one Tool message per call and never parallelizing
// across calls within a single iteration.
func (l *AgenticLoop) executeToolsInOrder(ctx context.Context, state *runState, sink EventSink, calls []models.ToolCall) {
	for _, call := range calls {
		if ctx.Err() != nil {
			return
		}
		result := l.executeOneTool(ctx, state, sink, call)
		state.mem.AddMessage(models.Message{
			SessionID:   state.session.ID,
			Role:        models.RoleTool,
			ToolResults: []models.ToolResult{result},
			CreatedAt:   time.Now(),
		})
	}
}

func (l *AgenticLoop) executeOneTool(ctx context.Context, state *runState, sink EventSink, call models.ToolCall) models.ToolResult {
	sink.Emit(ctx, models.AgentEvent{
		Version: 1, Type: models.AgentEventToolStarted, Time: time.Now(),
		Sequence: state.nextSeq(), RunID: state.runID, IterIndex: state.iteration,
		Tool: &models.ToolEventPayload{CallID: call.ID, Name: call.Name, ArgsJSON: call.Input},
	})

	tool, ok := l.registry.Get(call.Name)
	if !ok {
		return l.finishTool(ctx, state, sink, call, models.ToolResult{
			ToolCallID: call.ID,
			Content:    "error: unknown tool",
			IsError:    true,
		})
	}

	if err := validateToolArgs(tool.Schema(), call.Input); err != nil {
		return l.finishTool(ctx, state, sink, call, models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("invalid arguments: %v", err),
			IsError:    true,
		})
	}

	if l.config.Guardian != nil {
		decision := l.config.Guardian.Evaluate(call.Name, l.registry.RiskLevelOf(call.Name), call.Input)
		l.recordDecision(decision)

		switch decision.Type {
		case models.DecisionDeny:
			safetyErr := safety.NewPolicyDeniedError(call.Name)
			return l.finishTool(ctx, state, sink, call, models.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("%s: %s", safetyErr, decision.Reason),
				IsError:    true,
			})
		case models.DecisionRequireApproval:
			approved := false
			if l.config.RequestApproval != nil && decision.Request != nil {
				var err error
				approved, err = l.config.RequestApproval(ctx, *decision.Request, call)
				if err != nil {
					approved = false
				}
			}
			if !approved {
				return l.finishTool(ctx, state, sink, call, models.ToolResult{
					ToolCallID: call.ID,
					Content:    "denied by user",
					IsError:    true,
				})
			}
		}
	}

	exec := l.executor.Execute(ctx, call)
	result := executionToToolResult(exec)
	result = guardToolResult(l.config.ToolResultGuard, call.Name, result, nil)

	if l.config.Guardian != nil {
		l.config.Guardian.RecordOutcome(!result.IsError)
	}
	if l.config.AuditChain != nil {
		if data, err := json.Marshal(result); err == nil {
			l.config.AuditChain.Append(data)
		}
	}

	return l.finishTool(ctx, state, sink, call, result)
}

func (l *AgenticLoop) finishTool(ctx context.Context, state *runState, sink EventSink, call models.ToolCall, result models.ToolResult) models.ToolResult {
	resultJSON, _ := json.Marshal(result)
	sink.Emit(ctx, models.AgentEvent{
		Version: 1, Type: models.AgentEventToolFinished, Time: time.Now(),
		Sequence: state.nextSeq(), RunID: state.runID, IterIndex: state.iteration,
		Tool: &models.ToolEventPayload{
			CallID: call.ID, Name: call.Name, Success: !result.IsError, ResultJSON: resultJSON,
		},
	})
	return result
}

func (l *AgenticLoop) recordDecision(decision safety.Decision) {
	if l.config.AuditChain == nil {
		return
	}
	if data, err := json.Marshal(decision.Explanation); err == nil {
		l.config.AuditChain.Append(data)
	}
}

// compress summarizes the messages ShortTermMemory is about to evict and
// folds the summary back in, synchronously, before the next iteration's LLM
// call (spec §4.1 step 5).
func (l *AgenticLoop) compress(ctx context.Context, state *runState) {
	toSummarize := state.mem.ShortTerm.MessagesToSummarize()
	if len(toSummarize) == 0 {
		return
	}

	var summary string
	if l.config.Summarize != nil {
		s, err := l.config.Summarize(ctx, toSummarize)
		if err != nil {
			l.config.Logger.Warn("memory compression fallback",
				"session_id", state.session.ID,
				"error", memory.NewCompressionError(state.session.ID, err))
		} else {
			summary = s
		}
	}
	if summary == "" {
		summary = fallbackSummary(toSummarize)
	}
	state.mem.ShortTerm.Compress(summary)
}

func (l *AgenticLoop) emitError(ctx context.Context, sink EventSink, state *runState, eventType models.AgentEventType, message string, err error) {
	sink.Emit(ctx, models.AgentEvent{
		Version: 1, Type: eventType, Time: time.Now(),
		Sequence: state.nextSeq(), RunID: state.runID, IterIndex: state.iteration,
		Error: &models.ErrorEventPayload{Message: message, Err: err},
	})
}

// toCompletionMessages bridges memory.System's persisted models.Message
// history to the LLMProvider's CompletionMessage shape.
func toCompletionMessages(msgs []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}
	return out
}

// executionToToolResult converts an Executor result into the persisted
// models.ToolResult shape, folding any tool-level error into Content.
func executionToToolResult(exec *ExecutionResult) models.ToolResult {
	if exec.Error != nil {
		return models.ToolResult{
			ToolCallID: exec.ToolCallID,
			Content:    exec.Error.Error(),
			IsError:    true,
		}
	}
	if exec.Result != nil {
		return models.ToolResult{
			ToolCallID: exec.ToolCallID,
			Content:    exec.Result.Content,
			IsError:    exec.Result.IsError,
		}
	}
	return models.ToolResult{ToolCallID: exec.ToolCallID, Content: "", IsError: false}
}

// fallbackSummary mechanically condenses evicted messages when no LLM
// summarizer is configured: one line per message, truncated.
func fallbackSummary(msgs []models.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		content := m.Content
		if len(content) > 160 {
			content = content[:160] + "…"
		}
		if content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
	}
	return strings.TrimRight(b.String(), "\n")
}

var schemaCache sync.Map

// validateToolArgs checks call arguments against a tool's JSON Schema.
// Grounded on the teacher's pkg/pluginsdk/validation.go, which validates
// plugin config the same way. An empty schema is treated as "accepts
// anything".
func validateToolArgs(schema json.RawMessage, args json.RawMessage) error {
	if len(strings.TrimSpace(string(schema))) == 0 {
		return nil
	}
	compiled, err := compileToolSchema(schema)
	if err != nil {
		return nil // an uncompilable schema shouldn't block every call; the tool author owns this bug
	}

	raw := args
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return compiled.Validate(decoded)
}

func compileToolSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
