package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/sentinelrun/sentinel/internal/tools/policy"
	"github.com/sentinelrun/sentinel/pkg/models"
)

// ToolRegistry manages available tools with thread-safe registration and lookup.
// Tools are registered by name and can be retrieved for execution during agent
// conversations. Spec §4.2: every registered tool advertises name,
// description, schema, and risk_level; risk_level is what the Safety
// Guardian (§4.3) scores on dispatch.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	risk  map[string]models.RiskLevel
}

// RiskAware is an optional interface a Tool may implement to advertise its
// static risk level. Tools that don't implement it register at
// defaultToolRisk.
type RiskAware interface {
	RiskLevel() models.RiskLevel
}

// defaultToolRisk is assigned to tools that don't implement RiskAware:
// treated as capable of mutation until proven otherwise.
const defaultToolRisk = models.RiskWrite

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
		risk:  make(map[string]models.RiskLevel),
	}
}

// Register adds a tool to the registry by its name.
// If a tool with the same name already exists, it is replaced.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	if ra, ok := tool.(RiskAware); ok {
		r.risk[tool.Name()] = ra.RiskLevel()
	} else {
		r.risk[tool.Name()] = defaultToolRisk
	}
}

// RegisterWithRisk adds a tool with an explicit risk level, overriding
// whatever RiskAware would otherwise report.
func (r *ToolRegistry) RegisterWithRisk(tool Tool, risk models.RiskLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.risk[tool.Name()] = risk
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.risk, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// RiskLevelOf returns the registered risk level for a tool name, or
// defaultToolRisk if the tool isn't registered.
func (r *ToolRegistry) RiskLevelOf(name string) models.RiskLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if lvl, ok := r.risk[name]; ok {
		return lvl
	}
	return defaultToolRisk
}

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Execute runs a tool by name with the given JSON parameters.
// Returns an error result if the tool is not found or parameters are invalid.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}

	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}
	return tool.Execute(ctx, params)
}

// AsLLMTools returns all registered tools as a slice for passing to LLM providers.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// Definitions returns spec §4.2's list_definitions() view of the catalog.
func (r *ToolRegistry) Definitions() []models.RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.RegisteredTool, 0, len(r.tools))
	for name, t := range r.tools {
		out = append(out, models.RegisteredTool{
			Name:        name,
			Description: t.Description(),
			Schema:      t.Schema(),
			RiskLevel:   r.risk[name],
		})
	}
	return out
}

func normalizeToolName(name string, resolver *policy.Resolver) string {
	if resolver == nil {
		return policy.NormalizeTool(name)
	}
	return resolver.CanonicalName(name)
}

func matchesToolPatterns(patterns []string, toolName string, resolver *policy.Resolver) bool {
	if len(patterns) == 0 {
		return false
	}
	name := normalizeToolName(toolName, resolver)
	for _, pattern := range patterns {
		if matchToolPattern(normalizeToolName(pattern, resolver), name) {
			return true
		}
	}
	return false
}

func matchToolPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(toolName, prefix)
	}
	return pattern == toolName
}

func guardToolResult(guard ToolResultGuard, toolName string, result models.ToolResult, resolver *policy.Resolver) models.ToolResult {
	return guard.Apply(toolName, result, resolver)
}

func guardToolResults(guard ToolResultGuard, toolCalls []models.ToolCall, results []models.ToolResult, resolver *policy.Resolver) []models.ToolResult {
	if !guard.active() {
		return results
	}
	if len(results) == 0 {
		return results
	}

	namesByID := make(map[string]string, len(toolCalls))
	for _, tc := range toolCalls {
		if tc.ID != "" {
			namesByID[tc.ID] = tc.Name
		}
	}

	guarded := make([]models.ToolResult, len(results))
	for i, res := range results {
		toolName := namesByID[res.ToolCallID]
		if toolName == "" && i < len(toolCalls) {
			toolName = toolCalls[i].Name
		}
		guarded[i] = guardToolResult(guard, toolName, res, resolver)
	}
	return guarded
}
