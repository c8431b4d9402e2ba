package sandbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/sentinelrun/sentinel/internal/agent"
	"github.com/sentinelrun/sentinel/pkg/models"
)

// Tool exposes a Sandbox as an internal/agent.Tool, letting the Agent Loop
// dispatch guest WASM modules the same way it dispatches any other tool
// call, gated through the Safety Guardian like every other RiskWrite+ tool.
type Tool struct {
	sandbox *Sandbox
	limits  Config
}

// NewTool wraps sandbox, applying limits to every call unless the call's
// own params override MaxFuel/WallClockTimeout/Capabilities.
func NewTool(sandbox *Sandbox, limits Config) *Tool {
	return &Tool{sandbox: sandbox, limits: limits}
}

func (t *Tool) Name() string { return "run_wasm" }

func (t *Tool) Description() string {
	return "Executes a WebAssembly module under sandboxed memory, fuel, and capability limits, returning its stdout/stderr/output."
}

// toolParams is the run_wasm tool's argument shape: a base64-encoded WASM
// module plus the bytes fed to it via host_read_input.
type toolParams struct {
	ModuleBase64 string `json:"module_base64"`
	Input        string `json:"input"`
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"module_base64": {"type": "string", "description": "Base64-encoded WASM module bytes"},
			"input": {"type": "string", "description": "Input passed to the guest's host_read_input"}
		},
		"required": ["module_base64"]
	}`)
}

// RiskLevel implements agent.RiskAware: arbitrary guest code is treated as
// capable of mutating its declared capabilities (file writes, network),
// same as any other RiskWrite tool — the sandbox's own capability gating is
// a second, independent layer underneath the Guardian's decision.
func (t *Tool) RiskLevel() models.RiskLevel { return models.RiskWrite }

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p toolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}
	module, err := base64.StdEncoding.DecodeString(p.ModuleBase64)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid module_base64: %v", err), IsError: true}, nil
	}

	result, err := t.sandbox.Execute(ctx, module, []byte(p.Input), t.limits)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	payload, _ := json.Marshal(struct {
		Stdout          string `json:"stdout"`
		Stderr          string `json:"stderr"`
		Output          string `json:"output"`
		DurationMS      int64  `json:"duration_ms"`
		PeakMemoryBytes uint32 `json:"peak_memory_bytes"`
		FuelConsumed    uint64 `json:"fuel_consumed"`
	}{
		Stdout:          string(result.Stdout),
		Stderr:          string(result.Stderr),
		Output:          string(result.Output),
		DurationMS:      result.Duration.Milliseconds(),
		PeakMemoryBytes: result.PeakMemoryBytes,
		FuelConsumed:    result.FuelConsumed,
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}
