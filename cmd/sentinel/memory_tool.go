package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sentinelrun/sentinel/internal/agent"
	"github.com/sentinelrun/sentinel/internal/config"
	"github.com/sentinelrun/sentinel/internal/memory"
	"github.com/sentinelrun/sentinel/pkg/models"
)

// memoryConfigFrom translates config.VectorMemoryConfig into
// internal/memory.Config. Kept in cmd/sentinel rather than internal/config
// to avoid internal/config importing internal/memory just for this mirror.
func memoryConfigFrom(cfg config.VectorMemoryConfig) *memory.Config {
	return &memory.Config{
		Enabled:   cfg.Enabled,
		Backend:   cfg.Backend,
		Dimension: cfg.Dimension,
		SQLiteVec: memory.SQLiteVecConfig{Path: cfg.SQLiteVecPath},
		Pgvector:  memory.PgvectorConfig{DSN: cfg.PgvectorDSN},
		LanceDB:   memory.LanceDBConfig{Path: cfg.LanceDBPath},
		Embeddings: memory.EmbeddingsConfig{
			Provider:  cfg.Embeddings.Provider,
			APIKey:    cfg.Embeddings.APIKey,
			BaseURL:   cfg.Embeddings.BaseURL,
			Model:     cfg.Embeddings.Model,
			OllamaURL: cfg.Embeddings.OllamaURL,
		},
	}
}

// recallMemoryTool exposes internal/memory.Manager's semantic search as an
// agent.Tool: the LLM can both store durable notes ("index") and recall them
// by meaning rather than exact substring ("search"), on top of the
// mandatory, substring-matched LongTermMemory that spec §4.4 requires for
// the §8 test scenarios. Only registered when vector_memory.enabled is set.
type recallMemoryTool struct {
	mgr *memory.Manager
}

func newRecallMemoryTool(mgr *memory.Manager) *recallMemoryTool {
	return &recallMemoryTool{mgr: mgr}
}

func (t *recallMemoryTool) Name() string { return "recall_memory" }

func (t *recallMemoryTool) Description() string {
	return "Stores or semantically searches durable notes, independent of the current conversation window. " +
		"Use action=\"index\" to remember something for later, action=\"search\" to recall it by meaning."
}

func (t *recallMemoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["index", "search"], "description": "index to store a note, search to recall"},
			"content": {"type": "string", "description": "note text to store (action=index)"},
			"query": {"type": "string", "description": "free-text query (action=search)"},
			"scope": {"type": "string", "enum": ["session", "channel", "agent", "global"], "description": "defaults to global"},
			"scope_id": {"type": "string"},
			"limit": {"type": "integer", "description": "max results for search, default 5"}
		},
		"required": ["action"]
	}`)
}

// RiskLevel implements agent.RiskAware: indexing writes a durable record,
// search only reads one back.
func (t *recallMemoryTool) RiskLevel() models.RiskLevel { return models.RiskWrite }

type recallMemoryParams struct {
	Action  string `json:"action"`
	Content string `json:"content"`
	Query   string `json:"query"`
	Scope   string `json:"scope"`
	ScopeID string `json:"scope_id"`
	Limit   int    `json:"limit"`
}

func (t *recallMemoryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p recallMemoryParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}
	scope := models.MemoryScope(p.Scope)
	if scope == "" {
		scope = models.ScopeGlobal
	}

	switch p.Action {
	case "index":
		if strings.TrimSpace(p.Content) == "" {
			return &agent.ToolResult{Content: "content is required for action=index", IsError: true}, nil
		}
		entry := &models.MemoryEntry{
			Content:   p.Content,
			Metadata:  models.MemoryMetadata{Source: "note"},
			SessionID: p.ScopeID,
		}
		if err := t.mgr.Index(ctx, []*models.MemoryEntry{entry}); err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("index failed: %v", err), IsError: true}, nil
		}
		return &agent.ToolResult{Content: "stored"}, nil

	case "search":
		if strings.TrimSpace(p.Query) == "" {
			return &agent.ToolResult{Content: "query is required for action=search", IsError: true}, nil
		}
		limit := p.Limit
		if limit <= 0 {
			limit = 5
		}
		resp, err := t.mgr.Search(ctx, &models.SearchRequest{
			Query:   p.Query,
			Scope:   scope,
			ScopeID: p.ScopeID,
			Limit:   limit,
		})
		if err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("search failed: %v", err), IsError: true}, nil
		}
		if len(resp.Results) == 0 {
			return &agent.ToolResult{Content: "no matching memories found"}, nil
		}
		var b strings.Builder
		for i, r := range resp.Results {
			fmt.Fprintf(&b, "%d. (score=%.2f) %s\n", i+1, r.Score, r.Entry.Content)
		}
		return &agent.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil

	default:
		return &agent.ToolResult{Content: fmt.Sprintf("unknown action %q, want index or search", p.Action), IsError: true}, nil
	}
}
