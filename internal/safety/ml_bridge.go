package safety

import (
	"encoding/json"
	"fmt"
	"strings"
)

// mlTrainingTools are tools whose data_path argument is checked for PII.
var mlTrainingTools = map[string]bool{
	"ml_train":         true,
	"ml_finetune":      true,
	"ml_dataset_prep":  true,
}

// mlAlignmentTools require a post-hoc alignment review note.
var mlAlignmentTools = map[string]bool{
	"ml_finetune": true,
	"ml_adapter":  true,
}

// CheckMLAction is an advisory check, independent of the ordinal risk rules,
// that flags ML-training tool calls whose arguments look like they touch
// personal data, or that skip an alignment review. Ported from
// rustant-core/src/risk_scorer.rs's MlSafetyBridge. It never changes the
// Allow/RequireApproval/Deny decision — its output is folded into the
// Explanation's ContextFactors only.
func CheckMLAction(toolName string, args json.RawMessage) (string, bool) {
	if mlTrainingTools[toolName] {
		var parsed struct {
			DataPath string `json:"data_path"`
		}
		_ = json.Unmarshal(args, &parsed)
		path := strings.ToLower(parsed.DataPath)
		if path != "" && (strings.Contains(path, "personal") || strings.Contains(path, "pii") || strings.Contains(path, "user_data")) {
			return fmt.Sprintf("training data path %q may contain PII; consider running a PII scan first", parsed.DataPath), true
		}
	}

	if mlAlignmentTools[toolName] {
		return "fine-tuning models should include alignment evaluation afterward", true
	}

	return "", false
}
