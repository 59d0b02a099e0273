package plan

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// planSchema constrains the untrusted plan payload before it is decoded into
// the typed Plan. Unknown fields pass through; only shape and enums are
// enforced here.
const planSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["plan_id", "actions"],
	"properties": {
		"plan_id": {"type": "string", "minLength": 1},
		"created_by": {"type": "string"},
		"origin": {"type": "string"},
		"status": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"requires_confirmation": {"type": "boolean"},
		"idempotency_key": {"type": "string"},
		"expires_at": {"type": "string", "format": "date-time"},
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["action_id", "capability"],
				"properties": {
					"action_id": {"type": "string", "minLength": 1},
					"agent_id": {"type": "string"},
					"capability": {"type": "string", "minLength": 1},
					"params": {"type": "object"},
					"timeout_ms": {"type": "integer", "minimum": 0},
					"rollback_action": {"type": "object"}
				}
			}
		},
		"clear_score": {
			"type": "object",
			"properties": {
				"clarity": {"type": "number", "minimum": 0, "maximum": 1},
				"leverage": {"type": "number", "minimum": 0, "maximum": 1},
				"efficiency": {"type": "number", "minimum": 0, "maximum": 1},
				"alignment": {"type": "number", "minimum": 0, "maximum": 1},
				"resilience": {"type": "number", "minimum": 0, "maximum": 1},
				"overall": {"type": "number", "minimum": 0, "maximum": 1},
				"decision": {"enum": ["allow", "confirm", "block"]},
				"notes": {"type": "string"}
			}
		},
		"clear_decision": {"enum": ["allow", "confirm", "block"]}
	}
}`

var compiledSchema = jsonschema.MustCompileString("actionplan.json", planSchema)

// Parse validates and decodes an ActionPlan payload.
func Parse(payload map[string]any) (*Plan, error) {
	if err := compiledSchema.Validate(payload); err != nil {
		return nil, fmt.Errorf("plan payload rejected: %w", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("re-encode plan payload: %w", err)
	}
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}
