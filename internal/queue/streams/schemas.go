package streams

import "fmt"

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

// Event types mirrored from the task event stream.
const (
	EventAgentThought  = "agent.thought"
	EventAgentComplete = "agent.complete"
	EventAgentFailed   = "agent.failed"
)

var baseDefinitions = []Definition{
	{
		EventType: EventAgentThought,
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["task_id", "progress", "step"],
  "properties": {
    "task_id": {"type": "string", "minLength": 1},
    "progress": {"type": "integer", "minimum": 0, "maximum": 100},
    "step": {
      "type": "object",
      "required": ["seq", "phase", "thought", "timestamp"],
      "properties": {
        "seq": {"type": "integer", "minimum": 1},
        "phase": {"type": "string"},
        "thought": {"type": "string"},
        "action": {"type": "string"},
        "observation": {"type": "string"},
        "tokens": {"type": "integer", "minimum": 0},
        "timestamp": {"type": "string"}
      }
    }
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventAgentComplete,
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["task_id", "progress", "status"],
  "properties": {
    "task_id": {"type": "string", "minLength": 1},
    "progress": {"const": 100},
    "status": {"const": "completed"},
    "intelligence_count": {"type": "integer", "minimum": 0},
    "total_tokens": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventAgentFailed,
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["task_id", "error_kind", "message"],
  "properties": {
    "task_id": {"type": "string", "minLength": 1},
    "error_kind": {"type": "string", "minLength": 1},
    "message": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns a copy of the built-in schema definitions.
func BaseDefinitions() []Definition {
	out := make([]Definition, len(baseDefinitions))
	copy(out, baseDefinitions)
	return out
}

// RegisterBaseSchemas registers all built-in schemas with the registry.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}
