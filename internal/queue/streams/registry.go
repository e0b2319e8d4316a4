package streams

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// EventNamespace prefixes every event type carried on the task event stream.
const EventNamespace = "agent."

var (
	// ErrUnknownEventType reports an event type with no registered schema.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrTaskMismatch reports an envelope whose payload belongs to another task.
	ErrTaskMismatch = errors.New("envelope task_id does not match payload")
)

// SchemaRegistry stores compiled JSON Schemas keyed by event type and payload version.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]map[string]*jsonschema.Schema
}

// NewSchemaRegistry constructs an empty registry instance.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]map[string]*jsonschema.Schema)}
}

// Register compiles and stores a JSON schema for the given event type and version.
func (r *SchemaRegistry) Register(eventType, version string, schemaBytes []byte) error {
	if eventType == "" {
		return fmt.Errorf("eventType must be provided")
	}
	if !strings.HasPrefix(eventType, EventNamespace) {
		return fmt.Errorf("event type %q is outside the %q namespace", eventType, EventNamespace)
	}
	if version == "" {
		return fmt.Errorf("version must be provided")
	}
	if len(schemaBytes) == 0 {
		return fmt.Errorf("schemaBytes is empty")
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[eventType]; !ok {
		r.schemas[eventType] = make(map[string]*jsonschema.Schema)
	}
	r.schemas[eventType][version] = compiled
	return nil
}

// Validate checks payload bytes against the registered schema for event type/version.
func (r *SchemaRegistry) Validate(eventType, version string, payload []byte) error {
	if eventType == "" {
		return fmt.Errorf("eventType must be provided")
	}
	if version == "" {
		return fmt.Errorf("version must be provided")
	}

	r.mu.RLock()
	versions, ok := r.schemas[eventType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	schema, ok := versions[version]
	if !ok {
		return fmt.Errorf("%w: %q version %q", ErrUnknownEventType, eventType, version)
	}

	if len(payload) == 0 {
		return fmt.Errorf("payload is empty")
	}

	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}
	return nil
}

// ValidateEnvelope checks the payload against its schema and that the payload
// carries the same task id as the envelope.
func (r *SchemaRegistry) ValidateEnvelope(env Envelope) error {
	if err := r.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
		return err
	}
	var head struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(env.Data, &head); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if head.TaskID != env.TaskID {
		return fmt.Errorf("%w: %q vs %q", ErrTaskMismatch, env.TaskID, head.TaskID)
	}
	return nil
}
