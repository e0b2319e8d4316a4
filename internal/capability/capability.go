package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Descriptor is the model-facing description of a capability.
type Descriptor struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	// ResourceClass is the rate-limit class acquired before each call.
	ResourceClass string   `json:"resource_class,omitempty"`
	SideEffects   []string `json:"side_effects,omitempty"`
	Checksum      string   `json:"checksum,omitempty"`
}

// Arguments are the untyped call arguments.
type Arguments map[string]interface{}

// Capability is one callable tool.
type Capability interface {
	Describe() Descriptor
	Execute(ctx context.Context, args Arguments) (Output, error)
}

// Classed is implemented by capabilities whose rate-limit class depends on arguments.
type Classed interface {
	ResourceClass(args Arguments) string
}

// Item is one collected record. Items are keyed by source and id.
type Item struct {
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Platform    string                 `json:"platform,omitempty"`
	Title       string                 `json:"title,omitempty"`
	URL         string                 `json:"url,omitempty"`
	Content     string                 `json:"content,omitempty"`
	Author      string                 `json:"author,omitempty"`
	PublishedAt *time.Time             `json:"published_at,omitempty"`
	Engagement  int64                  `json:"engagement,omitempty"`
	Keywords    []string               `json:"keywords,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Key identifies the item across rediscoveries.
func (it Item) Key() string {
	return it.Source + ":" + it.ID
}

// Text returns the searchable text of the item.
func (it Item) Text() string {
	return strings.TrimSpace(it.Title + "\n" + it.Content)
}

// Output is the tool-specific payload of a successful call.
type Output struct {
	Items    []Item          `json:"items,omitempty"`
	Keywords []string        `json:"keywords,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Tokens   int64           `json:"tokens,omitempty"`
}

// Result is the uniform outcome of one invocation.
type Result struct {
	Capability string        `json:"capability"`
	Success    bool          `json:"success"`
	Output     Output        `json:"output"`
	Error      string        `json:"error,omitempty"`
	Tokens     int64         `json:"tokens"`
	Duration   time.Duration `json:"duration"`
}

// ComputeChecksum returns a deterministic hash of the descriptor payload.
func ComputeChecksum(d Descriptor) (string, error) {
	payload := map[string]interface{}{
		"name":           d.Name,
		"version":        d.Version,
		"description":    d.Description,
		"input_schema":   d.InputSchema,
		"resource_class": d.ResourceClass,
		"side_effects":   d.SideEffects,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// ObjectSchema builds a minimal JSON schema for an object with the given
// properties. required lists mandatory property names.
func ObjectSchema(props map[string]string, required ...string) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	for name, typ := range props {
		properties[name] = map[string]interface{}{"type": typ}
	}
	schema := map[string]interface{}{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
