package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultTriggerField is used when a schema omits x-schema-trigger-field.
	DefaultTriggerField = "action"

	// TriggerFieldExtension names the primary-schema field whose value selects
	// a secondary schema.
	TriggerFieldExtension = "x-schema-trigger-field"
	// SchemaMapExtension maps trigger values to secondary schema references.
	SchemaMapExtension = "x-schema-map"

	triggerFieldAlias = "triggerField"
	schemaMapAlias    = "schemaMap"
)

var (
	// ErrEmptySchema is returned when Parse receives no payload.
	ErrEmptySchema = errors.New("schema: payload is empty")
	// ErrNotObject is returned when the root schema does not describe an object.
	ErrNotObject = errors.New("schema: root schema must describe an object")
)

// Schema is a parsed object schema plus the extension attributes the engine
// cares about. The zero value is an empty schema with no properties.
type Schema struct {
	value     *openapi3.Schema
	raw       []byte
	trigger   string
	schemaMap SchemaMap
}

// Parse decodes a JSON object schema. Refs into the document itself
// ("#/definitions/...", "#/$defs/..." or anchors) are inlined; refs to other
// documents fail with ErrExternalRef, see FromDocumentWithRefs.
func Parse(raw []byte) (Schema, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return Schema{}, ErrEmptySchema
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Schema{}, fmt.Errorf("schema: decode payload: %w", err)
	}

	decoded := raw
	if hasRefs(payload) {
		expanded, err := expandLocalRefs(payload)
		if err != nil {
			return Schema{}, err
		}
		if decoded, err = json.Marshal(expanded); err != nil {
			return Schema{}, fmt.Errorf("schema: encode expanded schema: %w", err)
		}
	}

	value := &openapi3.Schema{}
	if err := value.UnmarshalJSON(decoded); err != nil {
		return Schema{}, fmt.Errorf("schema: decode schema: %w", err)
	}
	if value.Type != nil && !value.Type.Is(openapi3.TypeObject) {
		return Schema{}, ErrNotObject
	}

	trigger, err := readTriggerField(payload)
	if err != nil {
		return Schema{}, err
	}
	mapping, err := readSchemaMap(payload)
	if err != nil {
		return Schema{}, err
	}

	return Schema{
		value:     value,
		raw:       append([]byte(nil), raw...),
		trigger:   trigger,
		schemaMap: mapping,
	}, nil
}

// ParseYAML decodes a YAML object schema by converting it to JSON first.
func ParseYAML(raw []byte) (Schema, error) {
	if strings.TrimSpace(string(raw)) == "" {
		return Schema{}, ErrEmptySchema
	}
	var node any
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return Schema{}, fmt.Errorf("schema: decode yaml: %w", err)
	}
	data, err := json.Marshal(normalizeYAML(node))
	if err != nil {
		return Schema{}, fmt.Errorf("schema: convert yaml: %w", err)
	}
	return Parse(data)
}

// FromDocument parses a loaded document, choosing YAML or JSON from the
// location extension. Unknown extensions are treated as JSON.
func FromDocument(doc Document) (Schema, error) {
	if doc.IsYAML() {
		return ParseYAML(doc.Raw())
	}
	return Parse(doc.Raw())
}

// MustParse panics if the payload cannot be parsed. Useful for tests.
func MustParse(raw string) Schema {
	s, err := Parse([]byte(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// IsZero reports whether the schema was never parsed.
func (s Schema) IsZero() bool {
	return s.value == nil
}

// Value exposes the underlying kin-openapi schema for validation. It returns
// an empty object schema for the zero value.
func (s Schema) Value() *openapi3.Schema {
	if s.value == nil {
		return openapi3.NewObjectSchema()
	}
	return s.value
}

// Raw returns a copy of the payload the schema was parsed from.
func (s Schema) Raw() []byte {
	return append([]byte(nil), s.raw...)
}

// Title returns the schema title, if any.
func (s Schema) Title() string {
	if s.value == nil {
		return ""
	}
	return strings.TrimSpace(s.value.Title)
}

// Properties returns the sorted top-level property names.
func (s Schema) Properties() []string {
	if s.value == nil || len(s.value.Properties) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.value.Properties))
	for name := range s.value.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasProperty reports whether name is a top-level property of the schema.
func (s Schema) HasProperty(name string) bool {
	if s.value == nil {
		return false
	}
	_, ok := s.value.Properties[name]
	return ok
}

// Property returns the descriptor of a top-level property.
func (s Schema) Property(name string) (*openapi3.Schema, bool) {
	if s.value == nil {
		return nil, false
	}
	ref, ok := s.value.Properties[name]
	if !ok || ref == nil || ref.Value == nil {
		return nil, false
	}
	return ref.Value, true
}

// Required returns the required top-level property names.
func (s Schema) Required() []string {
	if s.value == nil {
		return nil
	}
	return append([]string(nil), s.value.Required...)
}

// IsRequired reports whether name is listed in the required set.
func (s Schema) IsRequired(name string) bool {
	if s.value == nil {
		return false
	}
	for _, candidate := range s.value.Required {
		if candidate == name {
			return true
		}
	}
	return false
}

// TriggerField returns the field whose value selects a secondary schema.
func (s Schema) TriggerField() string {
	if s.trigger == "" {
		return DefaultTriggerField
	}
	return s.trigger
}

// WithTriggerFallback returns a copy of s whose trigger field is field when
// the schema does not declare one.
func (s Schema) WithTriggerFallback(field string) Schema {
	field = strings.TrimSpace(field)
	if s.trigger == "" && field != "" {
		s.trigger = field
	}
	return s
}

// SchemaMap returns the trigger value to schema reference mapping.
func (s Schema) SchemaMap() SchemaMap {
	return s.schemaMap
}

// MarshalJSON emits the original payload.
func (s Schema) MarshalJSON() ([]byte, error) {
	if len(s.raw) == 0 {
		return []byte("{}"), nil
	}
	return s.Raw(), nil
}

func readTriggerField(payload map[string]any) (string, error) {
	for _, key := range []string{TriggerFieldExtension, triggerFieldAlias} {
		raw, ok := payload[key]
		if !ok || raw == nil {
			continue
		}
		value, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("schema: %s must be a string", key)
		}
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed, nil
		}
	}
	return "", nil
}

func readSchemaMap(payload map[string]any) (SchemaMap, error) {
	for _, key := range []string{SchemaMapExtension, schemaMapAlias} {
		raw, ok := payload[key]
		if !ok || raw == nil {
			continue
		}
		entries, ok := raw.(map[string]any)
		if !ok {
			return SchemaMap{}, fmt.Errorf("schema: %s must be an object", key)
		}
		out := make(map[string]string, len(entries))
		for trigger, ref := range entries {
			str, ok := ref.(string)
			if !ok || strings.TrimSpace(str) == "" {
				return SchemaMap{}, fmt.Errorf("schema: %s[%q] must be a non-empty string", key, trigger)
			}
			out[trigger] = strings.TrimSpace(str)
		}
		return NewSchemaMap(out), nil
	}
	return SchemaMap{}, nil
}

func normalizeYAML(node any) any {
	switch typed := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = normalizeYAML(value)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[fmt.Sprint(key)] = normalizeYAML(value)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = normalizeYAML(value)
		}
		return out
	default:
		return typed
	}
}
