package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// JSON Schema type names used by fields.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

type Field struct {
	Name        string
	Title       string
	Description string
	Type        string
	Required    bool
	Enum        []any
	Default     any
	MinLength   *int
	// Multiline renders a text area instead of a single line input.
	Multiline bool
	// Editable marks parameters that may be patched after creation.
	Editable bool
}

// Schema declares the fields of a payload or of a factory's creation form. It
// produces the JSON Schema and UI layout exposed in listings, and cleans
// incoming maps against them.
type Schema struct {
	Title  string
	Fields []Field

	once     sync.Once
	resolved map[string]*jsonschema.Resolved
	err      error
}

func NewSchema(title string, fields ...Field) *Schema {
	return &Schema{Title: title, Fields: fields}
}

func intPtr(n int) *int { return &n }

// PromptSchema is the classic single prompt form.
func PromptSchema() *Schema {
	return NewSchema("Prompt", Field{
		Name:      "prompt",
		Title:     "Prompt",
		Type:      TypeString,
		Required:  true,
		MinLength: intPtr(1),
		Multiline: true,
	})
}

func (f Field) jsonSchema() (*jsonschema.Schema, error) {
	js := &jsonschema.Schema{
		Type:        f.Type,
		Title:       f.Title,
		Description: f.Description,
		Enum:        f.Enum,
		MinLength:   f.MinLength,
	}
	if f.Default != nil {
		raw, err := json.Marshal(f.Default)
		if err != nil {
			return nil, fmt.Errorf("field %s default: %w", f.Name, err)
		}
		js.Default = raw
	}
	return js, nil
}

// JSONSchema returns the object schema of all fields.
func (s *Schema) JSONSchema() *jsonschema.Schema {
	root := &jsonschema.Schema{
		Type:       TypeObject,
		Title:      s.Title,
		Properties: make(map[string]*jsonschema.Schema, len(s.Fields)),
	}
	for _, f := range s.Fields {
		js, err := f.jsonSchema()
		if err != nil {
			// defaults are Go literals; a failure here is a programming error
			panic(err)
		}
		root.Properties[f.Name] = js
		if f.Required {
			root.Required = append(root.Required, f.Name)
		}
	}
	return root
}

// UISchema returns a vertical form layout with one control per field.
func (s *Schema) UISchema() map[string]any {
	elements := make([]map[string]any, 0, len(s.Fields))
	editable := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		control := map[string]any{
			"type":  "Control",
			"scope": "#/properties/" + f.Name,
		}
		if f.Multiline {
			control["options"] = map[string]any{"multi": true}
		}
		elements = append(elements, control)
		editable[f.Name] = f.Editable
	}
	return map[string]any{
		"type":              "VerticalLayout",
		"elements":          elements,
		"editable_elements": editable,
	}
}

// Editable reports whether any field may be patched after creation.
func (s *Schema) Editable() bool {
	for _, f := range s.Fields {
		if f.Editable {
			return true
		}
	}
	return false
}

func (s *Schema) resolve() error {
	s.once.Do(func() {
		s.resolved = make(map[string]*jsonschema.Resolved, len(s.Fields))
		for _, f := range s.Fields {
			js, err := f.jsonSchema()
			if err != nil {
				s.err = err
				return
			}
			rs, err := js.Resolve(nil)
			if err != nil {
				s.err = fmt.Errorf("field %s: %w", f.Name, err)
				return
			}
			s.resolved[f.Name] = rs
		}
	})
	return s.err
}

// Clean validates payload and returns the cleaned map: declared fields only,
// defaults applied, numbers normalized to their JSON form. Violations are
// reported together as a *ValidationError.
func (s *Schema) Clean(payload map[string]any) (map[string]any, error) {
	return s.clean(payload, false)
}

// CleanPartial validates only the fields present in payload.
func (s *Schema) CleanPartial(payload map[string]any) (map[string]any, error) {
	return s.clean(payload, true)
}

func (s *Schema) clean(payload map[string]any, partial bool) (map[string]any, error) {
	if err := s.resolve(); err != nil {
		return nil, configErr("schema %q: %v", s.Title, err)
	}
	normalized, err := normalize(payload)
	if err != nil {
		return nil, &ValidationError{Errors: []FieldError{{Message: err.Error()}}}
	}

	out := make(map[string]any, len(s.Fields))
	var errs []FieldError
	for _, f := range s.Fields {
		v, ok := normalized[f.Name]
		if !ok || v == nil {
			if partial {
				continue
			}
			if f.Default != nil {
				out[f.Name] = jsonValue(f.Default)
				continue
			}
			if f.Required {
				errs = append(errs, FieldError{Field: f.Name, Message: "field required"})
			}
			continue
		}
		if err := s.resolved[f.Name].Validate(v); err != nil {
			errs = append(errs, FieldError{Field: f.Name, Message: err.Error()})
			continue
		}
		out[f.Name] = v
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return out, nil
}

// normalize round-trips m through JSON so values have the shapes a decoded
// request body would have.
func normalize(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func jsonValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
