package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// jsonSchema is the subset of JSON Schema the tool definitions use.
type jsonSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Properties  map[string]*jsonSchema `json:"properties"`
	Required    []string               `json:"required"`
	Items       *jsonSchema            `json:"items"`
	Enum        []string               `json:"enum"`
	Minimum     *float64               `json:"minimum"`
}

// ToSchema converts a JSON Schema document into a Gemini schema. A nil or
// empty document yields nil.
func ToSchema(raw json.RawMessage) (*genai.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var js jsonSchema
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, fmt.Errorf("invalid parameter schema: %w", err)
	}
	return js.convert(), nil
}

func (s *jsonSchema) convert() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Minimum:     s.Minimum,
		Items:       s.Items.convert(),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = prop.convert()
		}
	}
	return out
}
