package domain

// JSONSchema is the subset of JSON Schema sent to the model as an output constraint.
type JSONSchema struct {
	Type                 string                `json:"type"`
	Description          string                `json:"description,omitempty"`
	Properties           map[string]JSONSchema `json:"properties,omitempty"`
	Items                *JSONSchema           `json:"items,omitempty"`
	Required             []string              `json:"required,omitempty"`
	AdditionalProperties *bool                 `json:"additionalProperties,omitempty"`
}

// ResponseSchema names a JSONSchema for the json_schema response format.
// It is a hint for the upstream model only; replies are not validated against it.
type ResponseSchema struct {
	Name   string     `json:"name"`
	Strict bool       `json:"strict"`
	Schema JSONSchema `json:"schema"`
}
