package domain

import "context"

// Tool is one side-effecting capability the model may invoke.
type Tool interface {
	Name() string
	Description() string
	Fields() []Field
	Execute(ctx context.Context, in Input) (string, error)
}

// InputValidator is implemented by tools with constraints beyond field types.
// It runs after field validation and before Execute.
type InputValidator interface {
	Validate(in Input) error
}

type FieldKind string

const (
	KindString  FieldKind = "string"
	KindBoolean FieldKind = "boolean"
	KindInteger FieldKind = "integer"
)

// Field describes one named tool input.
type Field struct {
	Name        string
	Description string
	Kind        FieldKind
	Required    bool
	// NonEmpty rejects a present but blank string value.
	NonEmpty bool
	Default  any
}

// Input holds validated arguments; values already have the Go type matching
// their field kind (string, bool or int).
type Input map[string]any

func (in Input) String(key string) string {
	s, _ := in[key].(string)
	return s
}

func (in Input) Bool(key string) bool {
	b, _ := in[key].(bool)
	return b
}

func (in Input) Int(key string) int {
	n, _ := in[key].(int)
	return n
}

func (in Input) Has(key string) bool {
	_, ok := in[key]
	return ok
}

// ToolDescriptor is the projection of a tool handed to the inference gateway.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}
