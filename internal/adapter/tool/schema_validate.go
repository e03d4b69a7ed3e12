package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"maestro/internal/domain"
)

// schemaValidatingTool wraps a Tool so Execute validates params against the
// tool's compiled JSON Schema before delegating. Validation failures come
// back as error ToolResults so the model can correct the arguments.
type schemaValidatingTool struct {
	inner  domain.Tool
	schema *jsonschema.Schema
}

// withSchemaValidation compiles the tool's parameter schema and wraps the
// tool with argument validation. Tools without a parameter schema are
// returned unwrapped. A schema that fails to compile is a programmer error
// and is reported to the caller.
func withSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}

	return &schemaValidatingTool{inner: t, schema: compiled}, nil
}

func (s *schemaValidatingTool) Name() string              { return s.inner.Name() }
func (s *schemaValidatingTool) Description() string       { return s.inner.Description() }
func (s *schemaValidatingTool) Schema() domain.ToolSchema { return s.inner.Schema() }

func (s *schemaValidatingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var v interface{}
	if err := json.Unmarshal(params, &v); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid JSON: %v", err),
		}, nil
	}

	if err := s.schema.Validate(v); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("schema validation failed: %v", err),
		}, nil
	}

	return s.inner.Execute(ctx, params)
}
