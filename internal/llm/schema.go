package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Frozen stage schema names. The backend can reject a mismatched schema
// identifier; validation here is authoritative either way.
const (
	SchemaExtractorV1 = "extractor_v1"
	SchemaPlannerV1   = "planner_v1"
	SchemaLegacyV1    = "legacy_v1"
	SchemaNLGV1       = "nlg_v1"
)

var stageSchemas = map[string]string{
	SchemaExtractorV1: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["intent", "confidence", "slots"],
		"properties": {
			"intent": {
				"type": "string",
				"enum": ["greeting", "info_hours", "info_price", "book", "cancel", "reschedule", "other"]
			},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"slots": {"type": "object"}
		},
		"additionalProperties": false
	}`,
	SchemaPlannerV1: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["tool_calls", "requires_user_response"],
		"properties": {
			"tool_calls": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["tool", "args"],
					"properties": {
						"tool": {"type": "string"},
						"args": {"type": "object"}
					},
					"additionalProperties": false
				}
			},
			"requires_user_response": {"type": "boolean"}
		},
		"additionalProperties": false
	}`,
	SchemaLegacyV1: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["assistant_text"],
		"properties": {
			"assistant_text": {"type": "string"},
			"tool_calls": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["tool"],
					"properties": {
						"tool": {"type": "string"},
						"args": {"type": "object"}
					}
				}
			},
			"patch": {
				"type": "object",
				"properties": {
					"slots": {"type": "object"},
					"slots_to_remove": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"additionalProperties": false
	}`,
	SchemaNLGV1: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["text"],
		"properties": {
			"text": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`,
}

var (
	schemaOnce    sync.Once
	compiled      map[string]*jsonschema.Schema
	schemaCompErr error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiled = make(map[string]*jsonschema.Schema, len(stageSchemas))
		for name, src := range stageSchemas {
			s, err := jsonschema.CompileString(name+".schema.json", src)
			if err != nil {
				schemaCompErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			compiled[name] = s
		}
	})
	return compiled, schemaCompErr
}

// ValidateSchema checks raw against the named stage schema.
func ValidateSchema(schemaName string, raw json.RawMessage) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[schemaName]
	if !ok {
		return fmt.Errorf("unknown schema %q", schemaName)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("schema %s: %w", schemaName, err)
	}
	return nil
}

// CompleteValidated calls the provider and validates the reply against the
// request's schema. On a validation failure it performs exactly one repair
// pass: re-asking with the invalid output and the error appended. If the
// repaired reply still fails, it returns ErrSchemaInvalid.
func CompleteValidated(ctx context.Context, p Provider, req Request) (json.RawMessage, Usage, error) {
	raw, usage, err := p.CompleteJSON(ctx, req)
	if err != nil {
		return nil, usage, err
	}
	verr := ValidateSchema(req.SchemaName, raw)
	if verr == nil {
		return raw, usage, nil
	}

	repair := req
	repair.User = fmt.Sprintf(
		"%s\n\nYour previous reply was rejected.\nReply: %s\nError: %s\nReturn corrected JSON only.",
		req.User, string(raw), verr.Error(),
	)
	repaired, usage2, err := p.CompleteJSON(ctx, repair)
	usage.PromptTokens += usage2.PromptTokens
	usage.CompletionTokens += usage2.CompletionTokens
	if err != nil {
		return nil, usage, err
	}
	if err := ValidateSchema(req.SchemaName, repaired); err != nil {
		return nil, usage, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	return repaired, usage, nil
}
