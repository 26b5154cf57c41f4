package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaDocument names a JSON Schema definition. Key must be stable for the lifetime
// of the process because compiled schemas are cached by it.
type SchemaDocument struct {
	Key        string
	Definition []byte
}

// SchemaViolationError lists every schema failure of a document by JSON pointer
// (without the leading slash). Failures on the document itself use RootField.
type SchemaViolationError struct {
	Fields map[string][]string
}

// RootField keys violations that are not attached to a property.
const RootField = "settings"

func (e *SchemaViolationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "schema violations: " + strings.Join(keys, ", ")
}

// SchemaValidator compiles draft 2020-12 schemas once per key and validates payloads
// against them. Safe for concurrent use.
type SchemaValidator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate checks payload against schema. Documents that do not match return a
// *SchemaViolationError; broken schemas and undecodable payloads return plain errors.
func (v *SchemaValidator) Validate(_ context.Context, schema SchemaDocument, payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return fmt.Errorf("payload is required for validation")
	}

	compiled, err := v.schema(schema)
	if err != nil {
		return err
	}

	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	err = compiled.Validate(document)
	var failure *jsonschema.ValidationError
	if errors.As(err, &failure) {
		return &SchemaViolationError{Fields: flattenViolations(failure)}
	}
	return err
}

func (v *SchemaValidator) schema(doc SchemaDocument) (*jsonschema.Schema, error) {
	v.mu.RLock()
	compiled, ok := v.compiled[doc.Key]
	v.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if compiled, ok = v.compiled[doc.Key]; ok {
		return compiled, nil
	}

	url := "memory://schemas/" + doc.Key + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(doc.Definition)); err != nil {
		return nil, fmt.Errorf("register schema %s: %w", doc.Key, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", doc.Key, err)
	}
	v.compiled[doc.Key] = compiled
	return compiled, nil
}

// flattenViolations keeps the leaf causes only; intermediate nodes just say "doesn't validate".
func flattenViolations(root *jsonschema.ValidationError) map[string][]string {
	fields := map[string][]string{}
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, cause := range e.Causes {
				walk(cause)
			}
			return
		}
		field := strings.TrimPrefix(e.InstanceLocation, "/")
		if field == "" {
			field = RootField
		}
		fields[field] = append(fields[field], e.Message)
	}
	walk(root)

	for field := range fields {
		sort.Strings(fields[field])
	}
	return fields
}
