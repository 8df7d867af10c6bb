// Package schema validates a tool call's arguments against the JSON Schema
// the tool itself declares via Tool.Parameters(), before the Tool Registry
// & Runner invokes Execute.
//
// Grounded on haasonsaas-nexus's use of invopop/jsonschema for generating
// tool parameter schemas (internal/agent's tool definitions); validating an
// incoming call against that schema is new surface the teacher never
// needed (it trusted its own in-process callers), built with
// santhosh-tekuri/jsonschema/v5, the draft 2020-12 validator the rest of
// the example pack reaches for when it needs a standalone compiled
// validator rather than a generator.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator compiles and caches one jsonschema.Schema per tool name so
// repeated calls to the same tool don't re-parse its schema document.
type Validator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewValidator returns an empty Validator.
func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate checks args against the JSON Schema document schemaDoc,
// compiling and caching it under name on first use. A nil or empty
// schemaDoc is treated as "no constraints" and always passes.
func (v *Validator) Validate(name string, schemaDoc json.RawMessage, args map[string]any) error {
	if len(schemaDoc) == 0 {
		return nil
	}

	compiled, err := v.compile(name, schemaDoc)
	if err != nil {
		return fmt.Errorf("schema: compile %s: %w", name, err)
	}

	// jsonschema validates decoded Go values (map[string]any / []any /
	// primitives), not raw JSON, so round-trip args through the same
	// decoder the library expects.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("schema: marshal args for %s: %w", name, err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("schema: decode args for %s: %w", name, err)
	}

	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("tool arguments for %s failed validation: %w", name, err)
	}
	return nil
}

func (v *Validator) compile(name string, schemaDoc json.RawMessage) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[name]; ok {
		return s, nil
	}

	url := "mem://tools/" + name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(schemaDoc)); err != nil {
		return nil, err
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	v.compiled[name] = s
	return s, nil
}
