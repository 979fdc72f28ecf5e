package webhook

import (
	"bytes"
	"embed"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemasFS embed.FS

const schemaBaseURL = "https://notion-boards.local/schemas/"

const (
	schemaUpdated = "workitem-updated.json"
	schemaCreated = "workitem-created.json"
	schemaDeleted = "workitem-deleted.json"
)

// schemaSet holds the compiled service hook schemas keyed by file name.
type schemaSet struct {
	schemas map[string]*jsonschema.Schema
}

func loadSchemas() (*schemaSet, error) {
	compiler := jsonschema.NewCompiler()
	names := []string{schemaUpdated, schemaCreated, schemaDeleted}

	for _, name := range names {
		raw, err := schemasFS.ReadFile(path.Join("schemas", name))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaBaseURL+name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	set := &schemaSet{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		schema, err := compiler.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		set.schemas[name] = schema
	}
	return set, nil
}

// validate checks payload against the named schema. Failures wrap
// ErrInvalidPayload.
func (s *schemaSet) validate(name string, payload []byte) error {
	schema, ok := s.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %s", name)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
