package adapter

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBaseURL = "https://catalogsync.local/schema/"

//go:embed schema/*.json
var schemaFS embed.FS

var (
	unitSchema     = mustCompile("unit.json")
	buildingSchema = mustCompile("building.json")
)

func mustCompile(name string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	for _, file := range []string{"unit.json", "building.json"} {
		data, err := schemaFS.ReadFile("schema/" + file)
		if err != nil {
			panic(fmt.Sprintf("read schema %s: %v", file, err))
		}
		if err := compiler.AddResource(schemaBaseURL+file, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("add schema %s: %v", file, err))
		}
	}

	schema, err := compiler.Compile(schemaBaseURL + name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// validate checks a canonical value against schema by round-tripping it
// through JSON, the same shape downstream consumers read.
func validate(schema *jsonschema.Schema, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
