package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema generates the JSON Schema for the perch configuration.
// It reflects the Config struct but excludes the free-form Extensions field.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		// Extension sections are validated by their owning tools, so unknown
		// top-level properties are allowed.
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}

	type baseConfig struct {
		Version string         `yaml:"version,omitempty" jsonschema:"description=Configuration version"`
		Nodes   []Node         `yaml:"nodes,omitempty" jsonschema:"description=Compute nodes to track"`
		Tracker TrackerConfig  `yaml:"tracker,omitempty" jsonschema:"description=Discovery and tailing tunables"`
		Logging map[string]any `yaml:"logging,omitempty" jsonschema:"description=Logging configuration"`
	}

	schema := r.Reflect(&baseConfig{})
	schema.Title = "Perch Configuration"
	schema.Description = "Schema for perch.yml properties."
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return json.MarshalIndent(schema, "", "  ")
}
