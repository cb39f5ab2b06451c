package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "Perch Configuration", schema["title"])

	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "nodes")
	assert.Contains(t, props, "tracker")
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	validator, err := NewSchemaValidator()
	require.NoError(t, err)

	cfg := &Config{
		Version: "1",
		Nodes: []Node{
			{Name: "local", Local: true},
			{Name: "buildbox", Address: "dev@buildbox"},
		},
		Tracker: TrackerConfig{ScanInterval: "3s"},
	}
	assert.NoError(t, validator.Validate(cfg))
}

func TestValidateRejectsNodeWithoutName(t *testing.T) {
	validator, err := NewSchemaValidator()
	require.NoError(t, err)

	cfg := &Config{Nodes: []Node{{Address: "dev@box"}}}
	err = validator.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}
