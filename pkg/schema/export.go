package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from
// the PipelineDoc wire struct using invopop/jsonschema. The output is what
// `flume schema` prints and what the semantic validation phase compiles.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&PipelineDoc{})
	s.ID = "https://github.com/ormasoftchile/flume/schemas/pipeline-v0.json"
	s.Title = "Flume Pipeline v0"
	s.Description = "Schema for flume pipeline YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
