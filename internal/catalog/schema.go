package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const driftSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "$defs": {
    "range": {
      "type": "array",
      "items": {"type": "number"},
      "minItems": 2,
      "maxItems": 2
    }
  },
  "properties": {
    "temperature":  {"$ref": "#/$defs/range"},
    "humidity":     {"$ref": "#/$defs/range"},
    "soilMoisture": {"$ref": "#/$defs/range"},
    "lightLux":     {"$ref": "#/$defs/range"},
    "oxygenPPM":    {"$ref": "#/$defs/range"},
    "pH":           {"$ref": "#/$defs/range"}
  },
  "required": ["temperature", "humidity", "soilMoisture", "lightLux", "oxygenPPM", "pH"]
}`

var driftSchema = jsonschema.MustCompileString("drift.schema.json", driftSchemaJSON)

// validateDrift checks a JSON or YAML drift document against the schema.
func validateDrift(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	// round-trip so the validator sees plain JSON types
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("drift: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return driftSchema.Validate(v)
}
