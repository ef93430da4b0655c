package manifest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// schemaJSON is the manifest's essential JSON schema (spec.md §6).
// Validated against loaded patchData.json bytes before they are
// unmarshaled into typed structs, so a corrupt or foreign-format
// manifest is rejected as an integrity error up front rather than
// failing deep inside bundle resolution.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["compression", "files", "bundles"],
  "properties": {
    "compression": {
      "type": "object",
      "required": ["enabled"],
      "properties": {
        "enabled": {"type": "boolean"},
        "level": {"type": ["integer", "null"]}
      }
    },
    "files": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["hash", "blocks"],
        "properties": {
          "hash": {"type": "string"},
          "blocks": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "bundles": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {
          "type": "object",
          "required": ["hash", "length", "blockOffset"],
          "properties": {
            "hash": {"type": "string"},
            "length": {"type": "integer"},
            "blockOffset": {"type": "integer"}
          }
        }
      }
    }
  }
}`

// IntegrityError marks a manifest/bundle inconsistency that should
// fail the apply rather than be retried as a transport problem.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("manifest integrity error: %s", e.Reason)
}

var schemaLoader = gojsonschema.NewStringLoader(schemaJSON)

// ValidateSchema checks raw manifest bytes against the essential JSON
// schema before they are parsed into typed structs.
func ValidateSchema(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("manifest: schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := ""
		for i, e := range result.Errors() {
			if i > 0 {
				msgs += "; "
			}
			msgs += e.String()
		}
		return &IntegrityError{Reason: "manifest failed schema validation: " + msgs}
	}
	return nil
}

// Parse validates raw manifest bytes against the schema and decodes
// them into a Manifest.
func Parse(raw []byte) (*Manifest, error) {
	if err := ValidateSchema(raw); err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	return &m, nil
}

// Load reads and parses a manifest file from disk.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Save writes the canonical JSON serialization of m to path, and
// returns its version hash: the SHA-256 hex digest of the exact bytes
// written, so `sha256(patchData.json) == version` holds on disk (the
// version file is a plain byte-hash of the manifest file, not a
// separate re-serialization of m).
func Save(m *Manifest, path string) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("manifest: serialize: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("manifest: write %s: %w", path, err)
	}
	return versionHashOf(data), nil
}
