package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dzearing/ai-experiments-sub014/errors"
)

// configSchema constrains the shape of a config document before decoding.
// Struct-level Validate covers defaults and cross-field rules; the schema
// catches type mistakes and unknown top-level keys with useful positions.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["nats"],
  "properties": {
    "nats": {
      "type": "object",
      "additionalProperties": false,
      "required": ["url"],
      "properties": {
        "url": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "token": {"type": "string"},
        "timeout": {"type": "integer", "minimum": 0}
      }
    },
    "sync": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "subject_prefix": {"type": "string"},
        "snapshot_bucket": {"type": "string"}
      }
    },
    "resources": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["key", "path"],
        "properties": {
          "key": {"type": "string", "minLength": 1},
          "path": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string", "minLength": 1}
          }
        }
      }
    },
    "gateway": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "addr": {"type": "string"},
        "rate_limit": {"type": "number", "minimum": 0},
        "rate_burst": {"type": "integer", "minimum": 0}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "addr": {"type": "string"},
        "path": {"type": "string"}
      }
    },
    "log": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "format": {"type": "string", "enum": ["text", "json"]}
      }
    }
  }
}`

// Parse decodes and validates a JSON config document.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "decode config JSON")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateSchema checks a config document against the embedded schema and
// folds all violations into one error.
func validateSchema(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "validateSchema", "run schema validation")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return errors.WrapInvalid(
		fmt.Errorf("schema violations: %s", strings.Join(msgs, "; ")),
		"Config", "validateSchema", "check config document")
}

func marshalJSONValue(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode as JSON: %w", err)
	}
	return data, nil
}
