package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrSchema is returned when a configuration document does not match the
// configuration schema.
var ErrSchema = errors.New("config does not match schema")

const schemaURL = "nimf://config.schema.json"

// Schema is the JSON schema every configuration document must satisfy,
// whatever its on-disk format.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "server": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "address": {"type": "string", "minLength": 1},
        "use_singleton": {"type": "boolean"},
        "hotkeys": {"type": "array", "items": {"type": "string"}},
        "default_engine": {"type": "string"},
        "xim": {"type": "boolean"},
        "xim_display": {"type": "string"}
      }
    },
    "ipc": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "write_timeout_ms": {"type": "integer", "minimum": 1},
        "max_connections": {"type": "integer", "minimum": 0},
        "allow_other_users": {"type": "boolean"}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "error"]},
        "format": {"enum": ["text", "json"]},
        "output": {"type": "string"},
        "file_path": {"type": "string"},
        "max_size_mb": {"type": "integer", "minimum": 1},
        "max_backups": {"type": "integer", "minimum": 0},
        "max_age_days": {"type": "integer", "minimum": 0},
        "compress": {"type": "boolean"},
        "add_source": {"type": "boolean"}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "address": {"type": "string"}
      }
    },
    "dbus": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"}
      }
    },
    "settings": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "database": {"type": "string"}
      }
    },
    "engines": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "active": {"type": "boolean"},
          "trigger_keys": {"type": "array", "items": {"type": "string"}},
          "options": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(Schema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks a decoded document against Schema. Values from
// the TOML and YAML decoders are normalized through JSON first so that
// numbers and maps have the shapes the validator expects.
func ValidateDocument(doc map[string]any) error {
	schema, err := configSchema()
	if err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalize config document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("normalize config document: %w", err)
	}
	if instance == nil {
		return nil
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return nil
}
