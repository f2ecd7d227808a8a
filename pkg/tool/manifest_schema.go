package tool

// ManifestSchema is the JSON Schema every tool manifest must satisfy
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["kind"],
  "properties": {
    "name": {
      "type": "string",
      "pattern": "^[A-Za-z0-9_.:/-]+$",
      "description": "Name the tool is registered under; defaults to the implementation's own name"
    },
    "kind": {
      "type": "string",
      "minLength": 1,
      "description": "Catalog entry that implements the tool"
    },
    "description": {
      "type": "string"
    },
    "emotion": {
      "type": "string",
      "minLength": 1
    },
    "required_parameters": {
      "type": "array",
      "items": {
        "type": "string",
        "minLength": 1
      },
      "uniqueItems": true
    },
    "config": {
      "type": "object"
    },
    "disabled": {
      "type": "boolean"
    }
  },
  "additionalProperties": false
}`
