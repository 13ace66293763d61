package persist

import (
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const nativeSchemaSrc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "tasks"],
  "properties": {
    "version": {"const": 1},
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "title", "priority", "status", "created_at"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "description": {"type": "string"},
          "priority": {"type": "integer"},
          "status": {"enum": ["pending", "in_progress", "done"]},
          "due_date": {"type": "string", "format": "date"},
          "created_at": {"type": "string", "format": "date-time"},
          "seq": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

const legacySchemaSrc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "titulo", "prioridade", "data_vencimento", "status"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "titulo": {"type": "string"},
      "prioridade": {"type": "integer", "minimum": 0, "maximum": 255},
      "data_vencimento": {"type": "string", "format": "date"},
      "status": {"enum": ["Pendente", "EmProgresso", "Concluida"]}
    }
  }
}`

var (
	nativeSchema = mustCompile("taskkit-native.json", nativeSchemaSrc)
	legacySchema = mustCompile("taskkit-legacy.json", legacySchemaSrc)
)

func mustCompile(name, src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("persist: add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// SchemaError is the first leaf violation of a schema check.
type SchemaError struct {
	Path    string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// validate checks doc (decoded into interface{} form) against schema.
func validate(schema *jsonschema.Schema, doc any) error {
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &SchemaError{Message: err.Error()}
	}
	if leaf := firstLeaf(ve); leaf != nil {
		return &SchemaError{Path: pointerToPath(leaf.InstanceLocation), Message: leaf.Message}
	}
	return &SchemaError{Message: ve.Message}
}

func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return ve
	}
	for _, c := range ve.Causes {
		if leaf := firstLeaf(c); leaf != nil {
			return leaf
		}
	}
	return nil
}

// pointerToPath renders "/tasks/0/status" as "tasks[0].status".
func pointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	var b strings.Builder
	for i, part := range strings.Split(ptr, "/") {
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		if isIndex(part) {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
