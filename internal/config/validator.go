package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schema/pipeline-schema.json
var embeddedSchema []byte

const schemaURL = "https://canectors.io/schemas/flow/v1/pipeline-schema.json"

var printer = message.NewPrinter(language.English)

// Schema returns the embedded pipeline definition schema.
func Schema() []byte {
	return embeddedSchema
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(embeddedSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing embedded schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return s, nil
})

// ValidationResult is the outcome of a schema validation.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// Validate checks a parsed definition against the embedded schema.
func Validate(data map[string]any) *ValidationResult {
	result := &ValidationResult{Valid: true}
	if len(data) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Path: "/", Type: "required", Message: "definition is empty"})
		return result
	}

	schema, err := compiledSchema()
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Path: "/", Type: "schema", Message: err.Error()})
		return result
	}

	if err := schema.Validate(any(data)); err != nil {
		result.Valid = false
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			result.Errors = leafErrors(ve)
		}
		if len(result.Errors) == 0 {
			result.Errors = append(result.Errors, ValidationError{Path: "/", Type: "validation", Message: err.Error()})
		}
	}
	return result
}

// leafErrors flattens the validation tree into its most specific errors.
func leafErrors(err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) == 0 {
		return []ValidationError{{
			Path:    instancePath(err.InstanceLocation),
			Type:    errorType(err.ErrorKind),
			Message: err.ErrorKind.LocalizedString(printer),
		}}
	}
	var out []ValidationError
	for _, cause := range err.Causes {
		out = append(out, leafErrors(cause)...)
	}
	return out
}

func instancePath(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

func errorType(k jsonschema.ErrorKind) string {
	switch k.(type) {
	case *kind.Required:
		return "required"
	case *kind.AdditionalProperties:
		return "additionalProperties"
	case *kind.Type:
		return "type"
	case *kind.Pattern:
		return "pattern"
	case *kind.Enum, *kind.Const:
		return "enum"
	case *kind.Minimum, *kind.Maximum, *kind.MinItems, *kind.MinLength:
		return "range"
	default:
		return "validation"
	}
}
