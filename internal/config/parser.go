package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseFile parses and validates the definition at path. The format is taken
// from the extension (.json, .yaml, .yml) or detected from the content.
func ParseFile(path string) *Result {
	result := &Result{FilePath: path}
	content, err := os.ReadFile(path)
	if err != nil {
		result.ParseErrors = append(result.ParseErrors, ParseError{
			Path:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
			Type:    ErrorTypeIO,
		})
		return result
	}
	parsed := ParseString(string(content), DetectFormat(path))
	parsed.FilePath = path
	for i := range parsed.ParseErrors {
		if parsed.ParseErrors[i].Path == "" {
			parsed.ParseErrors[i].Path = path
		}
	}
	return parsed
}

// ParseString parses and validates definition content. An empty format is
// detected from the content.
func ParseString(content, format string) *Result {
	result := &Result{Format: format}
	if format == "" {
		format = detectContentFormat(content)
		result.Format = format
	}

	var (
		data map[string]any
		perr *ParseError
	)
	switch format {
	case FormatJSON:
		data, perr = parseJSON(content)
	case FormatYAML:
		data, perr = parseYAML(content)
	default:
		perr = &ParseError{Message: fmt.Sprintf("unsupported format %q", format), Type: ErrorTypeFormat}
	}
	if perr != nil {
		result.ParseErrors = append(result.ParseErrors, *perr)
		return result
	}

	result.Data = data
	result.ValidationErrors = Validate(data).Errors
	return result
}

// DetectFormat returns the format implied by the file extension, or "".
func DetectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}

// detectContentFormat treats content starting with '{' as JSON and anything
// else as YAML.
func detectContentFormat(content string) string {
	if strings.HasPrefix(strings.TrimSpace(content), "{") {
		return FormatJSON
	}
	return FormatYAML
}

func parseJSON(content string) (map[string]any, *ParseError) {
	if strings.TrimSpace(content) == "" {
		return nil, &ParseError{Message: "empty content: expected JSON object", Type: ErrorTypeSyntax}
	}
	var data any
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return nil, jsonError(err, content)
	}
	return asObject(data, "JSON object")
}

func jsonError(err error, content string) *ParseError {
	pe := &ParseError{Message: err.Error(), Type: ErrorTypeSyntax}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		pe.Line, pe.Column = offsetToLineColumn(content, syntaxErr.Offset)
		pe.Message = fmt.Sprintf("JSON syntax error: %s", syntaxErr.Error())
	case errors.As(err, &typeErr):
		pe.Line, pe.Column = offsetToLineColumn(content, typeErr.Offset)
	}
	return pe
}

// offsetToLineColumn converts a byte offset to 1-based line and column numbers.
func offsetToLineColumn(content string, offset int64) (line, column int) {
	line, column = 1, 1
	for i := int64(0); i < offset && i < int64(len(content)); i++ {
		if content[i] == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return line, column
}

func parseYAML(content string) (map[string]any, *ParseError) {
	if strings.TrimSpace(content) == "" {
		return nil, &ParseError{Message: "empty content: expected YAML document", Type: ErrorTypeSyntax}
	}
	var data any
	if err := yaml.Unmarshal([]byte(content), &data); err != nil {
		return nil, yamlError(err)
	}
	// Round-trip through JSON so that YAML documents carry the same types as
	// JSON ones (float64 numbers, string-keyed maps).
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("unsupported YAML content: %v", err), Type: ErrorTypeFormat}
	}
	var normalized any
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&normalized); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("unsupported YAML content: %v", err), Type: ErrorTypeFormat}
	}
	return asObject(normalized, "YAML mapping")
}

func yamlError(err error) *ParseError {
	pe := &ParseError{Message: err.Error(), Type: ErrorTypeSyntax}
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		pe.Message = "YAML type error: " + strings.Join(typeErr.Errors, "; ")
	}
	var line int
	if _, scanErr := fmt.Sscanf(err.Error(), "yaml: line %d:", &line); scanErr == nil {
		pe.Line = line
	}
	return pe
}

func asObject(data any, want string) (map[string]any, *ParseError) {
	m, ok := data.(map[string]any)
	if !ok {
		return nil, &ParseError{Message: fmt.Sprintf("invalid definition: expected %s, got %T", want, data), Type: ErrorTypeFormat}
	}
	return m, nil
}
