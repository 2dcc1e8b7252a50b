// Package config parses, validates and converts pipeline definition files
// (JSON or YAML) into a run configuration and a step sequence.
package config

import (
	"fmt"
	"strings"
)

// Supported definition formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Error types for categorizing parse errors
const (
	ErrorTypeIO     = "io"
	ErrorTypeSyntax = "syntax"
	ErrorTypeFormat = "format"
)

// ParseError is a parsing error with location information.
type ParseError struct {
	// Path is the file path where the error occurred
	Path string
	// Line is the line number (1-based, 0 if unknown)
	Line int
	// Column is the column number (1-based, 0 if unknown)
	Column int
	// Message is the error message
	Message string
	// Type is one of the ErrorType constants
	Type string
}

func (e ParseError) Error() string {
	var sb strings.Builder
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, "line %d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&sb, ", column %d", e.Column)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// ValidationError is a schema violation.
type ValidationError struct {
	// Path is the JSON pointer of the offending value, e.g. "/steps/0/kind"
	Path string
	// Type is a short classification (required, type, enum, pattern, ...)
	Type string
	// Message is the validator message
	Message string
}

func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Result is the outcome of parsing and validating a definition.
type Result struct {
	// Data is the parsed document, normalized to JSON types
	Data map[string]any
	// ParseErrors stops validation when not empty
	ParseErrors []ParseError
	// ValidationErrors lists every schema violation
	ValidationErrors []ValidationError
	// FilePath is the path of the definition file, if any
	FilePath string
	// Format is json or yaml
	Format string
}

// IsValid returns true if no errors occurred.
func (r *Result) IsValid() bool {
	return len(r.ParseErrors) == 0 && len(r.ValidationErrors) == 0
}

// AllErrors returns parsing and validation errors as one slice.
func (r *Result) AllErrors() []error {
	errs := make([]error, 0, len(r.ParseErrors)+len(r.ValidationErrors))
	for _, e := range r.ParseErrors {
		errs = append(errs, e)
	}
	for _, e := range r.ValidationErrors {
		errs = append(errs, e)
	}
	return errs
}
