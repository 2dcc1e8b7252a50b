package config

import (
	"errors"
	"fmt"
)

// ErrInvalidDefinition is returned by Load when a definition cannot be parsed,
// fails validation or cannot be converted.
var ErrInvalidDefinition = errors.New("invalid pipeline definition")

// Load parses, validates and converts the definition file at path.
func Load(path string) (*Definition, error) {
	return definition(ParseFile(path))
}

// LoadString is Load for in-memory content. An empty format is detected.
func LoadString(content, format string) (*Definition, error) {
	return definition(ParseString(content, format))
}

func definition(r *Result) (*Definition, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, errors.Join(r.AllErrors()...))
	}
	def, err := Convert(r.Data)
	if err != nil {
		if r.FilePath != "" {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, r.FilePath, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return def, nil
}
