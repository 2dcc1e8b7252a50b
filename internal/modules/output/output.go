// Package output provides the built-in loaders. Loaders deliver the carried
// value and return a summary value that the pipeline ignores.
package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/canectors/flow/internal/errhandling"
	"github.com/canectors/flow/pkg/connector"
)

// Supported encodings
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ErrInvalidConfig is returned when a loader config is invalid.
var ErrInvalidConfig = errors.New("invalid loader config")

func configError(module, format string, args ...any) error {
	return errhandling.Permanent(fmt.Errorf("%w: %s: %s", ErrInvalidConfig, module, fmt.Sprintf(format, args...)))
}

// items flattens v into the units a loader writes: the elements of a list,
// the value itself otherwise, nothing for null.
func items(v connector.Value) []any {
	switch v.Kind() {
	case connector.KindNull:
		return nil
	case connector.KindList:
		list, _ := v.AsList()
		return list
	default:
		return []any{v.Interface()}
	}
}

// summary is the value returned by loaders.
func summary(loaded int) connector.Value {
	return connector.Map(map[string]any{"loaded": loaded})
}

func parseFormat(module string, config map[string]any) (string, error) {
	format, _ := config["format"].(string)
	switch format {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", configError(module, "unsupported format %q", format)
	}
}

// encode renders v in format. JSON output is indented when pretty is set.
func encode(v connector.Value, format string, pretty bool) ([]byte, error) {
	if format == FormatYAML {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v.Interface()); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		return buf.Bytes(), nil
	}
	var (
		out []byte
		err error
	)
	if pretty {
		out, err = json.MarshalIndent(v, "", "  ")
	} else {
		out, err = json.Marshal(v)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding json: %w", err)
	}
	return append(out, '\n'), nil
}
