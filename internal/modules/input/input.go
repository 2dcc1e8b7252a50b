// Package input provides the built-in extractors: static records, local files
// and HTTP endpoints.
package input

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/pkg/connector"
)

// ErrInvalidConfig is returned when an extractor config is missing a required field.
var ErrInvalidConfig = errors.New("invalid extractor config")

// selectData returns the value at dataField inside data, or data itself when
// dataField is empty.
func selectData(data any, dataField string) (any, error) {
	if dataField == "" {
		return data, nil
	}
	obj, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("dataField %q: response is not an object", dataField)
	}
	v, ok := pathutil.Get(obj, dataField)
	if !ok {
		return nil, fmt.Errorf("dataField %q not found in response", dataField)
	}
	return v, nil
}

func decodeJSON(raw []byte, dataField string) (connector.Value, error) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return connector.Value{}, fmt.Errorf("decoding JSON: %w", err)
	}
	selected, err := selectData(data, dataField)
	if err != nil {
		return connector.Value{}, err
	}
	return connector.ValueOf(selected), nil
}
