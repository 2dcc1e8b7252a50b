package filter

import (
	"context"

	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/pkg/connector"
)

// Set writes a literal value at a dotted path of every record, creating
// intermediate objects as needed.
//
// Config: target (required), value (required, may be null).
type Set struct{}

// NewSet returns the set transformer.
func NewSet() *Set { return &Set{} }

func (*Set) Name() string { return "set" }

func (*Set) Supports(config map[string]any) bool {
	target, _ := config["target"].(string)
	_, hasValue := config["value"]
	return target != "" && hasValue
}

func (*Set) Transform(ctx context.Context, in connector.Value, config map[string]any) (connector.Value, error) {
	target, _ := config["target"].(string)
	if target == "" {
		return connector.Value{}, configError("set", "'target' is required and must be a non-empty string")
	}
	value, ok := config["value"]
	if !ok {
		return connector.Value{}, configError("set", "'value' is required")
	}

	return processRecords(ctx, "set", in, OnErrorFail, func(_ context.Context, _ int, rec connector.Record) (connector.Record, bool, error) {
		if err := pathutil.Set(rec, target, pathutil.DeepCopy(value)); err != nil {
			return nil, false, err
		}
		return rec, true, nil
	})
}
