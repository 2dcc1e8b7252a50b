package input

import (
	"context"
	"fmt"

	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/pkg/connector"
)

// Static returns the records embedded in its config.
//
// Config:
//
//	records: list of records, or any value to emit as is
type Static struct{}

// NewStatic returns the static extractor.
func NewStatic() *Static { return &Static{} }

func (*Static) Name() string { return "static" }

func (*Static) Supports(config map[string]any) bool {
	_, ok := config["records"]
	return ok
}

func (*Static) Extract(ctx context.Context, config map[string]any) (connector.Value, error) {
	if err := ctx.Err(); err != nil {
		return connector.Value{}, err
	}
	raw, ok := config["records"]
	if !ok {
		return connector.Value{}, fmt.Errorf("%w: static: 'records' is required", ErrInvalidConfig)
	}
	// The config is shared with the cache key; hand out a private copy.
	return connector.ValueOf(pathutil.DeepCopy(raw)), nil
}
