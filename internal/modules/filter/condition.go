package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/canectors/flow/pkg/connector"
)

// Condition keeps the records for which an expression holds.
//
// Config:
//
//	expression: expr-lang predicate evaluated with the record as environment (required)
//	onError:    fail (default), skip or log
//
// Non-boolean results are truthy when non-zero and non-empty.
type Condition struct{}

// NewCondition returns the condition transformer.
func NewCondition() *Condition { return &Condition{} }

func (*Condition) Name() string { return "condition" }

func (*Condition) Supports(config map[string]any) bool {
	s, _ := config["expression"].(string)
	if strings.TrimSpace(s) == "" {
		return false
	}
	_, err := compile(s)
	return err == nil
}

func (*Condition) Transform(ctx context.Context, in connector.Value, config map[string]any) (connector.Value, error) {
	source, _ := config["expression"].(string)
	if strings.TrimSpace(source) == "" {
		return connector.Value{}, configError("condition", "'expression' is required")
	}
	program, err := compile(source)
	if err != nil {
		return connector.Value{}, configError("condition", "%v", err)
	}
	onError := normalizeOnError("condition", config["onError"])

	return processRecords(ctx, "condition", in, onError, func(_ context.Context, _ int, rec connector.Record) (connector.Record, bool, error) {
		out, err := expr.Run(program, rec)
		if err != nil {
			return nil, false, fmt.Errorf("evaluating %q: %w", source, err)
		}
		return rec, toBool(out), nil
	})
}
