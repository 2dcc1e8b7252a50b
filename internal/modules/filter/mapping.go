package filter

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/internal/runtime"
	"github.com/canectors/flow/pkg/connector"
)

// Mapping builds records from expr-lang field expressions.
//
// Config:
//
//	fields:       map of target path to expression, evaluated with the record as environment (required)
//	keepOriginal: start from a copy of the input record instead of an empty one
//	onError:      fail (default), skip or log
//
// Records are processed through the stream processor of the run, so with
// streaming enabled a failing chunk is logged and skipped.
type Mapping struct{}

// NewMapping returns the mapping transformer.
func NewMapping() *Mapping { return &Mapping{} }

func (*Mapping) Name() string { return "mapping" }

func (*Mapping) Supports(config map[string]any) bool {
	_, err := parseFields(config)
	return err == nil
}

type fieldMapping struct {
	target  string
	source  string
	program *vm.Program
}

// parseFields compiles the field expressions in sorted target order.
func parseFields(config map[string]any) ([]fieldMapping, error) {
	raw, ok := config["fields"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil, configError("mapping", "'fields' must be a non-empty object")
	}
	fields := make([]fieldMapping, 0, len(raw))
	for _, target := range slices.Sorted(maps.Keys(raw)) {
		source, ok := raw[target].(string)
		if !ok {
			return nil, configError("mapping", "field %q: expression must be a string", target)
		}
		program, err := compile(source)
		if err != nil {
			return nil, configError("mapping", "field %q: %v", target, err)
		}
		fields = append(fields, fieldMapping{target: target, source: source, program: program})
	}
	return fields, nil
}

func (*Mapping) Transform(ctx context.Context, in connector.Value, config map[string]any) (connector.Value, error) {
	fields, err := parseFields(config)
	if err != nil {
		return connector.Value{}, err
	}
	keep, _ := config["keepOriginal"].(bool)
	onError := normalizeOnError("mapping", config["onError"])

	records, single, err := recordsOf(in)
	if err != nil {
		return connector.Value{}, fmt.Errorf("mapping: %w", err)
	}
	items := make([]any, len(records))
	for i, r := range records {
		items[i] = r
	}

	chunk := func(ctx context.Context, chunk []any) (any, error) {
		out := make([]any, 0, len(chunk))
		for i, item := range chunk {
			rec := item.(connector.Record)
			mapped, err := mapRecord(rec, fields, keep)
			if err != nil {
				if !handleRecordError("mapping", i, onError, err) {
					return nil, err
				}
				if onError == OnErrorLog {
					out = append(out, rec)
				}
				continue
			}
			out = append(out, mapped)
		}
		return out, nil
	}

	results, err := runtime.ToolkitFrom(ctx).Stream(ctx, items, chunk, nil)
	if err != nil {
		return connector.Value{}, fmt.Errorf("mapping: %w", err)
	}
	mapped := make([]connector.Record, 0, len(results))
	for _, r := range results {
		if rec, ok := r.(connector.Record); ok {
			mapped = append(mapped, rec)
		}
	}
	return wrapRecords(mapped, single), nil
}

func mapRecord(rec connector.Record, fields []fieldMapping, keep bool) (connector.Record, error) {
	out := connector.Record{}
	if keep {
		out = pathutil.CopyRecord(rec)
	}
	for _, f := range fields {
		v, err := expr.Run(f.program, rec)
		if err != nil {
			return nil, fmt.Errorf("field %q (%s): %w", f.target, f.source, err)
		}
		if err := pathutil.Set(out, f.target, v); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.target, err)
		}
	}
	return out, nil
}
