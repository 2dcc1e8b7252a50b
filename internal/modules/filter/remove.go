package filter

import (
	"context"

	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/pkg/connector"
)

// Remove deletes fields from every record. Missing fields are ignored.
//
// Config: target (one path) and/or targets (list of paths); at least one is required.
type Remove struct{}

// NewRemove returns the remove transformer.
func NewRemove() *Remove { return &Remove{} }

func (*Remove) Name() string { return "remove" }

func (*Remove) Supports(config map[string]any) bool {
	return len(removeTargets(config)) > 0
}

// removeTargets merges target and targets, dropping duplicates and empty paths.
func removeTargets(config map[string]any) []string {
	var raw []string
	if list, ok := config["targets"].([]any); ok {
		for _, t := range list {
			if s, ok := t.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	if t, ok := config["target"].(string); ok {
		raw = append(raw, t)
	}
	seen := make(map[string]bool, len(raw))
	targets := raw[:0]
	for _, t := range raw {
		if t != "" && !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	return targets
}

func (*Remove) Transform(ctx context.Context, in connector.Value, config map[string]any) (connector.Value, error) {
	targets := removeTargets(config)
	if len(targets) == 0 {
		return connector.Value{}, configError("remove", "at least one target field path is required")
	}
	return processRecords(ctx, "remove", in, OnErrorFail, func(_ context.Context, _ int, rec connector.Record) (connector.Record, bool, error) {
		for _, t := range targets {
			pathutil.Delete(rec, t)
		}
		return rec, true, nil
	})
}
