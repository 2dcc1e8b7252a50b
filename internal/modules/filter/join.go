package filter

import (
	"context"
	"fmt"

	"github.com/canectors/flow/internal/join"
	"github.com/canectors/flow/internal/modules/input"
	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/internal/runtime"
	"github.com/canectors/flow/pkg/connector"
)

// Join combines the carried records with a right-hand record list.
//
// Config:
//
//	key:       dotted path of the join key (required)
//	mode:      nested (default) or parallel
//	right:     inline right-hand records
//	rightFile: JSON, YAML or CSV file of right-hand records (instead of right)
//	dataField: records path inside rightFile
//	as:        nest the matching right record under this field instead of merging
type Join struct {
	files *input.File
}

// NewJoin returns the join transformer.
func NewJoin() *Join { return &Join{files: input.NewFile()} }

func (*Join) Name() string { return "join" }

func (*Join) Supports(config map[string]any) bool {
	key, _ := config["key"].(string)
	_, hasRight := config["right"]
	_, hasFile := config["rightFile"].(string)
	return key != "" && hasRight != hasFile
}

func (j *Join) Transform(ctx context.Context, in connector.Value, config map[string]any) (connector.Value, error) {
	spec, err := joinSpec(config)
	if err != nil {
		return connector.Value{}, err
	}
	right, err := j.right(ctx, config)
	if err != nil {
		return connector.Value{}, err
	}
	if in.IsNull() {
		in = connector.Records(nil)
	}
	out, err := runtime.ToolkitFrom(ctx).Join(in, right, spec)
	if err != nil {
		return connector.Value{}, fmt.Errorf("join: %w", err)
	}
	return out, nil
}

func joinSpec(config map[string]any) (join.Spec, error) {
	key, _ := config["key"].(string)
	if key == "" {
		return join.Spec{}, configError("join", "'key' is required")
	}
	modeName, _ := config["mode"].(string)
	mode, err := join.ParseMode(modeName)
	if err != nil {
		return join.Spec{}, configError("join", "%v", err)
	}
	spec := join.Spec{Key: key, Mode: mode}
	if as, _ := config["as"].(string); as != "" {
		spec.Combine = nestUnder(as)
	}
	return spec, nil
}

// nestUnder stores the right record under field. Right-only records of a
// parallel join become {field: right}.
func nestUnder(field string) join.CombineFunc {
	return func(left, right connector.Record) connector.Record {
		out := pathutil.CopyRecord(left)
		if out == nil {
			out = connector.Record{}
		}
		if right != nil {
			out[field] = pathutil.CopyRecord(right)
		}
		return out
	}
}

func (j *Join) right(ctx context.Context, config map[string]any) (connector.Value, error) {
	if file, ok := config["rightFile"].(string); ok {
		fileCfg := map[string]any{"path": file}
		if df, ok := config["dataField"].(string); ok {
			fileCfg["dataField"] = df
		}
		v, err := j.files.Extract(ctx, fileCfg)
		if err != nil {
			return connector.Value{}, fmt.Errorf("join: loading right side: %w", err)
		}
		return v, nil
	}
	raw, ok := config["right"]
	if !ok {
		return connector.Value{}, configError("join", "one of 'right' or 'rightFile' is required")
	}
	return connector.ValueOf(pathutil.DeepCopy(raw)), nil
}
