package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/canectors/flow/pkg/connector"
)

// Console writes the carried value to standard output.
//
// Config:
//
//	format: json (default) or yaml
//	pretty: indent JSON output (default true)
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a console loader writing to w, or to stdout when w is nil.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w}
}

func (*Console) Name() string { return "console" }

func (*Console) Supports(config map[string]any) bool {
	_, err := parseFormat("console", config)
	return err == nil
}

func (c *Console) Load(ctx context.Context, in connector.Value, config map[string]any) (connector.Value, error) {
	if err := ctx.Err(); err != nil {
		return connector.Value{}, err
	}
	format, err := parseFormat("console", config)
	if err != nil {
		return connector.Value{}, err
	}
	pretty := true
	if p, ok := config["pretty"].(bool); ok {
		pretty = p
	}
	out, err := encode(in, format, pretty)
	if err != nil {
		return connector.Value{}, fmt.Errorf("console: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(out); err != nil {
		return connector.Value{}, fmt.Errorf("console: writing output: %w", err)
	}
	return summary(len(items(in))), nil
}
