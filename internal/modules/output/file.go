package output

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/pkg/connector"
)

// File writes the carried value to a local file, replacing its content.
//
// Config:
//
//	path:   destination file (required); parent directories are created
//	format: json or yaml; inferred from the extension when omitted
//	pretty: indent JSON output (default true)
type File struct{}

// NewFile returns the file loader.
func NewFile() *File { return &File{} }

func (*File) Name() string { return "file" }

func (*File) Supports(config map[string]any) bool {
	_, _, err := fileTarget(config)
	return err == nil
}

func fileTarget(config map[string]any) (path, format string, err error) {
	path, _ = config["path"].(string)
	if err := pathutil.ValidateFilePath(path); err != nil {
		return "", "", configError("file", "%v", err)
	}
	if _, ok := config["format"]; !ok {
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			return path, FormatYAML, nil
		}
		return path, FormatJSON, nil
	}
	format, err = parseFormat("file", config)
	return path, format, err
}

func (*File) Load(ctx context.Context, in connector.Value, config map[string]any) (connector.Value, error) {
	if err := ctx.Err(); err != nil {
		return connector.Value{}, err
	}
	path, format, err := fileTarget(config)
	if err != nil {
		return connector.Value{}, err
	}
	pretty := true
	if p, ok := config["pretty"].(bool); ok {
		pretty = p
	}
	out, err := encode(in, format, pretty)
	if err != nil {
		return connector.Value{}, fmt.Errorf("file: %w", err)
	}
	if err := writeFileAtomic(path, out); err != nil {
		return connector.Value{}, fmt.Errorf("file: %w", err)
	}

	logger.Debug("file written",
		slog.String("path", path),
		slog.String("format", format),
		slog.Int("bytes", len(out)),
	)
	return summary(len(items(in))), nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
