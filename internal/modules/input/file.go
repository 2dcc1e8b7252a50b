package input

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/pkg/connector"
)

// Supported file formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCSV  = "csv"
)

// FileConfig configures the file extractor.
type FileConfig struct {
	// Path of the file to read (required)
	Path string
	// Format is json, yaml or csv; inferred from the extension when empty
	Format string
	// DataField selects the records inside a JSON or YAML document
	DataField string
}

// ParseFileConfig reads a FileConfig from a step config map.
func ParseFileConfig(config map[string]any) (FileConfig, error) {
	var fc FileConfig
	fc.Path, _ = config["path"].(string)
	if err := pathutil.ValidateFilePath(fc.Path); err != nil {
		return fc, fmt.Errorf("%w: file: %v", ErrInvalidConfig, err)
	}
	fc.Format, _ = config["format"].(string)
	fc.DataField, _ = config["dataField"].(string)
	if fc.Format == "" {
		fc.Format = FormatFromPath(fc.Path)
	}
	switch fc.Format {
	case FormatJSON, FormatYAML, FormatCSV:
	default:
		return fc, fmt.Errorf("%w: file: unsupported format %q", ErrInvalidConfig, fc.Format)
	}
	return fc, nil
}

// FormatFromPath infers a format from the file extension, defaulting to json.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".csv":
		return FormatCSV
	default:
		return FormatJSON
	}
}

// File reads records from a local JSON, YAML or CSV file.
type File struct{}

// NewFile returns the file extractor.
func NewFile() *File { return &File{} }

func (*File) Name() string { return "file" }

func (*File) Supports(config map[string]any) bool {
	_, err := ParseFileConfig(config)
	return err == nil
}

func (*File) Extract(ctx context.Context, config map[string]any) (connector.Value, error) {
	fc, err := ParseFileConfig(config)
	if err != nil {
		return connector.Value{}, err
	}
	if err := ctx.Err(); err != nil {
		return connector.Value{}, err
	}

	raw, err := os.ReadFile(fc.Path)
	if err != nil {
		return connector.Value{}, fmt.Errorf("reading %s: %w", fc.Path, err)
	}

	var v connector.Value
	switch fc.Format {
	case FormatYAML:
		v, err = decodeYAML(raw, fc.DataField)
	case FormatCSV:
		v, err = decodeCSV(raw)
	default:
		v, err = decodeJSON(raw, fc.DataField)
	}
	if err != nil {
		return connector.Value{}, fmt.Errorf("%s: %w", fc.Path, err)
	}

	logger.Debug("file extracted",
		slog.String("path", fc.Path),
		slog.String("format", fc.Format),
		slog.Int("record_count", v.Len()),
	)
	return v, nil
}

func decodeYAML(raw []byte, dataField string) (connector.Value, error) {
	var data any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return connector.Value{}, fmt.Errorf("decoding YAML: %w", err)
	}
	selected, err := selectData(data, dataField)
	if err != nil {
		return connector.Value{}, err
	}
	return connector.ValueOf(selected), nil
}

// decodeCSV reads a header row followed by data rows. Every field is a string.
func decodeCSV(raw []byte) (connector.Value, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	header, err := r.Read()
	if err == io.EOF {
		return connector.Records(nil), nil
	}
	if err != nil {
		return connector.Value{}, fmt.Errorf("reading CSV header: %w", err)
	}

	var records []connector.Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return connector.Value{}, fmt.Errorf("reading CSV row %d: %w", len(records)+1, err)
		}
		rec := make(connector.Record, len(header))
		for i, col := range header {
			rec[col] = row[i]
		}
		records = append(records, rec)
	}
	return connector.Records(records), nil
}
