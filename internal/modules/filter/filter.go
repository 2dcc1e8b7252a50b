// Package filter provides the built-in transformers. Record-oriented
// transformers accept a record list, a single record or null, and never
// mutate their input: every record is copied before it is changed.
package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/canectors/flow/internal/errhandling"
	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/pkg/connector"
)

// OnError behavior constants
const (
	// OnErrorFail aborts the transformation (default)
	OnErrorFail = "fail"
	// OnErrorSkip drops the failing record
	OnErrorSkip = "skip"
	// OnErrorLog logs the failure and keeps the record unchanged
	OnErrorLog = "log"
)

// Common errors
var (
	// ErrInvalidConfig is returned when a transformer config is invalid
	ErrInvalidConfig = errors.New("invalid transformer config")
	// ErrNotRecords is returned when the carried value is not made of records
	ErrNotRecords = errors.New("value is not a record list")
)

// configError marks a config problem as permanent so that it is not retried.
func configError(module, format string, args ...any) error {
	return errhandling.Permanent(fmt.Errorf("%w: %s: %s", ErrInvalidConfig, module, fmt.Sprintf(format, args...)))
}

// normalizeOnError returns a valid onError mode, defaulting to fail.
func normalizeOnError(module string, raw any) string {
	s, _ := raw.(string)
	switch s {
	case "":
		return OnErrorFail
	case OnErrorFail, OnErrorSkip, OnErrorLog:
		return s
	default:
		logger.Warn("invalid onError value; defaulting to fail",
			slog.String("module_type", module),
			slog.String("on_error", s),
		)
		return OnErrorFail
	}
}

// recordsOf returns the records carried by v. single reports a lone record.
func recordsOf(v connector.Value) (records []connector.Record, single bool, err error) {
	switch v.Kind() {
	case connector.KindNull:
		return nil, false, nil
	case connector.KindMap:
		m, _ := v.AsMap()
		return []connector.Record{m}, true, nil
	case connector.KindList:
		recs, ok := v.Records()
		if !ok {
			return nil, false, errhandling.Permanent(ErrNotRecords)
		}
		return recs, false, nil
	default:
		return nil, false, errhandling.Permanent(fmt.Errorf("%w: got %s", ErrNotRecords, v.Kind()))
	}
}

// wrapRecords rebuilds a value of the input shape from processed records.
func wrapRecords(records []connector.Record, single bool) connector.Value {
	if !single {
		return connector.Records(records)
	}
	if len(records) == 0 {
		return connector.Null()
	}
	return connector.Map(records[0])
}

// recordFunc transforms one private copy of a record. keep=false drops it.
type recordFunc func(ctx context.Context, index int, rec connector.Record) (out connector.Record, keep bool, err error)

// processRecords applies fn to every record of in under the onError mode.
func processRecords(ctx context.Context, module string, in connector.Value, onError string, fn recordFunc) (connector.Value, error) {
	records, single, err := recordsOf(in)
	if err != nil {
		return connector.Value{}, fmt.Errorf("%s: %w", module, err)
	}

	start := time.Now()
	out := make([]connector.Record, 0, len(records))
	skipped := 0
	for i, rec := range records {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return connector.Value{}, err
			}
		}
		res, keep, err := fn(ctx, i, pathutil.CopyRecord(rec))
		if err != nil {
			if !handleRecordError(module, i, onError, err) {
				return connector.Value{}, fmt.Errorf("%s: record %d: %w", module, i, err)
			}
			if onError == OnErrorSkip {
				skipped++
			} else {
				out = append(out, rec)
			}
			continue
		}
		if keep {
			out = append(out, res)
		}
	}

	logger.Debug("transformer completed",
		slog.String("module_type", module),
		slog.Int("input_records", len(records)),
		slog.Int("output_records", len(out)),
		slog.Int("skipped_records", skipped),
		slog.Duration("duration", time.Since(start)),
	)
	return wrapRecords(out, single), nil
}

// handleRecordError logs a per-record failure and reports whether processing
// may continue.
func handleRecordError(module string, index int, onError string, err error) bool {
	switch onError {
	case OnErrorSkip:
		logger.Warn("skipping record after error",
			slog.String("module_type", module),
			slog.Int("record_index", index),
			slog.String("error", err.Error()),
		)
		return true
	case OnErrorLog:
		logger.Error("record error (continuing)",
			slog.String("module_type", module),
			slog.Int("record_index", index),
			slog.String("error", err.Error()),
		)
		return true
	default:
		return false
	}
}

// toBool converts an expression result to a boolean.
func toBool(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}
