// Package logger provides structured logging for the pipeline engine.
// It wraps log/slog so that every component logs with the same handler and
// the same snake_case field names.
//
// Two output formats are supported:
//   - JSON (default): machine-readable structured records
//   - Human: console lines with a level symbol and inline attributes
//
// Logs go to stderr so that loaders writing to stdout keep a clean stream.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the process-wide logger instance.
var Logger *slog.Logger

var (
	mu      sync.Mutex
	output  io.Writer = os.Stderr
	level             = slog.LevelInfo
	format            = FormatJSON
	logFile *os.File
)

func init() {
	Logger = newLogger(output, level, format)
}

// OutputFormat represents the log output format.
type OutputFormat int

const (
	// FormatJSON is the default machine-readable JSON format
	FormatJSON OutputFormat = iota
	// FormatHuman is a console format with symbols and optional colors
	FormatHuman
)

// ParseFormat converts a CLI format name ("json", "human") into an OutputFormat.
func ParseFormat(name string) (OutputFormat, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return FormatJSON, nil
	case "human", "text", "console":
		return FormatHuman, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format %q", name)
	}
}

func (f OutputFormat) String() string {
	if f == FormatHuman {
		return "human"
	}
	return "json"
}

func newLogger(w io.Writer, lvl slog.Level, f OutputFormat) *slog.Logger {
	return slog.New(newHandler(w, lvl, f))
}

func newHandler(w io.Writer, lvl slog.Level, f OutputFormat) slog.Handler {
	if f == FormatHuman {
		return NewHumanHandler(w, &HumanHandlerOptions{Level: lvl, UseColors: isTerminal(w)})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
}

// SetLevelAndFormat sets both the log level and format.
func SetLevelAndFormat(lvl slog.Level, f OutputFormat) {
	mu.Lock()
	defer mu.Unlock()
	level, format = lvl, f
	Logger = newLogger(output, lvl, f)
}

// SetOutput redirects log output. Tests use it to capture records.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	Logger = newLogger(w, level, format)
}

func currentFormat() OutputFormat {
	mu.Lock()
	defer mu.Unlock()
	return format
}

// Info logs an informational message.
func Info(msg string, args ...any) { Logger.Info(msg, args...) }

// Debug logs a debug message.
func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }

// Warn logs a warning message.
func Warn(msg string, args ...any) { Logger.Warn(msg, args...) }

// Error logs an error message.
func Error(msg string, args ...any) { Logger.Error(msg, args...) }

// WithComponent returns a logger tagged with an engine component name
// (cache, stream, retry, plugin...).
func WithComponent(component string) *slog.Logger {
	return Logger.With(slog.String("component", component))
}

// =============================================================================
// Run Context
// =============================================================================

// RunContext identifies a pipeline run and, optionally, the step being executed.
type RunContext struct {
	// PipelineID is the orchestrator identifier (required)
	PipelineID string
	// PipelineName is the human-readable pipeline name
	PipelineName string
	// RunID identifies one Run call
	RunID string
	// StepKind is extract, transform or load
	StepKind string
	// StepName is the capability name of the step
	StepName string
	// StepIndex is the position of the step, -1 when not in a step
	StepIndex int
	// Optional marks optional steps
	Optional bool
}

// ForStep returns a copy of the run context positioned on a step.
func (c RunContext) ForStep(index int, kind, name string, optional bool) RunContext {
	c.StepIndex = index
	c.StepKind = kind
	c.StepName = name
	c.Optional = optional
	return c
}

// ErrorContext contains structured context for error logging.
type ErrorContext struct {
	RunContext

	// Label names the operation that failed (retry label, capability call)
	Label string
	// Err is the underlying error; its chain is logged
	Err error
	// Attempts is the number of attempts made, 0 when not retried
	Attempts int
	// Duration is the time spent before failing
	Duration time.Duration
	// Extra holds additional key-value pairs
	Extra map[string]any
}

// WithRun returns a logger with the run context attached.
func WithRun(rc RunContext) *slog.Logger {
	return Logger.With(contextAttrs(rc)...)
}

// LogRunStart logs the start of a pipeline run.
func LogRunStart(rc RunContext, steps int) {
	attrs := contextAttrs(rc)
	attrs = append(attrs, slog.Int("step_count", steps))
	Logger.Info("run started", attrs...)
}

// LogRunEnd logs the completion of a pipeline run.
func LogRunEnd(rc RunContext, success bool, duration time.Duration, cacheHits, cacheMisses int) {
	attrs := contextAttrs(rc)
	attrs = append(attrs,
		slog.String("status", statusName(success)),
		slog.Duration("duration", duration),
		slog.Int("cache_hits", cacheHits),
		slog.Int("cache_misses", cacheMisses),
	)
	if success {
		Logger.Info("run completed", attrs...)
		return
	}
	Logger.Error("run failed", attrs...)
}

// LogStepStart logs the start of a step.
func LogStepStart(rc RunContext) {
	Logger.Debug("step started", contextAttrs(rc)...)
}

// LogStepEnd logs the completion of a step. Optional step failures are logged
// as warnings since the run continues.
func LogStepEnd(rc RunContext, duration time.Duration, cacheHit bool, err error) {
	attrs := contextAttrs(rc)
	attrs = append(attrs, slog.Duration("duration", duration))
	if cacheHit {
		attrs = append(attrs, slog.Bool("cache_hit", true))
	}
	switch {
	case err == nil:
		Logger.Info("step completed", attrs...)
	case rc.Optional:
		attrs = append(attrs, slog.String("error", err.Error()))
		Logger.Warn("optional step failed", attrs...)
	default:
		attrs = append(attrs, slog.String("error", err.Error()))
		Logger.Error("step failed", attrs...)
	}
}

// LogError logs an error with its full context and unwrap chain.
func LogError(message string, errCtx ErrorContext) {
	attrs := contextAttrs(errCtx.RunContext)
	if errCtx.Label != "" {
		attrs = append(attrs, slog.String("label", errCtx.Label))
	}
	if errCtx.Err != nil {
		attrs = append(attrs,
			slog.String("error", errCtx.Err.Error()),
			slog.String("error_type", fmt.Sprintf("%T", errCtx.Err)),
		)
		if chain := errorChain(errCtx.Err); len(chain) > 1 {
			attrs = append(attrs, slog.String("error_chain", strings.Join(chain, " -> ")))
		}
	}
	if errCtx.Attempts > 0 {
		attrs = append(attrs, slog.Int("attempts", errCtx.Attempts))
	}
	if errCtx.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", errCtx.Duration))
	}
	for k, v := range errCtx.Extra {
		attrs = append(attrs, slog.Any(k, v))
	}
	Logger.Error(message, attrs...)
}

func errorChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}

func contextAttrs(rc RunContext) []any {
	attrs := make([]any, 0, 8)
	if rc.PipelineID != "" {
		attrs = append(attrs, slog.String("pipeline_id", rc.PipelineID))
	}
	if rc.PipelineName != "" {
		attrs = append(attrs, slog.String("pipeline_name", rc.PipelineName))
	}
	if rc.RunID != "" {
		attrs = append(attrs, slog.String("run_id", rc.RunID))
	}
	if rc.StepName != "" {
		attrs = append(attrs,
			slog.String("step_kind", rc.StepKind),
			slog.String("step_name", rc.StepName),
			slog.Int("step_index", rc.StepIndex),
		)
		if rc.Optional {
			attrs = append(attrs, slog.Bool("optional", true))
		}
	}
	return attrs
}

func statusName(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// =============================================================================
// Human-Readable Handler
// =============================================================================

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// HumanHandlerOptions configures the human-readable log handler.
type HumanHandlerOptions struct {
	// Level is the minimum log level to output
	Level slog.Level
	// UseColors enables ANSI color codes
	UseColors bool
}

// HumanHandler is a slog handler that writes one readable line per record.
type HumanHandler struct {
	opts   HumanHandlerOptions
	mu     *sync.Mutex
	writer io.Writer
	attrs  []slog.Attr
}

// NewHumanHandler creates a new human-readable log handler.
func NewHumanHandler(w io.Writer, opts *HumanHandlerOptions) *HumanHandler {
	if opts == nil {
		opts = &HumanHandlerOptions{Level: slog.LevelInfo}
	}
	return &HumanHandler{opts: *opts, mu: &sync.Mutex{}, writer: w}
}

// Enabled returns true if the handler is enabled for the given level.
func (h *HumanHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= h.opts.Level
}

// maxInlineAttrs bounds the attributes printed after the message.
const maxInlineAttrs = 6

// Handle writes a log record.
func (h *HumanHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Time.Format("15:04:05"))
	sb.WriteByte(' ')
	sb.WriteString(h.prefix(r.Level, r.Message))
	sb.WriteByte(' ')
	sb.WriteString(r.Message)

	parts := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		parts = append(parts, formatAttr(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a))
		return true
	})
	if len(parts) > 0 {
		shown := min(len(parts), maxInlineAttrs)
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(parts[:shown], " "))
		if len(parts) > shown {
			fmt.Fprintf(&sb, " (+%d more)", len(parts)-shown)
		}
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, sb.String())
	return err
}

// WithAttrs returns a new handler with the given attributes added.
func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// WithGroup is a no-op: groups are flattened in the human format.
func (h *HumanHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *HumanHandler) prefix(lvl slog.Level, message string) string {
	const (
		reset  = "\033[0m"
		red    = "\033[31m"
		yellow = "\033[33m"
		green  = "\033[32m"
		cyan   = "\033[36m"
	)

	var symbol, color string
	switch {
	case lvl >= slog.LevelError:
		symbol, color = "✗", red
	case lvl >= slog.LevelWarn:
		symbol, color = "⚠", yellow
	case lvl >= slog.LevelInfo:
		if strings.Contains(strings.ToLower(message), "completed") {
			symbol, color = "✓", green
		} else {
			symbol, color = "ℹ", cyan
		}
	default:
		symbol, color = "·", reset
	}
	if h.opts.UseColors {
		return color + symbol + reset
	}
	return symbol
}

func formatAttr(a slog.Attr) string {
	switch v := a.Value.Any().(type) {
	case time.Duration:
		return a.Key + "=" + FormatDuration(v)
	case float64:
		return fmt.Sprintf("%s=%.2f", a.Key, v)
	default:
		return fmt.Sprintf("%s=%v", a.Key, v)
	}
}

// FormatDuration formats a duration with a unit suited to its magnitude.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// =============================================================================
// Log File Output
// =============================================================================

// maxLogFileSize is the size at which an existing log file is rotated (10MB).
const maxLogFileSize = 10 * 1024 * 1024

func rotateLogFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking log file size: %w", err)
	}
	if info.Size() < maxLogFileSize {
		return nil
	}
	rotated := fmt.Sprintf("%s.%s", path, time.Now().Format("20060102-150405"))
	if err := os.Rename(path, rotated); err != nil {
		return fmt.Errorf("rotating log file: %w", err)
	}
	return nil
}

// SetLogFile makes the logger write to both the console and a JSON log file.
// An existing file larger than 10MB is renamed with a timestamp suffix first.
func SetLogFile(path string) error {
	CloseLogFile()

	if err := rotateLogFile(path); err != nil {
		Warn("log rotation failed", slog.String("error", err.Error()))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	mu.Lock()
	logFile = f
	Logger = slog.New(&teeHandler{
		console: newHandler(output, level, format),
		file:    slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}),
	})
	mu.Unlock()

	Info("log file opened", slog.String("path", path))
	return nil
}

// CloseLogFile closes the current log file, if any, and restores console-only logging.
func CloseLogFile() {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return
	}
	_ = logFile.Sync()
	_ = logFile.Close()
	logFile = nil
	Logger = newLogger(output, level, format)
}

// teeHandler writes each record to the console and file handlers.
type teeHandler struct {
	console slog.Handler
	file    slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return t.console.Enabled(ctx, lvl) || t.file.Enabled(ctx, lvl)
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if t.console.Enabled(ctx, r.Level) {
		errs = append(errs, t.console.Handle(ctx, r.Clone()))
	}
	if t.file.Enabled(ctx, r.Level) {
		errs = append(errs, t.file.Handle(ctx, r))
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{console: t.console.WithAttrs(attrs), file: t.file.WithAttrs(attrs)}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{console: t.console.WithGroup(name), file: t.file.WithGroup(name)}
}
