package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/pkg/connector"
)

// MaxScriptLength is the maximum script size in bytes.
const MaxScriptLength = 100 * 1024

// Script errors
var (
	ErrMissingTransformFunc = errors.New("transform function not found in script")
	ErrTransformNotFunction = errors.New("transform is not a function")
	ErrInvalidScriptResult  = errors.New("transform must return an object")
)

// Script runs a JavaScript transform(record) function on every record.
//
// Config:
//
//	script:     inline source (exactly one of script or scriptFile)
//	scriptFile: path of a source file
//	onError:    fail (default), skip or log
//
// Returning null or undefined drops the record. console.log and friends
// are routed to the logger.
type Script struct {
	// compiled programs by source; goja programs can be shared between runtimes
	programs sync.Map
}

// NewScript returns the script transformer.
func NewScript() *Script { return &Script{} }

func (*Script) Name() string { return "script" }

func (s *Script) Supports(config map[string]any) bool {
	src, err := scriptSource(config)
	if err != nil {
		return false
	}
	_, err = s.program(src)
	return err == nil
}

// scriptSource resolves the inline script or reads the script file.
func scriptSource(config map[string]any) (string, error) {
	inline, hasInline := config["script"].(string)
	file, hasFile := config["scriptFile"].(string)
	switch {
	case hasInline && hasFile:
		return "", configError("script", "cannot specify both 'script' and 'scriptFile'")
	case hasFile:
		if err := pathutil.ValidateFilePath(file); err != nil {
			return "", configError("script", "%v", err)
		}
		info, err := os.Stat(file)
		if err != nil {
			return "", configError("script", "script file: %v", err)
		}
		if info.Size() > MaxScriptLength {
			return "", configError("script", "script file %q exceeds %d bytes", file, MaxScriptLength)
		}
		raw, err := os.ReadFile(file)
		if err != nil {
			return "", configError("script", "reading script file: %v", err)
		}
		inline = string(raw)
	case !hasInline:
		return "", configError("script", "either 'script' or 'scriptFile' is required")
	}
	if strings.TrimSpace(inline) == "" {
		return "", configError("script", "script cannot be empty")
	}
	if len(inline) > MaxScriptLength {
		return "", configError("script", "script exceeds %d bytes", MaxScriptLength)
	}
	return inline, nil
}

func (s *Script) program(src string) (*goja.Program, error) {
	if p, ok := s.programs.Load(src); ok {
		return p.(*goja.Program), nil
	}
	p, err := goja.Compile("transform.js", src, false)
	if err != nil {
		return nil, configError("script", "compilation failed: %v", err)
	}
	s.programs.Store(src, p)
	return p, nil
}

func (s *Script) Transform(ctx context.Context, in connector.Value, config map[string]any) (connector.Value, error) {
	src, err := scriptSource(config)
	if err != nil {
		return connector.Value{}, err
	}
	program, err := s.program(src)
	if err != nil {
		return connector.Value{}, err
	}
	onError := normalizeOnError("script", config["onError"])

	// One runtime per call: goja runtimes are not goroutine-safe.
	vm := goja.New()
	console := newJSConsole("script")
	if err := console.install(vm); err != nil {
		return connector.Value{}, err
	}
	if _, err := vm.RunProgram(program); err != nil {
		return connector.Value{}, configError("script", "evaluating script: %v", err)
	}
	fnVal := vm.Get("transform")
	if fnVal == nil || goja.IsUndefined(fnVal) {
		return connector.Value{}, configError("script", "%v", ErrMissingTransformFunc)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return connector.Value{}, configError("script", "%v", ErrTransformNotFunction)
	}

	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	return processRecords(ctx, "script", in, onError, func(ctx context.Context, i int, rec connector.Record) (connector.Record, bool, error) {
		console.recordIndex = i
		res, err := fn(goja.Undefined(), vm.ToValue(rec))
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			return nil, false, scriptError(err)
		}
		if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
			return nil, false, nil
		}
		out, ok := res.Export().(map[string]any)
		if !ok {
			return nil, false, fmt.Errorf("%w, got %T", ErrInvalidScriptResult, res.Export())
		}
		return out, true, nil
	})
}

func scriptError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fmt.Errorf("script execution failed: %v", ex.Value())
	}
	return fmt.Errorf("script execution failed: %w", err)
}

// jsConsole routes console output of scripts to the logger.
type jsConsole struct {
	module      string
	recordIndex int
}

func newJSConsole(module string) *jsConsole {
	return &jsConsole{module: module, recordIndex: -1}
}

func (c *jsConsole) install(vm *goja.Runtime) error {
	obj := vm.NewObject()
	levels := map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, lvl := range levels {
		if err := obj.Set(name, c.printer(lvl)); err != nil {
			return fmt.Errorf("console.%s: %w", name, err)
		}
	}
	return vm.Set("console", obj)
}

func (c *jsConsole) printer(lvl slog.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		logger.Logger.Log(context.Background(), lvl, strings.Join(parts, " "),
			slog.String("source", "script"),
			slog.String("module_type", c.module),
			slog.Int("record_index", c.recordIndex),
		)
		return goja.Undefined()
	}
}
