// Package main provides the canectors command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/canectors/flow/internal/cli"
	"github.com/canectors/flow/internal/config"
	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/internal/metrics"
	"github.com/canectors/flow/internal/modules/builtin"
	"github.com/canectors/flow/internal/runtime"
	"github.com/canectors/flow/internal/scheduler"
	"github.com/canectors/flow/pkg/connector"
)

// Build information (set via ldflags during build)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error { return &exitError{code: code, err: err} }

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	logger.CloseLogFile()
	if err == nil {
		return cli.ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "✗ %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "✗ %v\n", err)
	return cli.ExitRuntimeError
}

type app struct {
	stdout, stderr io.Writer

	verbose   bool
	quiet     bool
	logFormat string
	logFile   string
	output    string

	schedule    string
	once        bool
	metricsAddr string
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "canectors",
		Short: "Canectors - declarative extract, transform and load pipelines",
		Long: `Canectors runs declarative data pipelines.

A pipeline definition (JSON or YAML) lists extract, transform and load
steps that are resolved against registered plugins and executed in order.

Examples:
  # Validate a definition
  canectors validate pipeline.yaml

  # Run a pipeline once
  canectors run pipeline.yaml

  # Run every five minutes and expose Prometheus metrics
  canectors run --schedule "*/5 * * * *" --metrics-addr :9090 pipeline.yaml`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.configureLogging,
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Suppress non-error output")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "json", "Log format (json or human)")
	root.PersistentFlags().StringVar(&a.logFile, "log-file", "", "Also write JSON logs to this file")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", cli.OutputText, "Result format (text, json or yaml)")

	root.AddCommand(a.validateCmd(), a.runCmd(), a.pluginsCmd(), a.versionCmd())
	return root
}

func (a *app) configureLogging(_ *cobra.Command, _ []string) error {
	f, err := logger.ParseFormat(a.logFormat)
	if err != nil {
		return exitWith(cli.ExitRuntimeError, err)
	}
	lvl := slog.LevelInfo
	switch {
	case a.verbose:
		lvl = slog.LevelDebug
	case a.quiet:
		lvl = slog.LevelError
	}
	logger.SetLevelAndFormat(lvl, f)
	if a.logFile != "" {
		if err := logger.SetLogFile(a.logFile); err != nil {
			return exitWith(cli.ExitRuntimeError, err)
		}
	}
	if _, err := cli.ParseOutputFormat(a.output); err != nil {
		return exitWith(cli.ExitRuntimeError, err)
	}
	return nil
}

func (a *app) format() string {
	f, _ := cli.ParseOutputFormat(a.output)
	return f
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition-file>",
		Short: "Validate a pipeline definition",
		Long: `Validate a pipeline definition against the schema.

Exit codes:
  0 - Definition is valid
  1 - Validation errors (schema violations)
  2 - Parse errors (invalid JSON/YAML syntax)`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			res, err := a.parse(args[0])
			if err != nil {
				return err
			}
			if !a.quiet {
				fmt.Fprintf(a.stdout, "✓ Definition is valid (format: %s)\n", res.Format)
			}
			if a.verbose {
				def, err := config.Convert(res.Data)
				if err != nil {
					return exitWith(cli.ExitValidationError, err)
				}
				cli.PrintDefinitionSummary(a.stdout, def)
			}
			return nil
		},
	}
}

// parse reads and validates a definition, printing errors on failure.
func (a *app) parse(path string) (*config.Result, error) {
	if !a.quiet {
		fmt.Fprintf(a.stdout, "Validating definition: %s\n", path)
	}
	res := config.ParseFile(path)
	if code := cli.ExitCode(res); code != cli.ExitSuccess {
		cli.PrintResultErrors(a.stderr, res, a.verbose, a.quiet)
		return nil, exitWith(code, nil)
	}
	return res, nil
}

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <definition-file>",
		Short: "Run a pipeline definition",
		Long: `Run the pipeline described by a definition file.

The definition is validated first. When it carries a schedule, or --schedule
is given, the run repeats on that cron schedule until interrupted; extract
results are served from the cache within its TTL between runs.

Exit codes:
  0 - Pipeline completed
  1 - Validation errors
  2 - Parse errors
  3 - Runtime errors`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPipeline(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVar(&a.schedule, "schedule", "", "Cron expression overriding the definition schedule")
	cmd.Flags().BoolVar(&a.once, "once", false, "Run once even if the definition has a schedule")
	cmd.Flags().StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address in scheduled mode")
	return cmd
}

func (a *app) runPipeline(ctx context.Context, path string) error {
	res, err := a.parse(path)
	if err != nil {
		return err
	}
	def, err := config.Convert(res.Data)
	if err != nil {
		return exitWith(cli.ExitValidationError, err)
	}
	if a.verbose {
		cli.PrintDefinitionSummary(a.stdout, def)
	}

	schedule := def.Schedule
	if a.schedule != "" {
		schedule = a.schedule
	}
	if a.once {
		schedule = ""
	}

	reg := prometheus.NewRegistry()
	recorder, err := metrics.New(reg)
	if err != nil {
		return exitWith(cli.ExitRuntimeError, err)
	}
	o := runtime.New(append(def.Options(), runtime.WithMetrics(recorder))...)
	if err := o.Plugins().Register(ctx, builtin.New(builtin.Options{Stdout: a.stdout})); err != nil {
		return exitWith(cli.ExitRuntimeError, err)
	}
	defer func() {
		if err := o.Plugins().ClearAll(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("plugin cleanup failed", slog.String("error", err.Error()))
		}
	}()
	if err := def.Apply(o); err != nil {
		return exitWith(cli.ExitValidationError, err)
	}

	if schedule == "" {
		result := o.Run(ctx)
		if err := a.printResult(def.Name, result); err != nil {
			return exitWith(cli.ExitRuntimeError, err)
		}
		if !result.Success {
			return exitWith(cli.ExitRuntimeError, nil)
		}
		return nil
	}
	return a.runScheduled(ctx, o, def.Name, schedule, reg)
}

func (a *app) printResult(name string, res *connector.RunResult) error {
	opts := cli.OutputOptions{Verbose: a.verbose, Quiet: a.quiet, Format: a.format(), Pipeline: name}
	w := a.stdout
	if !res.Success && opts.Format == cli.OutputText {
		w = a.stderr
	}
	return cli.PrintRunResult(w, res, opts)
}

// runScheduled repeats o on schedule until ctx ends or a signal arrives.
func (a *app) runScheduled(ctx context.Context, o *runtime.Orchestrator, name, schedule string, reg *prometheus.Registry) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := scheduler.New(scheduler.WithResultHandler(func(_ string, res *connector.RunResult) {
		if err := a.printResult(name, res); err != nil {
			logger.Error("printing run result failed", slog.String("error", err.Error()))
		}
	}))
	if err := s.Register(o.ID(), schedule, o); err != nil {
		return exitWith(cli.ExitValidationError, err)
	}

	var srv *http.Server
	if a.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv = &http.Server{Addr: a.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
		logger.Info("serving metrics", slog.String("addr", a.metricsAddr))
	}

	if !a.quiet {
		fmt.Fprintf(a.stdout, "Scheduled %s on %q, press Ctrl+C to stop\n", name, schedule)
	}
	if err := s.Start(); err != nil {
		return exitWith(cli.ExitRuntimeError, err)
	}
	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := s.Stop(shutdown); err != nil {
		errs = append(errs, fmt.Errorf("stopping scheduler: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(shutdown); err != nil {
			errs = append(errs, fmt.Errorf("stopping metrics server: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return exitWith(cli.ExitRuntimeError, err)
	}
	return nil
}

func (a *app) pluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List built-in plugins and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := runtime.New()
			if err := o.Plugins().Register(cmd.Context(), builtin.New(builtin.Options{})); err != nil {
				return exitWith(cli.ExitRuntimeError, err)
			}
			defer func() { _ = o.Plugins().ClearAll(cmd.Context()) }()
			return cli.PrintPlugins(a.stdout, o.Plugins().List(), a.format())
		},
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "Version: %s\n", version)
			fmt.Fprintf(a.stdout, "Commit: %s\n", commit)
			fmt.Fprintf(a.stdout, "Build Date: %s\n", buildDate)
		},
	}
}
