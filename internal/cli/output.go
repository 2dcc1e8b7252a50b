package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/canectors/flow/internal/config"
	"github.com/canectors/flow/internal/plugin"
	"github.com/canectors/flow/pkg/connector"
)

// Output formats accepted by --output
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// ParseOutputFormat validates an --output value. Empty means text.
func ParseOutputFormat(s string) (string, error) {
	switch strings.ToLower(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	case OutputYAML, "yml":
		return OutputYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected text, json or yaml)", s)
	}
}

// OutputOptions configures result rendering.
type OutputOptions struct {
	Verbose  bool
	Quiet    bool
	Format   string
	Pipeline string
}

// PrintRunResult renders a run result. Text output is suppressed by Quiet
// for successful runs; structured formats are always written.
func PrintRunResult(w io.Writer, res *connector.RunResult, opts OutputOptions) error {
	if res == nil {
		fmt.Fprintln(w, "✗ No run result available")
		return nil
	}
	switch opts.Format {
	case OutputJSON, OutputYAML:
		return encode(w, res, opts.Format)
	}

	name := opts.Pipeline
	if name == "" {
		name = res.PipelineID
	}
	if !res.Success {
		fmt.Fprintf(w, "✗ Pipeline %s failed (run %s)\n", name, res.RunID)
		if res.ErrorMessage != "" {
			fmt.Fprintf(w, "  Error: %s\n", res.ErrorMessage)
		}
		printSteps(w, res.Metadata.PerStep, opts.Verbose)
		return nil
	}
	if opts.Quiet {
		return nil
	}

	fmt.Fprintf(w, "✓ Pipeline %s completed (run %s)\n", name, res.RunID)
	fmt.Fprintf(w, "  Duration: %s\n", res.Metadata.TotalDuration.Round(time.Microsecond))
	fmt.Fprintf(w, "  Records: %d\n", recordCount(res.Data))
	fmt.Fprintf(w, "  Cache: %d hit(s), %d miss(es)\n", res.Metadata.CacheHits, res.Metadata.CacheMisses)
	if failed := res.Metadata.FailedSteps(); len(failed) > 0 && !opts.Verbose {
		fmt.Fprintf(w, "  Optional steps failed: %d\n", len(failed))
	}
	if opts.Verbose {
		printSteps(w, res.Metadata.PerStep, true)
	}
	return nil
}

func recordCount(v connector.Value) int {
	switch v.Kind() {
	case connector.KindNull:
		return 0
	case connector.KindList:
		return v.Len()
	default:
		return 1
	}
}

func printSteps(w io.Writer, steps []connector.StepResult, verbose bool) {
	if len(steps) == 0 {
		return
	}
	fmt.Fprintln(w, "  Steps:")
	for i, s := range steps {
		if !verbose && s.Success {
			continue
		}
		status := "ok"
		if !s.Success {
			status = "failed"
			if s.Optional {
				status = "failed (optional)"
			}
		}
		if s.CacheHit {
			status += " (cached)"
		}
		fmt.Fprintf(w, "    %d. %s %s  %s  %s\n", i+1, s.Kind, s.Name, s.Duration.Round(time.Microsecond), status)
		if s.Error != "" {
			fmt.Fprintf(w, "       %s\n", s.Error)
		}
	}
}

// PrintDefinitionSummary prints the name, schedule and steps of a definition.
func PrintDefinitionSummary(w io.Writer, def *config.Definition) {
	fmt.Fprintf(w, "  Pipeline: %s\n", def.Name)
	if def.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", def.Description)
	}
	if def.Schedule != "" {
		fmt.Fprintf(w, "  Schedule: %s\n", def.Schedule)
	}
	for i, s := range def.Steps {
		suffix := ""
		if s.Optional {
			suffix = " (optional)"
		}
		fmt.Fprintf(w, "  %d. %s %s%s\n", i+1, s.Kind, s.Name, suffix)
	}
}

// PrintPlugins lists registered plugins and their capabilities.
func PrintPlugins(w io.Writer, infos []plugin.Info, format string) error {
	if format == OutputJSON || format == OutputYAML {
		return encode(w, infos, format)
	}
	for _, info := range infos {
		fmt.Fprintf(w, "%s %s\n", info.Name, info.Version)
		printNames(w, "extractors", info.Extractors)
		printNames(w, "transformers", info.Transformers)
		printNames(w, "loaders", info.Loaders)
	}
	return nil
}

func printNames(w io.Writer, label string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s: %s\n", label, strings.Join(names, ", "))
}

// encode writes v as indented JSON, or as YAML converted from its JSON form
// so that json tags and custom marshalers apply to both.
func encode(w io.Writer, v any, format string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if format == OutputJSON {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(yamlFriendly(doc)); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return enc.Close()
}

// yamlFriendly turns json.Number values into int64 or float64.
func yamlFriendly(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = yamlFriendly(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = yamlFriendly(e)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
