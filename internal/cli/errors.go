// Package cli formats command results and definition errors for the terminal.
package cli

import (
	"fmt"
	"io"

	"github.com/canectors/flow/internal/config"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
)

// ExitCode maps a parse result to the exit code of the validate command.
func ExitCode(r *config.Result) int {
	switch {
	case len(r.ParseErrors) > 0:
		return ExitParseError
	case len(r.ValidationErrors) > 0:
		return ExitValidationError
	default:
		return ExitSuccess
	}
}

// PrintResultErrors prints whichever errors r carries.
func PrintResultErrors(w io.Writer, r *config.Result, verbose, quiet bool) {
	if len(r.ParseErrors) > 0 {
		PrintParseErrors(w, r.ParseErrors, verbose)
		return
	}
	if len(r.ValidationErrors) > 0 {
		PrintValidationErrors(w, r.ValidationErrors, verbose, quiet)
	}
}

// PrintParseErrors prints parse errors with their location.
func PrintParseErrors(w io.Writer, errs []config.ParseError, verbose bool) {
	fmt.Fprintln(w, "✗ Parse errors:")
	for _, err := range errs {
		location := formatErrorLocation(err.Path, err.Line, err.Column)
		if location != "" {
			fmt.Fprintf(w, "  %s: %s\n", location, err.Message)
		} else {
			fmt.Fprintf(w, "  %s\n", err.Message)
		}
		if verbose && err.Type != "" {
			fmt.Fprintf(w, "    Type: %s\n", err.Type)
		}
	}
}

// formatErrorLocation formats path:line:column, omitting unknown parts.
func formatErrorLocation(path string, line, column int) string {
	if path == "" {
		return ""
	}
	location := path
	if line > 0 {
		location += fmt.Sprintf(":%d", line)
		if column > 0 {
			location += fmt.Sprintf(":%d", column)
		}
	}
	return location
}

// PrintValidationErrors prints schema violations, compact unless verbose.
func PrintValidationErrors(w io.Writer, errs []config.ValidationError, verbose, quiet bool) {
	fmt.Fprintln(w, "✗ Validation errors:")
	for _, err := range errs {
		path := err.Path
		if path == "" {
			path = "/"
		}
		if verbose {
			fmt.Fprintf(w, "  %s:\n", path)
			fmt.Fprintf(w, "    Message: %s\n", err.Message)
			if err.Type != "" {
				fmt.Fprintf(w, "    Type: %s\n", err.Type)
			}
			continue
		}
		fmt.Fprintf(w, "  %s: %s\n", path, truncate(err.Message, 80))
	}
	if !quiet && !verbose {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Hint: Use --verbose for detailed error information")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
