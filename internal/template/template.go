// Package template renders strings containing {{record.field}} placeholders.
// Placeholders accept dotted paths with [n] indexing and an optional default:
// {{record.user.id | default: "anonymous"}}.
package template

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/internal/pathutil"
)

// Template delimiters.
const (
	Prefix = "{{"
	Suffix = "}}"
)

// ErrInvalidSyntax is returned by ValidateSyntax.
var ErrInvalidSyntax = errors.New("invalid template syntax")

// Group 1: variable path. Group 2: default clause. Group 3: default value.
var varRegex = regexp.MustCompile(`\{\{\s*([^|}]+?)(\s*\|\s*default:\s*"([^"]*)")?\s*\}\}`)

var emptyBraces = regexp.MustCompile(`\{\{\s*\}\}`)

// Variable is one placeholder of a template.
type Variable struct {
	FullMatch    string
	Path         string
	DefaultValue string
	HasDefault   bool
}

// HasVariables reports whether s contains placeholders.
func HasVariables(s string) bool {
	return strings.Contains(s, Prefix) && strings.Contains(s, Suffix)
}

// Variables parses the placeholders of tmpl in order of appearance.
func Variables(tmpl string) []Variable {
	matches := varRegex.FindAllStringSubmatch(tmpl, -1)
	vars := make([]Variable, 0, len(matches))
	for _, m := range matches {
		v := Variable{FullMatch: m[0], Path: strings.TrimSpace(m[1])}
		if m[2] != "" {
			v.DefaultValue = m[3]
			v.HasDefault = true
		}
		vars = append(vars, v)
	}
	return vars
}

// Render replaces every placeholder with the value found in record. Missing or
// null values render as the default, or as an empty string.
func Render(tmpl string, record map[string]any) string {
	return render(tmpl, record, func(s string) string { return s })
}

// RenderURL is Render with every substituted value query-escaped.
func RenderURL(tmpl string, record map[string]any) string {
	return render(tmpl, record, url.QueryEscape)
}

// RenderHeaders renders every header value.
func RenderHeaders(headers map[string]string, record map[string]any) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = Render(v, record)
	}
	return out
}

func render(tmpl string, record map[string]any, escape func(string) string) string {
	if !HasVariables(tmpl) {
		return tmpl
	}
	out := tmpl
	for _, v := range Variables(tmpl) {
		out = strings.Replace(out, v.FullMatch, escape(resolve(v, record)), 1)
	}
	return out
}

func resolve(v Variable, record map[string]any) string {
	path := strings.TrimPrefix(v.Path, "record.")
	value, found := pathutil.Get(record, path)
	if !found || value == nil {
		if v.HasDefault {
			return v.DefaultValue
		}
		logger.Warn("template variable missing, using empty string",
			slog.String("path", v.Path),
		)
		return ""
	}
	return ValueToString(value)
}

// ValueToString formats a decoded JSON value for substitution. Integral floats
// print without a decimal point.
func ValueToString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// ValidateSyntax checks that every delimiter belongs to a non-empty placeholder.
func ValidateSyntax(tmpl string) error {
	opens := strings.Count(tmpl, Prefix)
	closes := strings.Count(tmpl, Suffix)
	if opens != closes {
		return fmt.Errorf("%w: unmatched delimiters (found %d '{{' and %d '}}')", ErrInvalidSyntax, opens, closes)
	}
	if opens == 0 {
		return nil
	}
	if emptyBraces.MatchString(tmpl) {
		return fmt.Errorf("%w: empty variable path", ErrInvalidSyntax)
	}
	rest := varRegex.ReplaceAllString(tmpl, "")
	if strings.Contains(rest, Prefix) || strings.Contains(rest, Suffix) {
		return fmt.Errorf("%w: stray '{{' or '}}'", ErrInvalidSyntax)
	}
	return nil
}
