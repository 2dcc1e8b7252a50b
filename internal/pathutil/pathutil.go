// Package pathutil provides dotted-path access into nested records and shared
// file path validation.
//
// Path notation:
//   - dots for nested maps: "user.profile.name"
//   - brackets for list elements: "items[0].name", "data[2]"
package pathutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Path parsing errors.
var (
	ErrEmptyPath    = errors.New("empty path")
	ErrInvalidIndex = errors.New("invalid list index in path")
)

// ValidateFilePath validates a file path for path traversal and invalid characters.
// Detection is segment-based, so "scripts/../etc/passwd" is rejected even though it
// cleans to "etc/passwd".
func ValidateFilePath(filePath string) error {
	if filePath == "" {
		return errors.New("file path cannot be empty")
	}
	if strings.Contains(filePath, "\x00") {
		return errors.New("file path contains invalid characters")
	}
	for _, segment := range strings.Split(filepath.ToSlash(filePath), "/") {
		if segment == ".." {
			return fmt.Errorf("file path contains path traversal: %q", filePath)
		}
	}
	return nil
}

// segment is one dot-separated element of a path.
type segment struct {
	key   string
	index int // -1 without brackets
}

// ParseSegment parses "items[0]" into ("items", 0) and "name" into ("name", -1).
func ParseSegment(part string) (key string, index int, err error) {
	open := strings.IndexByte(part, '[')
	if open == -1 {
		return part, -1, nil
	}
	if !strings.HasSuffix(part, "]") || open+1 >= len(part)-1 {
		return "", -1, fmt.Errorf("%w: %q", ErrInvalidIndex, part)
	}
	n, err := strconv.Atoi(part[open+1 : len(part)-1])
	if err != nil || n < 0 {
		return "", -1, fmt.Errorf("%w: %q", ErrInvalidIndex, part)
	}
	return part[:open], n, nil
}

func parse(path string) ([]segment, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	parts := strings.Split(path, ".")
	segs := make([]segment, len(parts))
	for i, p := range parts {
		key, idx, err := ParseSegment(p)
		if err != nil {
			return nil, err
		}
		segs[i] = segment{key: key, index: idx}
	}
	return segs, nil
}

// IsNested reports whether path uses dots or brackets.
func IsNested(path string) bool {
	return strings.ContainsAny(path, ".[")
}

// Get resolves path inside record. The boolean is false when any segment is
// missing or traverses a non-map / non-list value.
func Get(record map[string]any, path string) (any, bool) {
	segs, err := parse(path)
	if err != nil {
		return nil, false
	}
	var current any = record
	for _, s := range segs {
		var ok bool
		if current, ok = step(current, s); !ok {
			return nil, false
		}
	}
	return current, true
}

func step(current any, s segment) (any, bool) {
	m, ok := current.(map[string]any)
	if !ok {
		return nil, false
	}
	next, ok := m[s.key]
	if !ok || s.index < 0 {
		return next, ok
	}
	list, ok := next.([]any)
	if !ok || s.index >= len(list) {
		return nil, false
	}
	return list[s.index], true
}

// Set writes value at path, creating intermediate maps and growing lists as needed.
func Set(record map[string]any, path string, value any) error {
	segs, err := parse(path)
	if err != nil {
		return err
	}
	current := record
	for i, s := range segs {
		last := i == len(segs)-1
		if s.index < 0 {
			if last {
				current[s.key] = value
				return nil
			}
			next, ok := current[s.key].(map[string]any)
			if !ok {
				next = map[string]any{}
				current[s.key] = next
			}
			current = next
			continue
		}

		list, _ := current[s.key].([]any)
		if len(list) <= s.index {
			list = append(list, make([]any, s.index+1-len(list))...)
		}
		current[s.key] = list
		if last {
			list[s.index] = value
			return nil
		}
		next, ok := list[s.index].(map[string]any)
		if !ok {
			next = map[string]any{}
			list[s.index] = next
		}
		current = next
	}
	return nil
}

// Delete removes the value at path. Missing intermediate keys are not an error.
func Delete(record map[string]any, path string) {
	segs, err := parse(path)
	if err != nil {
		return
	}
	var parent any = record
	for _, s := range segs[:len(segs)-1] {
		var ok bool
		if parent, ok = step(parent, s); !ok {
			return
		}
	}
	m, ok := parent.(map[string]any)
	if !ok {
		return
	}
	leaf := segs[len(segs)-1]
	if leaf.index < 0 {
		delete(m, leaf.key)
		return
	}
	list, ok := m[leaf.key].([]any)
	if !ok || leaf.index >= len(list) {
		return
	}
	m[leaf.key] = append(list[:leaf.index:leaf.index], list[leaf.index+1:]...)
}

// DeepCopy copies nested maps and lists so that the result can be mutated
// without affecting v. Other values are returned as is.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	default:
		return v
	}
}

// CopyRecord deep-copies a record.
func CopyRecord(r map[string]any) map[string]any {
	if r == nil {
		return nil
	}
	return DeepCopy(r).(map[string]any)
}
