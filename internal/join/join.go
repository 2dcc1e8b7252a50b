// Package join combines two record lists by key.
//
// Nested mode keeps every left record in order and merges in the matching right
// record; parallel mode is a full outer union with one output record per distinct key.
package join

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/canectors/flow/pkg/connector"
)

// ErrInvalidJoinInput is returned when an operand is not a list of records.
var ErrInvalidJoinInput = errors.New("invalid join input")

// Mode selects the join algorithm.
type Mode int

const (
	// Nested preserves the left side: output cardinality equals left cardinality.
	Nested Mode = iota
	// Parallel emits one record per distinct key across both sides.
	Parallel
)

// ParseMode converts a configuration string ("nested", "parallel") into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nested", "left":
		return Nested, nil
	case "parallel", "outer", "full":
		return Parallel, nil
	default:
		return Nested, fmt.Errorf("unknown join mode %q", s)
	}
}

func (m Mode) String() string {
	if m == Parallel {
		return "parallel"
	}
	return "nested"
}

// CombineFunc merges a left and a right record. In parallel mode either side
// may be nil when the key exists on one side only.
type CombineFunc func(left, right connector.Record) connector.Record

// Spec describes a join.
type Spec struct {
	// Key is a dotted path resolved in every record
	Key string
	// Mode selects nested or parallel
	Mode Mode
	// Combine overrides the default shallow merge (right fields over left)
	Combine CombineFunc
}

// Merge is the default combiner: a new record with left fields, then right fields
// on top. A nil side contributes nothing.
func Merge(left, right connector.Record) connector.Record {
	out := make(connector.Record, len(left)+len(right))
	maps.Copy(out, left)
	maps.Copy(out, right)
	return out
}

// Join combines left and right according to spec. Both operands must be lists
// whose elements are records; anything else yields ErrInvalidJoinInput.
func Join(left, right connector.Value, spec Spec) (connector.Value, error) {
	if spec.Key == "" {
		return connector.Null(), fmt.Errorf("%w: empty join key", ErrInvalidJoinInput)
	}
	lrecs, err := records("left", left)
	if err != nil {
		return connector.Null(), err
	}
	rrecs, err := records("right", right)
	if err != nil {
		return connector.Null(), err
	}
	combine := spec.Combine
	if combine == nil {
		combine = Merge
	}

	if spec.Mode == Parallel {
		return connector.Records(parallel(lrecs, rrecs, spec.Key, combine)), nil
	}
	return connector.Records(nested(lrecs, rrecs, spec.Key, combine)), nil
}

func records(side string, v connector.Value) ([]connector.Record, error) {
	if v.Kind() != connector.KindList {
		return nil, fmt.Errorf("%w: %s operand is %s, want list", ErrInvalidJoinInput, side, v.Kind())
	}
	recs, ok := v.Records()
	if !ok {
		return nil, fmt.Errorf("%w: %s operand contains non-record elements", ErrInvalidJoinInput, side)
	}
	return recs, nil
}

func nested(left, right []connector.Record, key string, combine CombineFunc) []connector.Record {
	index := make(map[joinKey]connector.Record, len(right))
	for _, r := range right {
		if k, ok := keyOf(r, key); ok {
			index[k] = r
		}
	}

	out := make([]connector.Record, len(left))
	for i, l := range left {
		out[i] = l
		k, ok := keyOf(l, key)
		if !ok {
			continue
		}
		if r, found := index[k]; found {
			out[i] = combine(l, r)
		}
	}
	return out
}

func parallel(left, right []connector.Record, key string, combine CombineFunc) []connector.Record {
	var order []joinKey
	lindex := make(map[joinKey]connector.Record, len(left))
	rindex := make(map[joinKey]connector.Record, len(right))

	for _, l := range left {
		k, ok := keyOf(l, key)
		if !ok {
			continue
		}
		if _, seen := lindex[k]; !seen {
			order = append(order, k)
		}
		lindex[k] = l
	}
	for _, r := range right {
		k, ok := keyOf(r, key)
		if !ok {
			continue
		}
		_, inLeft := lindex[k]
		_, seen := rindex[k]
		if !inLeft && !seen {
			order = append(order, k)
		}
		rindex[k] = r
	}

	out := make([]connector.Record, 0, len(order))
	for _, k := range order {
		out = append(out, combine(lindex[k], rindex[k]))
	}
	return out
}
