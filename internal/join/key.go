package join

import (
	"encoding/json"
	"fmt"

	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/pkg/connector"
)

// joinKey is a comparable form of a record key. Numbers of any Go type compare
// by value, and values of different kinds never collide ("1" vs 1).
type joinKey struct {
	kind byte
	str  string
	num  float64
}

// keyOf resolves path in r. Missing and nil keys are absent.
func keyOf(r connector.Record, path string) (joinKey, bool) {
	v, ok := pathutil.Get(r, path)
	if !ok || v == nil {
		return joinKey{}, false
	}
	switch t := v.(type) {
	case string:
		return joinKey{kind: 's', str: t}, true
	case bool:
		if t {
			return joinKey{kind: 'b', num: 1}, true
		}
		return joinKey{kind: 'b'}, true
	case float64:
		return joinKey{kind: 'n', num: t}, true
	case float32:
		return joinKey{kind: 'n', num: float64(t)}, true
	case int:
		return joinKey{kind: 'n', num: float64(t)}, true
	case int8:
		return joinKey{kind: 'n', num: float64(t)}, true
	case int16:
		return joinKey{kind: 'n', num: float64(t)}, true
	case int32:
		return joinKey{kind: 'n', num: float64(t)}, true
	case int64:
		return joinKey{kind: 'n', num: float64(t)}, true
	case uint:
		return joinKey{kind: 'n', num: float64(t)}, true
	case uint32:
		return joinKey{kind: 'n', num: float64(t)}, true
	case uint64:
		return joinKey{kind: 'n', num: float64(t)}, true
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return joinKey{kind: 'n', num: f}, true
		}
		return joinKey{kind: 's', str: t.String()}, true
	default:
		// composite keys compare by their JSON encoding
		data, err := json.Marshal(t)
		if err != nil {
			return joinKey{kind: 'o', str: fmt.Sprint(t)}, true
		}
		return joinKey{kind: 'o', str: string(data)}, true
	}
}
