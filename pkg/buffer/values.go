package buffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Values is a JSON-compatible mapping from field name to value.
type Values = map[string]any

// ErrNotJSON signals a value that cannot be represented as JSON (functions,
// channels, cyclic references, NaN).
var ErrNotJSON = errors.New("buffer: value is not JSON-representable")

// Normalize returns a deep copy of v restricted to JSON types: objects become
// map[string]any, arrays []any and numbers float64. A nil input yields an
// empty map.
func Normalize(v Values) (Values, error) {
	if len(v) == 0 {
		return make(Values), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	out := make(Values, len(v))
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return out, nil
}

// Clone deep-copies an already normalised value map.
func Clone(src Values) Values {
	out := make(Values, len(src))
	for k, v := range src {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		clone := make(map[string]any, len(typed))
		for k, v := range typed {
			clone[k] = deepCopy(v)
		}
		return clone
	case []any:
		clone := make([]any, len(typed))
		for i, v := range typed {
			clone[i] = deepCopy(v)
		}
		return clone
	default:
		return typed
	}
}

// Lookup resolves a dotted path ("owner.email", "tags.0") inside values.
func Lookup(values Values, path string) (any, bool) {
	if values == nil || path == "" {
		return nil, false
	}
	current := any(values)
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Assign writes value at a dotted path, creating intermediate objects. Array
// elements can be replaced but arrays are never grown.
func Assign(values Values, path string, value any) error {
	if values == nil {
		return errors.New("buffer: values map is nil")
	}
	segments := strings.Split(path, ".")
	if path == "" || len(segments) == 0 {
		return errors.New("buffer: path is required")
	}

	var current any = values
	for i, segment := range segments {
		last := i == len(segments)-1
		switch node := current.(type) {
		case map[string]any:
			if last {
				node[segment] = value
				return nil
			}
			next, ok := node[segment]
			if !ok || next == nil {
				child := make(map[string]any)
				node[segment] = child
				next = child
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil {
				return fmt.Errorf("buffer: expected numeric segment, got %q", segment)
			}
			if idx < 0 || idx >= len(node) {
				return fmt.Errorf("buffer: index %d out of range in path %q", idx, path)
			}
			if last {
				node[idx] = value
				return nil
			}
			if node[idx] == nil {
				node[idx] = make(map[string]any)
			}
			current = node[idx]
		default:
			return fmt.Errorf("buffer: cannot descend into %T at segment %q", node, segment)
		}
	}
	return nil
}
