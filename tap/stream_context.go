package tap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// StreamContext holds the ancestor identifier bindings a stream needs to
// fill its path placeholders. It is immutable: Merge and With return new
// values and never modify the receiver.
type StreamContext struct {
	values map[string]any
}

// NewStreamContext copies kv into a new StreamContext.
func NewStreamContext(kv map[string]any) StreamContext {
	values := make(map[string]any, len(kv))
	for k, v := range kv {
		values[k] = v
	}
	return StreamContext{values: values}
}

func (c StreamContext) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c StreamContext) Len() int {
	return len(c.values)
}

// With returns a copy of c with key bound to value.
func (c StreamContext) With(key string, value any) StreamContext {
	return c.Merge(NewStreamContext(map[string]any{key: value}))
}

// Merge returns a new StreamContext holding the bindings of c overlaid by
// the bindings of other.
func (c StreamContext) Merge(other StreamContext) StreamContext {
	values := make(map[string]any, len(c.values)+len(other.values))
	for k, v := range c.values {
		values[k] = v
	}
	for k, v := range other.values {
		values[k] = v
	}
	return StreamContext{values: values}
}

// Keys returns the bound keys in sorted order.
func (c StreamContext) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the bindings deterministically, e.g. "application_id=7,campaign_id=42".
func (c StreamContext) String() string {
	parts := make([]string, 0, len(c.values))
	for _, k := range c.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c.values[k]))
	}
	return strings.Join(parts, ",")
}

// contextValue converts a JSON value into a context binding. Integral numbers
// become int64 so they format without exponents in URL paths.
func contextValue(result gjson.Result) (any, bool) {
	switch result.Type {
	case gjson.Number:
		if f := result.Float(); f == float64(int64(f)) {
			return result.Int(), true
		}
		return result.Raw, true
	case gjson.String:
		if result.Str == "" {
			return nil, false
		}
		return result.Str, true
	default:
		return nil, false
	}
}
