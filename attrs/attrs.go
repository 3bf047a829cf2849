// Package attrs holds the free-form metadata attached to a catalog. Keys keep
// their insertion order, and values round-trip through JSON, including nulls.
package attrs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-sif/catalog/comm"
	"github.com/tidwall/gjson"
)

// Attrs is an ordered mapping from string keys to JSON-compatible values
type Attrs struct {
	keys   []string
	values map[string]any
}

// New creates empty Attrs
func New() *Attrs {
	return &Attrs{values: make(map[string]any)}
}

// FromMap creates Attrs from a map, ordering keys as they are encountered in JSON
// encoding of the map (i.e. sorted)
func FromMap(m map[string]any) (*Attrs, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("attrs are not JSON-compatible: %w", err)
	}
	a := New()
	if err := a.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return a, nil
}

// Len returns the number of keys
func (a *Attrs) Len() int {
	return len(a.keys)
}

// Keys returns the keys in insertion order
func (a *Attrs) Keys() []string {
	keys := make([]string, len(a.keys))
	copy(keys, a.keys)
	return keys
}

// Get returns the value of a key. A stored nil reports ok == true.
func (a *Attrs) Get(key string) (value any, ok bool) {
	value, ok = a.values[key]
	return
}

// GetFloat64 returns a numeric value of a key
func (a *Attrs) GetFloat64(key string) (float64, bool) {
	switch v := a.values[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// GetFloat64s returns a numeric value of a key as a vector of the given length,
// repeating scalars
func (a *Attrs) GetFloat64s(key string, n int) ([]float64, bool) {
	if v, ok := a.GetFloat64(key); ok {
		result := make([]float64, n)
		for i := range result {
			result[i] = v
		}
		return result, true
	}
	var list []any
	switch v := a.values[key].(type) {
	case []any:
		list = v
	case []float64:
		result := make([]float64, len(v))
		copy(result, v)
		return result, len(v) == n
	default:
		return nil, false
	}
	if len(list) != n {
		return nil, false
	}
	result := make([]float64, n)
	for i, x := range list {
		f, ok := x.(float64)
		if !ok {
			return nil, false
		}
		result[i] = f
	}
	return result, true
}

// Set stores a value, appending new keys to the end of the order
func (a *Attrs) Set(key string, value any) {
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

// Delete removes a key, if present
func (a *Attrs) Delete(key string) {
	if _, ok := a.values[key]; !ok {
		return
	}
	delete(a.values, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i:i], a.keys[i+1:]...)
			break
		}
	}
}

// Update copies every key of other into these Attrs
func (a *Attrs) Update(other *Attrs) {
	for _, k := range other.keys {
		a.Set(k, other.values[k])
	}
}

// Clone returns an independent copy of these Attrs. Values are copied deeply
// through their JSON representation; values which cannot be encoded are shared.
func (a *Attrs) Clone() *Attrs {
	clone := New()
	for _, k := range a.keys {
		clone.Set(k, deepCopy(a.values[k]))
	}
	return clone
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case nil, bool, float64, int, int64, string:
		return x
	case []float64:
		c := make([]float64, len(x))
		copy(c, x)
		return c
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return decodeValue(gjson.ParseBytes(data))
}

// MarshalJSON encodes these Attrs as a JSON object in key order
func (a *Attrs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range a.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(a.values[k])
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON replaces these Attrs with a decoded JSON object, keeping the
// order of its keys
func (a *Attrs) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid attrs json")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return fmt.Errorf("attrs json must be an object")
	}
	decoded := New()
	parsed.ForEach(func(key, value gjson.Result) bool {
		decoded.Set(key.String(), decodeValue(value))
		return true
	})
	*a = *decoded
	return nil
}

// decodeValue converts a parsed JSON value into plain Go values: nil, bool,
// float64, string, []any, or *Attrs for nested objects
func decodeValue(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return v.Float()
	case gjson.String:
		return v.String()
	}
	if v.IsArray() {
		list := []any{}
		v.ForEach(func(_, item gjson.Result) bool {
			list = append(list, decodeValue(item))
			return true
		})
		return list
	}
	nested := New()
	v.ForEach(func(key, item gjson.Result) bool {
		nested.Set(key.String(), decodeValue(item))
		return true
	})
	return nested
}

// Broadcast replaces these Attrs on every rank with those of the root rank.
// If the root cannot encode its attrs, every rank returns an error.
func (a *Attrs) Broadcast(ctx context.Context, c comm.Comm, root int) error {
	var data []byte
	var encodeErr error
	if c.Rank() == root {
		// an empty payload tells the other ranks that encoding failed
		if data, encodeErr = a.MarshalJSON(); encodeErr != nil {
			data = nil
		}
	}
	data, err := c.Broadcast(ctx, root, data)
	if err != nil {
		return err
	}
	if encodeErr != nil {
		return fmt.Errorf("unable to encode attrs: %w", encodeErr)
	}
	if len(data) == 0 {
		return fmt.Errorf("rank %d was unable to encode its attrs", root)
	}
	if c.Rank() == root {
		return nil
	}
	return a.UnmarshalJSON(data)
}

// String returns the JSON representation of these Attrs
func (a *Attrs) String() string {
	data, err := a.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("attrs(%d keys)", len(a.keys))
	}
	return string(data)
}
