package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/almond/internal/prefs"
)

// ValueType tags the variant held by a Value.
type ValueType string

const (
	ValueString ValueType = "string"
	ValueInt    ValueType = "int"
	ValueDouble ValueType = "double"
	ValueBool   ValueType = "bool"
	ValueList   ValueType = "list"
	ValueMap    ValueType = "map"
)

var ErrInvalidValue = errors.New("invalid value")

// Value is the tagged variant carried by preference calls. It encodes as
// {"type": "...", "value": ...} on JSON transports.
type Value struct {
	Type   ValueType
	String string
	Int    int64
	Double float64
	Bool   bool
	List   []Value
	Map    map[string]Value
}

func StringValue(s string) Value { return Value{Type: ValueString, String: s} }
func IntValue(i int64) Value { return Value{Type: ValueInt, Int: i} }
func DoubleValue(f float64) Value { return Value{Type: ValueDouble, Double: f} }
func BoolValue(b bool) Value { return Value{Type: ValueBool, Bool: b} }
func ListValue(l ...Value) Value { return Value{Type: ValueList, List: l} }
func MapValue(m map[string]Value) Value {
	return Value{Type: ValueMap, Map: m}
}

// ValueOf converts a normalized preference value.
func ValueOf(v any) (Value, error) {
	n, err := prefs.Normalize(v)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	switch t := n.(type) {
	case string:
		return StringValue(t), nil
	case int64:
		return IntValue(t), nil
	case float64:
		return DoubleValue(t), nil
	case bool:
		return BoolValue(t), nil
	case []any:
		list := make([]Value, len(t))
		for i, item := range t {
			iv, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			list[i] = iv
		}
		return ListValue(list...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			iv, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = iv
		}
		return MapValue(m), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrInvalidValue, n)
	}
}

// Interface returns the plain Go form accepted by a preference store.
func (v Value) Interface() any {
	switch v.Type {
	case ValueString:
		return v.String
	case ValueInt:
		return v.Int
	case ValueDouble:
		return v.Double
	case ValueBool:
		return v.Bool
	case ValueList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.Interface()
		}
		return out
	case ValueMap:
		out := make(map[string]any, len(v.Map))
		for k, item := range v.Map {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) Validate() error {
	switch v.Type {
	case ValueString, ValueInt, ValueDouble, ValueBool:
		return nil
	case ValueList:
		for _, item := range v.List {
			if err := item.Validate(); err != nil {
				return err
			}
		}
		return nil
	case ValueMap:
		for _, item := range v.Map {
			if err := item.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidValue, v.Type)
	}
}

type valueJSON struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.Type {
	case ValueString:
		payload = v.String
	case ValueInt:
		payload = v.Int
	case ValueDouble:
		payload = v.Double
	case ValueBool:
		payload = v.Bool
	case ValueList:
		list := v.List
		if list == nil {
			list = []Value{}
		}
		payload = list
	case ValueMap:
		m := v.Map
		if m == nil {
			m = map[string]Value{}
		}
		payload = m
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidValue, v.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Type: v.Type, Value: raw})
}

func (v *Value) UnmarshalJSON(raw []byte) error {
	var env valueJSON
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if len(env.Value) == 0 || bytes.Equal(env.Value, []byte("null")) {
		return fmt.Errorf("%w: missing value for %q", ErrInvalidValue, env.Type)
	}

	out := Value{Type: env.Type}
	var err error
	switch env.Type {
	case ValueString:
		err = json.Unmarshal(env.Value, &out.String)
	case ValueInt:
		err = json.Unmarshal(env.Value, &out.Int)
	case ValueDouble:
		err = json.Unmarshal(env.Value, &out.Double)
	case ValueBool:
		err = json.Unmarshal(env.Value, &out.Bool)
	case ValueList:
		err = json.Unmarshal(env.Value, &out.List)
	case ValueMap:
		err = json.Unmarshal(env.Value, &out.Map)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidValue, env.Type)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, env.Type, err)
	}
	*v = out
	return nil
}
