package dbusapi

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/godbus/dbus/v5"

	"github.com/ent0n29/almond/internal/protocol"
)

// ToVariant encodes a preference value: strings as s, ints as x, doubles as
// d, bools as b, lists as av and maps as a{sv}.
func ToVariant(v protocol.Value) (dbus.Variant, error) {
	if err := v.Validate(); err != nil {
		return dbus.Variant{}, err
	}
	return dbus.MakeVariant(toDBus(v)), nil
}

func toDBus(v protocol.Value) any {
	switch v.Type {
	case protocol.ValueString:
		return v.String
	case protocol.ValueInt:
		return v.Int
	case protocol.ValueDouble:
		return v.Double
	case protocol.ValueBool:
		return v.Bool
	case protocol.ValueList:
		out := make([]dbus.Variant, len(v.List))
		for i, item := range v.List {
			out[i] = dbus.MakeVariant(toDBus(item))
		}
		return out
	default:
		out := make(map[string]dbus.Variant, len(v.Map))
		for k, item := range v.Map {
			out[k] = dbus.MakeVariant(toDBus(item))
		}
		return out
	}
}

// FromVariant decodes whatever a D-Bus client sent into a preference value.
func FromVariant(v dbus.Variant) (protocol.Value, error) {
	return fromDBus(v.Value())
}

func fromDBus(x any) (protocol.Value, error) {
	switch t := x.(type) {
	case dbus.Variant:
		return fromDBus(t.Value())
	case string:
		return protocol.StringValue(t), nil
	case bool:
		return protocol.BoolValue(t), nil
	case byte:
		return protocol.IntValue(int64(t)), nil
	case int16:
		return protocol.IntValue(int64(t)), nil
	case uint16:
		return protocol.IntValue(int64(t)), nil
	case int32:
		return protocol.IntValue(int64(t)), nil
	case uint32:
		return protocol.IntValue(int64(t)), nil
	case int64:
		return protocol.IntValue(t), nil
	case uint64:
		return protocol.IntValue(int64(t)), nil
	case float64:
		return protocol.DoubleValue(t), nil
	case dbus.ObjectPath:
		return protocol.StringValue(string(t)), nil
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		list := make([]protocol.Value, rv.Len())
		for i := range list {
			item, err := fromDBus(rv.Index(i).Interface())
			if err != nil {
				return protocol.Value{}, err
			}
			list[i] = item
		}
		return protocol.ListValue(list...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return protocol.Value{}, fmt.Errorf("%w: map key %s", protocol.ErrInvalidValue, rv.Type().Key())
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		m := make(map[string]protocol.Value, len(keys))
		for _, k := range keys {
			item, err := fromDBus(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
			if err != nil {
				return protocol.Value{}, err
			}
			m[k] = item
		}
		return protocol.MapValue(m), nil
	default:
		return protocol.Value{}, fmt.Errorf("%w: unsupported D-Bus type %T", protocol.ErrInvalidValue, x)
	}
}
