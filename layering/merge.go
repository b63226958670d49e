// Package layering deep-copies and merges state snapshots using reflection.
package layering

import "reflect"

// Clone returns a deep copy of value. Pointers, maps, slices and interfaces
// are duplicated so the copy shares no mutable memory with the original. Nil
// maps and slices stay nil, which keeps "absent" distinct from "empty".
// Unexported struct fields are copied shallowly, so values such as time.Time
// survive intact.
func Clone[T any](value T) T {
	return as[T](deepCopy(reflect.ValueOf(&value).Elem()))
}

// MergeLayers composes snapshots ordered from strongest to weakest. Nil
// pointers, maps, slices and interfaces in a layer count as missing and are
// filled from the next weaker layer. Maps merge key by key, a present slice
// replaces the weaker one as a whole, and scalars from the strongest layer
// always win. The result shares no memory with the inputs.
func MergeLayers[T any](layers ...T) T {
	if len(layers) == 0 {
		var zero T
		return zero
	}

	merged := deepCopy(reflect.ValueOf(&layers[len(layers)-1]).Elem())
	for i := len(layers) - 2; i >= 0; i-- {
		merged = overlay(reflect.ValueOf(&layers[i]).Elem(), merged)
	}
	return as[T](merged)
}

func as[T any](v reflect.Value) T {
	var out T
	if !v.IsValid() {
		return out
	}
	target := reflect.ValueOf(&out).Elem()
	switch {
	case v.Type().AssignableTo(target.Type()):
		target.Set(v)
	case v.Type().ConvertibleTo(target.Type()):
		target.Set(v.Convert(target.Type()))
	}
	return out
}

// overlay lays strong on top of weak. weak is ignored unless it has the same
// type as strong.
func overlay(strong, weak reflect.Value) reflect.Value {
	if !strong.IsValid() {
		return deepCopy(weak)
	}
	if !sameType(strong, weak) {
		weak = reflect.Value{}
	}
	if absent(strong) {
		if weak.IsValid() {
			return deepCopy(weak)
		}
		return reflect.Zero(strong.Type())
	}

	switch strong.Kind() {
	case reflect.Pointer:
		out := reflect.New(strong.Type().Elem())
		out.Elem().Set(overlay(strong.Elem(), elem(weak)))
		return out
	case reflect.Interface:
		return box(overlay(strong.Elem(), elem(weak)), strong.Type())
	case reflect.Struct:
		out := reflect.New(strong.Type()).Elem()
		out.Set(strong)
		eachSettable(out, func(i int, field reflect.Value) {
			var weakField reflect.Value
			if weak.IsValid() {
				weakField = weak.Field(i)
			}
			field.Set(overlay(strong.Field(i), weakField))
		})
		return out
	case reflect.Map:
		out := reflect.MakeMapWithSize(strong.Type(), strong.Len())
		if weak.IsValid() && !weak.IsNil() {
			copyEntries(out, weak)
		}
		entries := strong.MapRange()
		for entries.Next() {
			key := entries.Key()
			if existing := out.MapIndex(key); existing.IsValid() {
				out.SetMapIndex(key, overlay(entries.Value(), existing))
				continue
			}
			out.SetMapIndex(key, deepCopy(entries.Value()))
		}
		return out
	case reflect.Array:
		out := reflect.New(strong.Type()).Elem()
		for i := 0; i < strong.Len(); i++ {
			var weakItem reflect.Value
			if weak.IsValid() {
				weakItem = weak.Index(i)
			}
			out.Index(i).Set(overlay(strong.Index(i), weakItem))
		}
		return out
	default:
		return deepCopy(strong)
	}
}

func deepCopy(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}
	if absent(v) {
		return reflect.Zero(v.Type())
	}

	switch v.Kind() {
	case reflect.Pointer:
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(deepCopy(v.Elem()))
		return out
	case reflect.Interface:
		return box(deepCopy(v.Elem()), v.Type())
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		eachSettable(out, func(i int, field reflect.Value) {
			field.Set(deepCopy(v.Field(i)))
		})
		return out
	case reflect.Map:
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		copyEntries(out, v)
		return out
	case reflect.Slice:
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		copyItems(out, v)
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		copyItems(out, v)
		return out
	default:
		if v.CanInterface() {
			return reflect.ValueOf(v.Interface())
		}
		return v
	}
}

func absent(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

func sameType(a, b reflect.Value) bool {
	return b.IsValid() && a.Type() == b.Type()
}

func elem(v reflect.Value) reflect.Value {
	if !v.IsValid() || v.IsNil() {
		return reflect.Value{}
	}
	return v.Elem()
}

func box(v reflect.Value, typ reflect.Type) reflect.Value {
	out := reflect.New(typ).Elem()
	if v.IsValid() {
		out.Set(v)
	}
	return out
}

func eachSettable(out reflect.Value, fn func(int, reflect.Value)) {
	for i := 0; i < out.NumField(); i++ {
		if field := out.Field(i); field.CanSet() {
			fn(i, field)
		}
	}
}

func copyEntries(dst, src reflect.Value) {
	entries := src.MapRange()
	for entries.Next() {
		dst.SetMapIndex(entries.Key(), deepCopy(entries.Value()))
	}
}

func copyItems(dst, src reflect.Value) {
	for i := 0; i < src.Len(); i++ {
		dst.Index(i).Set(deepCopy(src.Index(i)))
	}
}
