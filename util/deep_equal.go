package util

import (
	"bytes"
	"math/big"
	"reflect"
)

var bigIntPtrType = reflect.TypeOf((*big.Int)(nil))

type visit struct {
	a, b uintptr
	typ  reflect.Type
}

// DeepEqual reports whether a and b hold the same plain data. Unlike reflect.DeepEqual it
// compares *big.Int by value and treats nil and empty slices or maps as equal.
func DeepEqual(a, b any) bool {
	return deepValueEqual(reflect.ValueOf(a), reflect.ValueOf(b), make(map[visit]bool))
}

func deepValueEqual(a, b reflect.Value, visited map[visit]bool) bool {
	if !a.IsValid() || !b.IsValid() {
		return a.IsValid() == b.IsValid()
	}
	if a.Type() != b.Type() {
		return false
	}

	if a.Type() == bigIntPtrType && a.CanInterface() && b.CanInterface() {
		if a.IsNil() || b.IsNil() {
			return a.IsNil() == b.IsNil()
		}
		return a.Interface().(*big.Int).Cmp(b.Interface().(*big.Int)) == 0
	}

	switch a.Kind() {
	case reflect.Pointer:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() == b.IsNil()
		}
		if a.Pointer() == b.Pointer() {
			return true
		}
		v := visit{a.Pointer(), b.Pointer(), a.Type()}
		if visited[v] {
			return true
		}
		visited[v] = true
		return deepValueEqual(a.Elem(), b.Elem(), visited)
	case reflect.Interface:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() == b.IsNil()
		}
		return deepValueEqual(a.Elem(), b.Elem(), visited)
	case reflect.Slice:
		if a.Len() != b.Len() {
			return false
		}
		if a.Len() == 0 {
			return true
		}
		if a.Type().Elem().Kind() == reflect.Uint8 {
			return bytes.Equal(a.Bytes(), b.Bytes())
		}
		if a.Pointer() == b.Pointer() {
			return true
		}
		for i := 0; i < a.Len(); i++ {
			if !deepValueEqual(a.Index(i), b.Index(i), visited) {
				return false
			}
		}
		return true
	case reflect.Array:
		for i := 0; i < a.Len(); i++ {
			if !deepValueEqual(a.Index(i), b.Index(i), visited) {
				return false
			}
		}
		return true
	case reflect.Map:
		if a.Len() != b.Len() {
			return false
		}
		if a.Len() == 0 || a.Pointer() == b.Pointer() {
			return true
		}
		iter := a.MapRange()
		for iter.Next() {
			bv := b.MapIndex(iter.Key())
			if !bv.IsValid() || !deepValueEqual(iter.Value(), bv, visited) {
				return false
			}
		}
		return true
	case reflect.Struct:
		for i := 0; i < a.NumField(); i++ {
			if !deepValueEqual(a.Field(i), b.Field(i), visited) {
				return false
			}
		}
		return true
	case reflect.Func:
		return a.IsNil() && b.IsNil()
	case reflect.Chan, reflect.UnsafePointer:
		return a.Pointer() == b.Pointer()
	case reflect.Bool:
		return a.Bool() == b.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return a.Int() == b.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return a.Uint() == b.Uint()
	case reflect.Float32, reflect.Float64:
		return a.Float() == b.Float()
	case reflect.Complex64, reflect.Complex128:
		return a.Complex() == b.Complex()
	case reflect.String:
		return a.String() == b.String()
	}
	return false
}

// ReplaceEqualDeep returns next, except that every part of it which is deep-equal to the
// matching part of prev is replaced by the prev part. When the whole value is equal prev
// itself is returned, so callers can detect "no change" by identity.
func ReplaceEqualDeep(prev, next any) any {
	if prev == nil || next == nil {
		return next
	}
	return replaceEqualDeep(reflect.ValueOf(prev), reflect.ValueOf(next)).Interface()
}

func replaceEqualDeep(prev, next reflect.Value) reflect.Value {
	if !prev.IsValid() || !next.IsValid() || prev.Type() != next.Type() {
		return next
	}
	if deepValueEqual(prev, next, make(map[visit]bool)) {
		return prev
	}

	switch next.Kind() {
	case reflect.Interface:
		if prev.IsNil() || next.IsNil() {
			return next
		}
		out := reflect.New(next.Type()).Elem()
		inner := replaceEqualDeep(prev.Elem(), next.Elem())
		if !inner.Type().AssignableTo(next.Type()) {
			return next
		}
		out.Set(inner)
		return out
	case reflect.Slice:
		if next.IsNil() || next.Type().Elem().Kind() == reflect.Uint8 {
			return next
		}
		out := reflect.MakeSlice(next.Type(), next.Len(), next.Len())
		for i := 0; i < next.Len(); i++ {
			if i < prev.Len() {
				out.Index(i).Set(replaceEqualDeep(prev.Index(i), next.Index(i)))
			} else {
				out.Index(i).Set(next.Index(i))
			}
		}
		return out
	case reflect.Map:
		if next.IsNil() {
			return next
		}
		out := reflect.MakeMapWithSize(next.Type(), next.Len())
		iter := next.MapRange()
		for iter.Next() {
			if pv := prev.MapIndex(iter.Key()); pv.IsValid() {
				out.SetMapIndex(iter.Key(), replaceEqualDeep(pv, iter.Value()))
			} else {
				out.SetMapIndex(iter.Key(), iter.Value())
			}
		}
		return out
	case reflect.Pointer:
		if prev.IsNil() || next.IsNil() || next.Type() == bigIntPtrType || next.Elem().Kind() != reflect.Struct {
			return next
		}
		out := reflect.New(next.Type().Elem())
		out.Elem().Set(replaceEqualDeep(prev.Elem(), next.Elem()))
		return out
	case reflect.Struct:
		out := reflect.New(next.Type()).Elem()
		out.Set(next)
		for i := 0; i < out.NumField(); i++ {
			if out.Field(i).CanSet() {
				out.Field(i).Set(replaceEqualDeep(prev.Field(i), next.Field(i)))
			}
		}
		return out
	}
	return next
}
