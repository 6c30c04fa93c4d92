package util

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

const maxCanonicalDepth = 32

// CanonicalString renders v with its dynamic types, dereferencing pointers and sorting map keys,
// so equal values always render to the same text. Funcs and channels render as their type.
func CanonicalString(v any) string {
	var b strings.Builder
	writeCanonical(&b, reflect.ValueOf(v), 0)
	return b.String()
}

func writeCanonical(b *strings.Builder, v reflect.Value, depth int) {
	if depth > maxCanonicalDepth {
		b.WriteString("<max depth>")
		return
	}
	if !v.IsValid() {
		b.WriteString("nil")
		return
	}
	if v.Kind() != reflect.Interface && v.CanInterface() {
		if s, ok := v.Interface().(fmt.Stringer); ok && (v.Kind() != reflect.Ptr || !v.IsNil()) {
			fmt.Fprintf(b, "%s(%q)", v.Type(), s.String())
			return
		}
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			fmt.Fprintf(b, "%s(nil)", v.Type())
			return
		}
		writeCanonical(b, v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			fmt.Fprintf(b, "%s(nil)", v.Type())
			return
		}
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			fmt.Fprintf(b, "%s(0x%s)", v.Type(), hex.EncodeToString(v.Bytes()))
			return
		}
		b.WriteString(v.Type().String())
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, v.Index(i), depth+1)
		}
		b.WriteByte(']')
	case reflect.Map:
		entries := make([]string, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			var e strings.Builder
			writeCanonical(&e, iter.Key(), depth+1)
			e.WriteByte(':')
			writeCanonical(&e, iter.Value(), depth+1)
			entries = append(entries, e.String())
		}
		sort.Strings(entries)
		fmt.Fprintf(b, "%s{%s}", v.Type(), strings.Join(entries, ","))
	case reflect.Struct:
		b.WriteString(v.Type().String())
		b.WriteByte('{')
		for i := 0; i < v.NumField(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(v.Type().Field(i).Name)
			b.WriteByte(':')
			writeCanonical(b, v.Field(i), depth+1)
		}
		b.WriteByte('}')
	case reflect.String:
		fmt.Fprintf(b, "%s(%q)", v.Type(), v.String())
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		b.WriteString(v.Type().String())
	default:
		fmt.Fprintf(b, "%s(%v)", v.Type(), v)
	}
}
