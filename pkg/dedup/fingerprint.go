package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Canonical renders args as an order-independent, type-tagged string.
// Every value type contributes, so calls that differ only in a boolean or a
// number never share a canonical form.
func Canonical(args map[string]any) string {
	var b strings.Builder
	writeValue(&b, generic(args))
	return b.String()
}

// Fingerprint hashes the canonical form.
func Fingerprint(args map[string]any) string {
	sum := sha256.Sum256([]byte(Canonical(args)))
	return hex.EncodeToString(sum[:16])
}

// generic converts v into the JSON value space: map[string]any, []any, string,
// bool, float64 or nil. Typed slices, maps, pointers and integer types are folded in.
func generic(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = generic(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = generic(e)
		}
		return s
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Slice, reflect.Array:
		s := make([]any, rv.Len())
		for i := range s {
			s[i] = generic(rv.Index(i).Interface())
		}
		return s
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			m := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				m[iter.Key().String()] = generic(iter.Value().Interface())
			}
			return m
		}
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return generic(rv.Elem().Interface())
	}
	return fmt.Sprintf("%v", v)
}

func writeValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteString("z:null")
	case string:
		b.WriteString("s:")
		b.WriteString(strconv.Quote(t))
	case bool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(t))
	case float64:
		b.WriteString("n:")
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte('=')
			writeValue(b, t[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, e)
		}
		b.WriteByte(']')
	}
}

// shape lists every leaf path with its exact value, except string leaves which
// only contribute their path. Two calls can only be near-duplicates when their
// shapes are identical.
func shape(args map[string]any) string {
	var leaves []string
	walk("", generic(args), func(path string, v any) {
		if _, ok := v.(string); ok {
			leaves = append(leaves, path+"=s")
			return
		}
		var b strings.Builder
		writeValue(&b, v)
		leaves = append(leaves, path+"="+b.String())
	})
	sort.Strings(leaves)
	return strings.Join(leaves, "\n")
}

// words maps every string leaf path to its lower-cased word tokens, in order.
func words(args map[string]any) map[string][]string {
	out := make(map[string][]string)
	walk("", generic(args), func(path string, v any) {
		s, ok := v.(string)
		if !ok {
			return
		}
		out[path] = strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
	})
	return out
}

// walk visits leaves of a generic value. Empty containers are leaves.
func walk(path string, v any, fn func(path string, v any)) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			fn(path, t)
			return
		}
		for k, e := range t {
			walk(path+"/"+k, e, fn)
		}
	case []any:
		if len(t) == 0 {
			fn(path, t)
			return
		}
		for i, e := range t {
			walk(path+"/"+strconv.Itoa(i), e, fn)
		}
	default:
		fn(path, v)
	}
}
