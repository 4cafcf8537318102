package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// maxWalkDepth bounds recursion into nested or self-referencing values.
const maxWalkDepth = 64

var errTooDeep = errors.New("value nested too deeply")

var jsonNumberType = reflect.TypeOf(json.Number(""))

// walkStrings calls visit for every string leaf of v with its path. Struct
// fields are named by their JSON name, map keys are visited in sorted order.
func walkStrings(v any, visit func(path, s string)) error {
	return walkValue(reflect.ValueOf(v), "", 0, visit)
}

func walkValue(v reflect.Value, path string, depth int, visit func(path, s string)) error {
	if depth > maxWalkDepth {
		return errTooDeep
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		if v.Type() != jsonNumberType {
			visit(path, v.String())
		}
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return walkValue(v.Elem(), path, depth+1, visit)
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := walkValue(v.Index(i), indexPath(path, i), depth+1, visit); err != nil {
				return err
			}
		}
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			if err := walkValue(v.MapIndex(k), fieldPath(path, fmt.Sprint(k.Interface())), depth+1, visit); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, ok := jsonFieldName(f)
			if !ok {
				continue
			}
			p := path
			if name != "" {
				p = fieldPath(path, name)
			}
			if err := walkValue(v.Field(i), p, depth+1, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// jsonFieldName returns the JSON name of f. An empty name means the field is
// embedded and its fields are promoted; ok is false for fields tagged "-".
func jsonFieldName(f reflect.StructField) (name string, ok bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	name, _, _ = strings.Cut(tag, ",")
	if name != "" {
		return name, true
	}
	if f.Anonymous && indirectType(f.Type).Kind() == reflect.Struct {
		return "", true
	}
	return f.Name, true
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func fieldPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

// inputType names the JSON shape of v for audit details.
func inputType(v any) string {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return "null"
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return "null"
	}

	switch rv.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}
