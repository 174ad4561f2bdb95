package container

import (
	"reflect"
	"strconv"
	"strings"
)

const (
	// PropertySeparator splits a key from a property path: "config#db.host".
	PropertySeparator = "#"

	// ConfigSuffix is appended to a key to address its configuration binding.
	ConfigSuffix = ":$config"
)

// ParseKey splits "key#path" into its key and property path.
func ParseKey(s string) (key, path string) {
	if i := strings.Index(s, PropertySeparator); i >= 0 {
		return s[:i], s[i+len(PropertySeparator):]
	}
	return s, ""
}

// KeyWithPath builds "key#path". An empty path returns key unchanged.
func KeyWithPath(key, path string) string {
	if path == "" {
		return key
	}
	return key + PropertySeparator + path
}

// ConfigKey returns the key of the configuration binding for key.
func ConfigKey(key string) string {
	return key + ConfigSuffix
}

// DeepProperty navigates a dotted path into value. Maps with string keys,
// struct fields (by Go name or json tag), slices (by index) and pointers are
// traversed. A missing segment yields nil.
func DeepProperty(value any, path string) any {
	if path == "" {
		return value
	}
	cur := reflect.ValueOf(value)
	for _, seg := range strings.Split(path, ".") {
		cur = indirect(cur)
		if !cur.IsValid() {
			return nil
		}
		switch cur.Kind() {
		case reflect.Map:
			if cur.Type().Key().Kind() != reflect.String {
				return nil
			}
			cur = cur.MapIndex(reflect.ValueOf(seg).Convert(cur.Type().Key()))
		case reflect.Struct:
			cur = structField(cur, seg)
		case reflect.Slice, reflect.Array:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= cur.Len() {
				return nil
			}
			cur = cur.Index(idx)
		default:
			return nil
		}
		if !cur.IsValid() {
			return nil
		}
	}
	cur = indirectInterface(cur)
	if !cur.IsValid() || !cur.CanInterface() {
		return nil
	}
	return cur.Interface()
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func indirectInterface(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func structField(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := strings.Split(f.Tag.Get("json"), ",")[0]
		if f.Name == name || (tag != "" && tag == name) {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}
