package cache

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// KeySeparator joins attribute names and values in cache keys.
const KeySeparator = "/"

// Pair is an attribute name and the value it is keyed on.
type Pair struct {
	Attribute string
	Value     any
}

// KeySerializer renders attribute/value pairs into cache keys.
type KeySerializer interface {
	// SerializeKey joins the pairs as attr/value/attr/value. It reports false
	// when any value cannot key a cache entry (nil values in particular).
	SerializeKey(pairs ...Pair) (string, bool)
	// SerializeValue renders a single value as it appears in a key.
	SerializeValue(v any) (string, bool)
}

// defaultKeySerializer formats values deterministically using reflection.
// Separators inside values are percent escaped so distinct pairs never collide.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

var keyEscaper = strings.NewReplacer("%", "%25", "/", "%2F")

func (s *defaultKeySerializer) SerializeKey(pairs ...Pair) (string, bool) {
	if len(pairs) == 0 {
		return "", false
	}

	parts := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		v, ok := s.SerializeValue(p.Value)
		if !ok {
			return "", false
		}
		parts = append(parts, p.Attribute, v)
	}
	return strings.Join(parts, KeySeparator), true
}

func (s *defaultKeySerializer) SerializeValue(v any) (string, bool) {
	raw, ok := s.serializeValue(v)
	if !ok {
		return "", false
	}
	return keyEscaper.Replace(raw), true
}

// serializeValue handles individual value serialization based on type.
func (s *defaultKeySerializer) serializeValue(v any) (string, bool) {
	if v == nil {
		return "", false
	}

	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), true
	case []byte:
		return string(t), true
	case fmt.Stringer:
		if _, isValuer := v.(driver.Valuer); !isValuer {
			rv := reflect.ValueOf(v)
			if rv.Kind() == reflect.Ptr && rv.IsNil() {
				return "", false
			}
			return t.String(), true
		}
	}

	if valuer, ok := v.(driver.Valuer); ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			return "", false
		}
		inner, err := valuer.Value()
		if err != nil {
			return "", false
		}
		return s.serializeValue(inner)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "", false
		}
		return s.serializeValue(rv.Elem().Interface())
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32), true
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), true
	case reflect.String:
		return rv.String(), true
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return "", false
	case reflect.Slice, reflect.Map:
		if rv.IsNil() {
			return "", false
		}
	}

	return s.jsonFallback(v)
}

// jsonFallback provides JSON serialization as a last resort
func (s *defaultKeySerializer) jsonFallback(v any) (string, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}
