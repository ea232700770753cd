package indexcache

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

var baseModelType = reflect.TypeOf(bun.BaseModel{})

type column struct {
	name  string
	index []int
	typ   reflect.Type
}

// Schema describes the columns of a bun model T. Column names follow bun:
// the first segment of the `bun` tag, otherwise the snake cased field name.
type Schema[T any] struct {
	typ     reflect.Type
	table   string
	columns []column
	byName  map[string]column
}

// NewSchema reflects over T, which must be a struct or a pointer to one.
func NewSchema[T any]() (*Schema[T], error) {
	var zero T
	rt := reflect.TypeOf(zero)
	for rt != nil && rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, goerrors.New(fmt.Sprintf("model %T is not a struct", zero), goerrors.CategoryBadInput)
	}

	s := &Schema[T]{typ: rt, table: toSnake(rt.Name()), byName: map[string]column{}}
	s.collect(rt, nil)
	return s, nil
}

func (s *Schema[T]) collect(rt reflect.Type, parent []int) {
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		index := append(append([]int(nil), parent...), i)
		tag := f.Tag.Get("bun")

		if f.Type == baseModelType {
			if table := tagOption(tag, "table"); table != "" {
				s.table = strings.SplitN(table, " ", 2)[0]
			}
			continue
		}
		if tag == "-" {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct && tag == "" {
			s.collect(f.Type, index)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if strings.Contains(tag, "rel:") || strings.Contains(tag, "m2m:") {
			continue
		}

		name := strings.SplitN(tag, ",", 2)[0]
		if name == "" {
			name = toSnake(f.Name)
		}
		if _, dup := s.byName[name]; dup {
			continue
		}
		col := column{name: name, index: index, typ: f.Type}
		s.columns = append(s.columns, col)
		s.byName[name] = col
	}
}

func tagOption(tag, option string) string {
	for _, part := range strings.Split(tag, ",") {
		if v, ok := strings.CutPrefix(part, option+":"); ok {
			return v
		}
	}
	return ""
}

// Table returns the table name from the bun.BaseModel tag, or the snake cased
// type name.
func (s *Schema[T]) Table() string {
	return s.table
}

// Columns lists the column names in field order.
func (s *Schema[T]) Columns() []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.name
	}
	return out
}

// HasColumn reports whether name is a column of T.
func (s *Schema[T]) HasColumn(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Value returns the value of column name in record. Nil pointers yield nil.
func (s *Schema[T]) Value(record T, name string) (any, bool) {
	col, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	rv := reflect.ValueOf(record)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	fv, err := rv.FieldByIndexErr(col.index)
	if err != nil {
		return nil, true
	}
	for fv.Kind() == reflect.Ptr || fv.Kind() == reflect.Interface {
		if fv.IsNil() {
			return nil, true
		}
		fv = fv.Elem()
	}
	return fv.Interface(), true
}

// Values returns every column value of record.
func (s *Schema[T]) Values(record T) map[string]any {
	out := make(map[string]any, len(s.columns))
	for _, c := range s.columns {
		v, _ := s.Value(record, c.name)
		out[c.name] = v
	}
	return out
}

// Int returns column name of record as an int64.
func (s *Schema[T]) Int(record T, name string) (int64, bool) {
	v, ok := s.Value(record, name)
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// Cast converts a literal taken from a SQL fragment to the Go type of column
// name. Quoted literals have already been unquoted.
func (s *Schema[T]) Cast(name, literal string) (any, error) {
	col, ok := s.byName[name]
	if !ok {
		return nil, goerrors.New("unknown column "+name, goerrors.CategoryBadInput)
	}
	rt := col.typ
	for rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}

	switch rt.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(literal, 10, rt.Bits())
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "cast "+name)
		}
		return reflect.ValueOf(v).Convert(rt).Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := strconv.ParseUint(literal, 10, rt.Bits())
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "cast "+name)
		}
		return reflect.ValueOf(v).Convert(rt).Interface(), nil
	case reflect.Float32, reflect.Float64:
		v, err := strconv.ParseFloat(literal, rt.Bits())
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "cast "+name)
		}
		return reflect.ValueOf(v).Convert(rt).Interface(), nil
	case reflect.Bool:
		v, err := strconv.ParseBool(literal)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "cast "+name)
		}
		return reflect.ValueOf(v).Convert(rt).Interface(), nil
	case reflect.String:
		return reflect.ValueOf(literal).Convert(rt).Interface(), nil
	}

	if rt == reflect.TypeOf(time.Time{}) {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", time.DateOnly} {
			if t, err := time.Parse(layout, literal); err == nil {
				return t, nil
			}
		}
		return nil, goerrors.New("cannot cast "+literal+" to time for "+name, goerrors.CategoryBadInput)
	}
	return literal, nil
}

// toInt64 converts integer values, including driver values such as
// sql.NullInt64, to int64.
func toInt64(v any) (int64, bool) {
	if valuer, ok := v.(driver.Valuer); ok {
		inner, err := valuer.Value()
		if err != nil || inner == nil {
			return 0, false
		}
		v = inner
	}
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, false
		}
		return int64(f), true
	case reflect.String:
		n, err := strconv.ParseInt(rv.String(), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// toSnake converts the provided string to snake_case using ASCII-aware rules,
// matching how bun names columns of untagged fields.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastUnderscore := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if (unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower) && !lastUnderscore {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false

		case unicode.IsLower(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false

		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.Trim(b.String(), "_")
}
