// Package binder assigns string-valued properties onto struct fields by
// name, converting each value to the field's type.
//
// Binding is best effort. Every entry is handled on its own: an unknown
// name, an unsupported field type or a value that does not parse is
// reported in the results and logged, and the remaining entries are still
// applied.
package binder

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

// TagName is the struct tag that overrides the bound name of a field.
// A tag value of "-" hides the field.
const TagName = "bind"

var (
	ErrNotStruct      = errors.New("binder: target must be a non-nil pointer to a struct")
	ErrNotSettable    = errors.New("binder: field cannot be set")
	ErrEmptyCharacter = errors.New("binder: empty value for a character field")
)

// Status is the outcome of binding one entry.
type Status int

const (
	StatusSet Status = iota
	StatusUnknown
	StatusUnsupported
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSet:
		return "set"
	case StatusUnknown:
		return "unknown"
	case StatusUnsupported:
		return "unsupported"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result describes what happened to one entry of the source map.
type Result struct {
	Name   string
	Value  string
	Status Status
	Type   string // declared type of the matched field, empty when unknown
	Err    error
}

// Results is the outcome of one Bind call, sorted by name.
type Results []Result

// Set returns the names that were assigned.
func (r Results) Set() []string {
	var out []string
	for _, res := range r {
		if res.Status == StatusSet {
			out = append(out, res.Name)
		}
	}
	return out
}

// Skipped returns every entry that was not assigned.
func (r Results) Skipped() Results {
	var out Results
	for _, res := range r {
		if res.Status != StatusSet {
			out = append(out, res)
		}
	}
	return out
}

// Binder applies property maps and logs skipped entries.
type Binder struct {
	logger logger.Logger
}

func New(log logger.Logger) *Binder {
	return &Binder{logger: log}
}

// Bind assigns src onto the struct pointed to by target. The error is only
// non-nil when target itself is unusable; per-entry problems are in the
// results.
func (b *Binder) Bind(target interface{}, src map[string]string) (Results, error) {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, ErrNotStruct
	}
	root := v.Elem()
	fields := Fields(root.Type())
	typeName := root.Type().String()

	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(Results, 0, len(names))
	for _, name := range names {
		res := Result{Name: name, Value: src[name]}
		f, ok := fields[name]
		if !ok {
			res.Status = StatusUnknown
			b.logger.Info("no such property, ignored",
				logger.String("property", name),
				logger.String("target", typeName))
			results = append(results, res)
			continue
		}
		res.Type = f.Type.String()

		res.Status, res.Err = assign(root, f, res.Value)
		switch res.Status {
		case StatusUnsupported:
			b.logger.Info("property type not supported, not set",
				logger.String("property", name),
				logger.String("target", typeName),
				logger.String("type", res.Type))
		case StatusFailed:
			b.logger.Info("property not set",
				logger.String("property", name),
				logger.String("target", typeName),
				logger.Error(res.Err))
		}
		results = append(results, res)
	}
	return results, nil
}

// Field is a bindable field, possibly promoted from an embedded struct.
type Field struct {
	Name     string
	Type     reflect.Type
	Index    []int
	Exported bool
}

// Fields indexes every field of t by bound name, descending into embedded
// structs. As with Go selectors, a shallower field hides a deeper one of the
// same name, and a name found more than once at its shallowest depth is
// ambiguous and left out.
func Fields(t reflect.Type) map[string]Field {
	var found []candidate
	collect(t, nil, 0, &found, map[reflect.Type]bool{})

	best := make(map[string]candidate)
	ambiguous := make(map[string]bool)
	for _, c := range found {
		b, ok := best[c.Name]
		switch {
		case !ok || c.level < b.level:
			best[c.Name] = c
			delete(ambiguous, c.Name)
		case c.level == b.level:
			ambiguous[c.Name] = true
		}
	}

	out := make(map[string]Field, len(best))
	for name, c := range best {
		if !ambiguous[name] {
			out[name] = c.Field
		}
	}
	return out
}

type candidate struct {
	Field
	level int
}

func collect(t reflect.Type, prefix []int, level int, found *[]candidate, seen map[reflect.Type]bool) {
	if seen[t] {
		return
	}
	seen[t] = true
	defer delete(seen, t)

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int(nil), prefix...), i)

		if sf.Anonymous {
			et := sf.Type
			if et.Kind() == reflect.Pointer {
				et = et.Elem()
			}
			if et.Kind() == reflect.Struct && sf.Tag.Get(TagName) == "" {
				collect(et, index, level+1, found, seen)
				continue
			}
		}

		name := sf.Name
		if tag := sf.Tag.Get(TagName); tag != "" {
			if tag == "-" {
				continue
			}
			name = tag
		}
		*found = append(*found, candidate{
			Field: Field{Name: name, Type: sf.Type, Index: index, Exported: sf.IsExported()},
			level: level,
		})
	}
}

// fieldValue walks f.Index from root, allocating nil embedded pointers.
func fieldValue(root reflect.Value, f Field) (reflect.Value, error) {
	v := root
	for i, idx := range f.Index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				if !v.CanSet() {
					return reflect.Value{}, ErrNotSettable
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(idx)
	}
	return v, nil
}

// Char is a single-character field. Binding takes the first character of
// the value.
type Char rune

var (
	durationType = reflect.TypeOf(time.Duration(0))
	charType     = reflect.TypeOf(Char(0))
)

func assign(root reflect.Value, f Field, raw string) (Status, error) {
	if !f.Exported {
		return StatusFailed, fmt.Errorf("%w: %s is unexported", ErrNotSettable, f.Name)
	}

	parsed, status, err := convert(f.Type, raw)
	if status != StatusSet {
		return status, err
	}

	v, err := fieldValue(root, f)
	if err != nil {
		return StatusFailed, err
	}
	if !v.CanSet() {
		return StatusFailed, fmt.Errorf("%w: %s", ErrNotSettable, f.Name)
	}
	v.Set(parsed.Convert(f.Type))
	return StatusSet, nil
}

// convert parses raw according to t. Only scalar kinds are handled.
func convert(t reflect.Type, raw string) (reflect.Value, Status, error) {
	if t == durationType {
		d, err := parseDuration(raw)
		if err != nil {
			return reflect.Value{}, StatusFailed, err
		}
		return reflect.ValueOf(d), StatusSet, nil
	}

	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(raw), StatusSet, nil
	case reflect.Bool:
		// anything that is not a recognised true value reads as false
		b, _ := strconv.ParseBool(strings.TrimSpace(raw))
		return reflect.ValueOf(b), StatusSet, nil
	case reflect.Int32:
		if t == charType {
			r, size := utf8.DecodeRuneInString(raw)
			if size == 0 {
				return reflect.Value{}, StatusFailed, ErrEmptyCharacter
			}
			return reflect.ValueOf(r), StatusSet, nil
		}
		return parseInt(raw, 32)
	case reflect.Int8:
		return parseInt(raw, 8)
	case reflect.Int16:
		return parseInt(raw, 16)
	case reflect.Int:
		return parseInt(raw, strconv.IntSize)
	case reflect.Int64:
		return parseInt(raw, 64)
	case reflect.Uint8:
		n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 8)
		if err != nil {
			return reflect.Value{}, StatusFailed, err
		}
		return reflect.ValueOf(n), StatusSet, nil
	case reflect.Float32:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
		if err != nil {
			return reflect.Value{}, StatusFailed, err
		}
		return reflect.ValueOf(n), StatusSet, nil
	case reflect.Float64:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return reflect.Value{}, StatusFailed, err
		}
		return reflect.ValueOf(n), StatusSet, nil
	}
	return reflect.Value{}, StatusUnsupported, nil
}

func parseInt(raw string, bits int) (reflect.Value, Status, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, bits)
	if err != nil {
		return reflect.Value{}, StatusFailed, err
	}
	return reflect.ValueOf(n), StatusSet, nil
}

// parseDuration accepts Go duration text or a bare integer of milliseconds.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}
