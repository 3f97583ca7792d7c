package vars

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

var kindNames = map[Kind]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindNumber: "number",
	KindString: "string",
	KindArray:  "array",
	KindObject: "object",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is an immutable structured variable value. The zero Value is Null.
// Constructors copy their inputs and accessors return copies, so a Value can
// be shared between goroutines and snapshots without locking.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func Null() Value            { return Value{} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Number(f float64) Value { return Value{kind: KindNumber, n: f} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func Int(i int) Value        { return Number(float64(i)) }
func Strings(ss ...string) Value {
	items := make([]Value, len(ss))
	for i, s := range ss {
		items[i] = String(s)
	}
	return Value{kind: KindArray, arr: items}
}

// Array builds an array value from items.
func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, arr: cp}
}

// Object builds an object value from fields.
func Object(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Items returns a copy of the elements of an array value, nil otherwise.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	cp := make([]Value, len(v.arr))
	copy(cp, v.arr)
	return cp
}

// Len reports the number of elements of an array or fields of an object.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	}
	return 0
}

// Field returns the named field of an object value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[name]
	return f, ok
}

// Keys returns the sorted field names of an object value.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsScalar reports whether the value can be rendered as text.
func (v Value) IsScalar() bool {
	return v.kind != KindArray && v.kind != KindObject
}

// Text renders a scalar value as text. Null renders as the empty string,
// numbers in their shortest decimal form. Arrays and objects are an error.
func (v Value) Text() (string, error) {
	switch v.kind {
	case KindNull:
		return "", nil
	case KindBool:
		return strconv.FormatBool(v.b), nil
	case KindNumber:
		return formatNumber(v.n), nil
	case KindString:
		return v.s, nil
	}
	return "", fmt.Errorf("cannot render %s value as text", v.kind)
}

// String implements fmt.Stringer. Composite values are shown as JSON.
func (v Value) String() string {
	if s, err := v.Text(); err == nil {
		return s
	}
	b, err := json.Marshal(v.Any())
	if err != nil {
		return "<" + v.kind.String() + ">"
	}
	return string(b)
}

func formatNumber(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, fv := range v.obj {
			ov, ok := o.obj[k]
			if !ok || !fv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Lookup walks a dotted path relative to v. Numeric segments index arrays.
func (v Value) Lookup(path string) (Value, error) {
	if path == "" {
		return v, nil
	}
	return v.descend(path, strings.Split(path, "."))
}

func (v Value) descend(path string, segments []string) (Value, error) {
	cur := v
	for _, seg := range segments {
		switch cur.kind {
		case KindObject:
			next, ok := cur.obj[seg]
			if !ok {
				return Value{}, &PathError{Path: path, Segment: seg, Reason: "missing key"}
			}
			cur = next
		case KindArray:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return Value{}, &PathError{Path: path, Segment: seg, Reason: "array index is not a number"}
			}
			if idx < 0 || idx >= len(cur.arr) {
				return Value{}, &PathError{Path: path, Segment: seg, Reason: fmt.Sprintf("index out of range (len %d)", len(cur.arr))}
			}
			cur = cur.arr[idx]
		default:
			return Value{}, &PathError{Path: path, Segment: seg, Reason: "cannot index " + cur.kind.String() + " value"}
		}
	}
	return cur, nil
}

// FromAny converts decoded YAML/JSON data into a Value.
func FromAny(in interface{}) Value {
	switch t := in.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case int:
		return Number(float64(t))
	case int8:
		return Number(float64(t))
	case int16:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case uint16:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case float32:
		return Number(float64(t))
	case float64:
		return Number(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return Number(f)
		}
		return String(t.String())
	case []string:
		return Strings(t...)
	case []interface{}:
		items := make([]Value, len(t))
		for i, it := range t {
			items[i] = FromAny(it)
		}
		return Value{kind: KindArray, arr: items}
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, it := range t {
			fields[k] = FromAny(it)
		}
		return Value{kind: KindObject, obj: fields}
	case map[interface{}]interface{}:
		fields := make(map[string]Value, len(t))
		for k, it := range t {
			fields[fmt.Sprint(k)] = FromAny(it)
		}
		return Value{kind: KindObject, obj: fields}
	case map[string]string:
		fields := make(map[string]Value, len(t))
		for k, it := range t {
			fields[k] = String(it)
		}
		return Value{kind: KindObject, obj: fields}
	}
	return String(fmt.Sprint(in))
}

// Any converts v back into plain Go data (nil, bool, float64, string,
// []interface{}, map[string]interface{}).
func (v Value) Any() interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, it := range v.arr {
			out[i] = it.Any()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.obj))
		for k, it := range v.obj {
			out[k] = it.Any()
		}
		return out
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) { return json.Marshal(v.Any()) }

func (v *Value) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

func (v Value) MarshalYAML() (interface{}, error) { return v.Any(), nil }

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// PathError describes a dotted path that could not be resolved.
type PathError struct {
	Path    string
	Segment string
	Reason  string
}

func (e *PathError) Error() string {
	if e.Segment == "" || e.Segment == e.Path {
		return fmt.Sprintf("%s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: %s at %q", e.Path, e.Reason, e.Segment)
}
