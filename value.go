package treewire

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"golang.org/x/exp/maps"
)

type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
)

// Value is a subtree of the remote document: a scalar, an indexed
// container, or a keyed container. The kind is explicit so that callers
// never have to type switch on raw decoded json.
type Value struct {
	kind    ValueKind
	boolean bool
	number  float64
	text    string
	items   []*Value
	fields  map[string]*Value
}

func NewNullValue() *Value {
	return &Value{kind: KindNull}
}

func NewBoolValue(b bool) *Value {
	return &Value{kind: KindBool, boolean: b}
}

func NewNumberValue(n float64) *Value {
	return &Value{kind: KindNumber, number: n}
}

func NewStringValue(s string) *Value {
	return &Value{kind: KindString, text: s}
}

func NewArrayValue(items ...*Value) *Value {
	return &Value{kind: KindArray, items: items}
}

func NewMapValue() *Value {
	return &Value{kind: KindMap, fields: map[string]*Value{}}
}

// NewValue converts decoded json shapes (nil, bool, float64, string,
// []any, map[string]any) and the integer convenience types into a Value.
// Unsupported shapes become null.
func NewValue(v any) *Value {
	switch t := v.(type) {
	case nil:
		return NewNullValue()
	case *Value:
		return t
	case bool:
		return NewBoolValue(t)
	case float64:
		return NewNumberValue(t)
	case int:
		return NewNumberValue(float64(t))
	case int64:
		return NewNumberValue(float64(t))
	case string:
		return NewStringValue(t)
	case []any:
		items := make([]*Value, 0, len(t))
		for _, item := range t {
			items = append(items, NewValue(item))
		}
		return NewArrayValue(items...)
	case map[string]any:
		value := NewMapValue()
		for key, field := range t {
			value.fields[key] = NewValue(field)
		}
		return value
	default:
		return NewNullValue()
	}
}

func (self *Value) Kind() ValueKind {
	return self.kind
}

func (self *Value) IsNull() bool {
	return self.kind == KindNull
}

func (self *Value) IsContainer() bool {
	return self.kind == KindArray || self.kind == KindMap
}

func (self *Value) Bool() bool {
	return self.boolean
}

func (self *Value) Number() float64 {
	return self.number
}

func (self *Value) Text() string {
	return self.text
}

func (self *Value) Len() int {
	switch self.kind {
	case KindArray:
		return len(self.items)
	case KindMap:
		return len(self.fields)
	default:
		return 0
	}
}

// Child looks up one step below this value. For an indexed container the
// key is interpreted as an integer index, matching the remote wire
// convention. Returns nil when absent.
func (self *Value) Child(key string) *Value {
	switch self.kind {
	case KindArray:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || len(self.items) <= i {
			return nil
		}
		return self.items[i]
	case KindMap:
		return self.fields[key]
	default:
		return nil
	}
}

func (self *Value) Index(i int) *Value {
	if self.kind != KindArray || i < 0 || len(self.items) <= i {
		return nil
	}
	return self.items[i]
}

// SetChild sets one step below this value. For an indexed container the
// key is interpreted as an integer index; an index one past the end
// appends, an index further out pads with nulls first. Non-containers are
// left untouched.
func (self *Value) SetChild(key string, value *Value) {
	switch self.kind {
	case KindArray:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 {
			return
		}
		for len(self.items) < i {
			self.items = append(self.items, NewNullValue())
		}
		if i == len(self.items) {
			self.items = append(self.items, value)
		} else {
			self.items[i] = value
		}
	case KindMap:
		self.fields[key] = value
	}
}

func (self *Value) DeleteChild(key string) {
	switch self.kind {
	case KindArray:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || len(self.items) <= i {
			return
		}
		self.items = slices.Delete(self.items, i, i+1)
	case KindMap:
		delete(self.fields, key)
	}
}

// Keys returns the child keys in a stable order. For an indexed container
// the keys are the decimal indexes.
func (self *Value) Keys() []string {
	switch self.kind {
	case KindArray:
		keys := make([]string, len(self.items))
		for i := range self.items {
			keys[i] = strconv.Itoa(i)
		}
		return keys
	case KindMap:
		keys := maps.Keys(self.fields)
		slices.Sort(keys)
		return keys
	default:
		return nil
	}
}

// Interface converts back to the decoded json shapes.
func (self *Value) Interface() any {
	switch self.kind {
	case KindBool:
		return self.boolean
	case KindNumber:
		return self.number
	case KindString:
		return self.text
	case KindArray:
		items := make([]any, 0, len(self.items))
		for _, item := range self.items {
			items = append(items, item.Interface())
		}
		return items
	case KindMap:
		fields := map[string]any{}
		for key, field := range self.fields {
			fields[key] = field.Interface()
		}
		return fields
	default:
		return nil
	}
}

func (self *Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(self.Interface())
}

func (self *Value) UnmarshalJSON(b []byte) error {
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	*self = *NewValue(decoded)
	return nil
}

func (self *Value) String() string {
	b, err := self.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
