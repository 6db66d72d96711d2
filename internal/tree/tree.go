// Package tree models untrusted JSON as an ordered tagged union.
//
// Config documents and tool input schemas are decoded into a *Node once at
// the boundary. Object members keep their document order so schemas can be
// persisted exactly as a server reported them.
package tree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Kind is the variant held by a Node.
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

// String returns the JSON type name.
func (k Kind) String() string {
	switch k {
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "null"
	}
}

// Member is one key/value pair of an object.
type Member struct {
	Key   string
	Value *Node
}

// Node is a JSON value. The zero value is null.
type Node struct {
	kind    Kind
	boolean bool
	text    string // string value or number literal
	items   []*Node
	members []Member
}

// NewNull returns a null node.
func NewNull() *Node { return &Node{} }

// NewBool returns a boolean node.
func NewBool(b bool) *Node { return &Node{kind: Bool, boolean: b} }

// NewString returns a string node.
func NewString(s string) *Node { return &Node{kind: String, text: s} }

// NewNumber returns a number node holding the given literal.
func NewNumber(lit string) *Node { return &Node{kind: Number, text: lit} }

// NewArray returns an array node.
func NewArray(items ...*Node) *Node {
	return &Node{kind: Array, items: append([]*Node{}, items...)}
}

// NewObject returns an object node. Later duplicate keys replace earlier ones.
func NewObject(members ...Member) *Node {
	n := &Node{kind: Object}
	for _, m := range members {
		n.Set(m.Key, m.Value)
	}
	return n
}

// Kind returns the variant. A nil node is null.
func (n *Node) Kind() Kind {
	if n == nil {
		return Null
	}
	return n.kind
}

// IsObject reports whether n is an object.
func (n *Node) IsObject() bool { return n.Kind() == Object }

// Bool returns the boolean value.
func (n *Node) Bool() (bool, bool) {
	if n.Kind() != Bool {
		return false, false
	}
	return n.boolean, true
}

// Str returns the string value.
func (n *Node) Str() (string, bool) {
	if n.Kind() != String {
		return "", false
	}
	return n.text, true
}

// Number returns the number literal.
func (n *Node) Number() (json.Number, bool) {
	if n.Kind() != Number {
		return "", false
	}
	return json.Number(n.text), true
}

// Len returns the number of items or members.
func (n *Node) Len() int {
	switch n.Kind() {
	case Array:
		return len(n.items)
	case Object:
		return len(n.members)
	default:
		return 0
	}
}

// Items returns the elements of an array.
func (n *Node) Items() []*Node {
	if n.Kind() != Array {
		return nil
	}
	return n.items
}

// Members returns the members of an object in document order.
func (n *Node) Members() []Member {
	if n.Kind() != Object {
		return nil
	}
	return n.members
}

// Get returns the value of an object member.
func (n *Node) Get(key string) (*Node, bool) {
	for _, m := range n.Members() {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// GetString returns the member value when it is a string.
func (n *Node) GetString(key string) (string, bool) {
	v, ok := n.Get(key)
	if !ok {
		return "", false
	}
	return v.Str()
}

// Set replaces the member with the given key, or appends it.
func (n *Node) Set(key string, value *Node) {
	if value == nil {
		value = NewNull()
	}
	for i := range n.members {
		if n.members[i].Key == key {
			n.members[i].Value = value
			return
		}
	}
	n.members = append(n.members, Member{Key: key, Value: value})
}

// Empty reports whether n carries no information: nil, null, or an empty
// array, object or string.
func (n *Node) Empty() bool {
	switch n.Kind() {
	case Null:
		return true
	case String:
		return n.text == ""
	case Array, Object:
		return n.Len() == 0
	default:
		return false
	}
}

// Parse decodes exactly one JSON value.
func Parse(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	n, err := decode(dec)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty document")
		}
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after JSON value at offset %d", dec.InputOffset())
	}
	return n, nil
}

func decode(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			obj := &Node{kind: Object}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T, want string", keyTok)
				}
				val, err := decode(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := &Node{kind: Array, items: []*Node{}}
			for dec.More() {
				val, err := decode(dec)
				if err != nil {
					return nil, err
				}
				arr.items = append(arr.items, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", v)
		}
	case string:
		return NewString(v), nil
	case json.Number:
		return NewNumber(v.String()), nil
	case bool:
		return NewBool(v), nil
	case nil:
		return NewNull(), nil
	default:
		return nil, fmt.Errorf("unexpected token %T", tok)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

// MarshalJSON implements json.Marshaler, keeping member order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.write(&buf, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Canonical returns a compact JSON rendering with object keys sorted and
// numbers normalized. Two trees with equal content render identically.
func (n *Node) Canonical() string {
	var buf bytes.Buffer
	// write only fails on string encoding, which cannot happen for valid UTF-8
	// produced by the decoders above.
	_ = n.write(&buf, true)
	return buf.String()
}

func (n *Node) write(buf *bytes.Buffer, canonical bool) error {
	switch n.Kind() {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(n.boolean))
	case Number:
		if canonical {
			buf.WriteString(normalizeNumber(n.text))
		} else {
			buf.WriteString(n.text)
		}
	case String:
		b, err := json.Marshal(n.text)
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, item := range n.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.write(buf, canonical); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		members := n.members
		if canonical {
			members = append([]Member(nil), n.members...)
			sort.SliceStable(members, func(i, j int) bool { return members[i].Key < members[j].Key })
		}
		buf.WriteByte('{')
		for i, m := range members {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(m.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := m.Value.write(buf, canonical); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

func normalizeNumber(lit string) string {
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		if f == float64(int64(f)) && f < 1e15 && f > -1e15 {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return lit
}

// Equal reports whether a and b have the same canonical content.
func Equal(a, b *Node) bool {
	return a.Canonical() == b.Canonical()
}
