package tree

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var jsonNumber = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// YAML converts n into a yaml.v3 node. Member order is kept and multi-line
// strings use literal block style.
func (n *Node) YAML() *yaml.Node {
	switch n.Kind() {
	case Bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(n.boolean)}
	case Number:
		tag := "!!float"
		if _, err := strconv.ParseInt(n.text, 10, 64); err == nil {
			tag = "!!int"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: n.text}
	case String:
		return StringNode(n.text)
	case Array:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range n.items {
			seq.Content = append(seq.Content, item.YAML())
		}
		return seq
	case Object:
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, member := range n.members {
			m.Content = append(m.Content, StringNode(member.Key), member.Value.YAML())
		}
		return m
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}

// StringNode returns a string scalar, in literal block style when it spans
// several lines and the block form reads back unchanged. Other multi-line
// strings are double quoted.
func StringNode(s string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	if strings.Contains(s, "\n") {
		if literalSafe(s) {
			node.Style = yaml.LiteralStyle
		} else {
			node.Style = yaml.DoubleQuotedStyle
		}
	}
	return node
}

// literalSafe reports whether s survives a literal block. Leading line
// breaks or indentation, carriage returns and trailing blanks on a line
// are lost or altered by the emitter.
func literalSafe(s string) bool {
	if strings.HasPrefix(s, "\n") || strings.HasPrefix(s, " ") || strings.HasPrefix(s, "\t") {
		return false
	}
	if strings.ContainsAny(s, "\r\u0085\u2028\u2029") {
		return false
	}
	for _, line := range strings.Split(s, "\n") {
		if strings.HasSuffix(line, " ") || strings.HasSuffix(line, "\t") {
			return false
		}
	}
	return true
}

// FromYAML converts a decoded yaml.v3 node into a tree. Aliases are
// resolved. Scalars that cannot be represented in JSON become strings.
func FromYAML(y *yaml.Node) (*Node, error) {
	if y == nil {
		return NewNull(), nil
	}

	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return NewNull(), nil
		}
		return FromYAML(y.Content[0])
	case yaml.AliasNode:
		return FromYAML(y.Alias)
	case yaml.SequenceNode:
		arr := NewArray()
		for _, c := range y.Content {
			item, err := FromYAML(c)
			if err != nil {
				return nil, err
			}
			arr.items = append(arr.items, item)
		}
		return arr, nil
	case yaml.MappingNode:
		obj := NewObject()
		if len(y.Content)%2 != 0 {
			return nil, fmt.Errorf("line %d: mapping has odd number of nodes", y.Line)
		}
		for i := 0; i < len(y.Content); i += 2 {
			key := y.Content[i]
			if key.Kind == yaml.AliasNode {
				key = key.Alias
			}
			if key == nil || key.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping key is not a scalar", y.Content[i].Line)
			}
			val, err := FromYAML(y.Content[i+1])
			if err != nil {
				return nil, err
			}
			obj.Set(key.Value, val)
		}
		return obj, nil
	case yaml.ScalarNode:
		return scalarFromYAML(y), nil
	default:
		return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", y.Line, y.Kind)
	}
}

func scalarFromYAML(y *yaml.Node) *Node {
	switch y.ShortTag() {
	case "!!null":
		return NewNull()
	case "!!bool":
		if b, err := strconv.ParseBool(strings.ToLower(y.Value)); err == nil {
			return NewBool(b)
		}
	case "!!int":
		if jsonNumber.MatchString(y.Value) {
			return NewNumber(y.Value)
		}
		if i, err := strconv.ParseInt(strings.ReplaceAll(y.Value, "_", ""), 0, 64); err == nil {
			return NewNumber(strconv.FormatInt(i, 10))
		}
	case "!!float":
		if jsonNumber.MatchString(y.Value) {
			return NewNumber(y.Value)
		}
		if f, err := strconv.ParseFloat(y.Value, 64); err == nil {
			return NewNumber(strconv.FormatFloat(f, 'g', -1, 64))
		}
	}
	return NewString(y.Value)
}
