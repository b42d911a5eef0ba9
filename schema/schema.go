// Package schema validates raw templates before anything is built from them.
//
// Validation is exhaustive: every violation in the document is collected and
// returned together as a *types.ViolationList.
package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/fundeploy/template"
	"github.com/yairfalse/fundeploy/types"
)

// Type is the expected shape of a field value
type Type int

const (
	Any Type = iota
	String
	Bool
	Int
	Map
	StringMap
	List
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Bool:
		return "boolean"
	case Int:
		return "integer"
	case Map:
		return "mapping"
	case StringMap:
		return "mapping of string to string"
	case List:
		return "sequence"
	default:
		return "value"
	}
}

// Field declares one property of an Object
type Field struct {
	Type     Type
	Required bool
	Enum     []string
	// FoldCase makes Enum matching case-insensitive.
	FoldCase bool
	// Object validates the body of a Map field.
	Object *Object
	// Items validates each element of a List field.
	Items    *Field
	MinItems int
	// Check runs after the type check passed, for unions and other custom rules.
	Check func(c *Checker, path string, n *yaml.Node)
}

func (f Field) expected() string {
	if len(f.Enum) > 0 {
		return "one of " + strings.Join(f.Enum, ", ")
	}
	return f.Type.String()
}

// Object is a mapping with known fields. Keys not listed are allowed.
type Object struct {
	Fields map[string]Field
}

func (o *Object) names() []string {
	names := make([]string, 0, len(o.Fields))
	for name := range o.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var namePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]{0,127}$`)

// Validate checks a template document against the resource schemas.
func Validate(doc *template.Document) error {
	c := &Checker{}
	c.template(doc.Resources)
	return c.Err()
}

// Checker accumulates violations during one walk
type Checker struct {
	violations []*types.SchemaViolation
}

// Err returns the collected violations, or nil
func (c *Checker) Err() error {
	if len(c.violations) == 0 {
		return nil
	}
	return &types.ViolationList{Violations: c.violations}
}

// Add records a violation, describing the offending node
func (c *Checker) Add(path, expected string, n *yaml.Node) {
	v := &types.SchemaViolation{Path: path, Expected: expected}
	if n = template.Resolve(n); n != nil {
		v.Got = template.Describe(n)
		v.Line = n.Line
	}
	c.violations = append(c.violations, v)
}

func (c *Checker) addGot(path, expected, got string, line int) {
	c.violations = append(c.violations, &types.SchemaViolation{
		Path:     path,
		Expected: expected,
		Got:      got,
		Line:     line,
	})
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

func (c *Checker) template(root *yaml.Node) {
	c.duplicates("", root)
	for _, e := range template.Entries(root) {
		path := e.Key
		c.name(path, e)

		kind, ok := c.kind(path, e.Value)
		if !ok {
			continue
		}
		if !kind.TopLevel() {
			c.addGot(join(path, types.KeyType), "a top-level resource type (Service, Group, Api or Table)",
				fmt.Sprintf("%q", template.Lookup(e.Value, types.KeyType).Value), e.Value.Line)
			continue
		}
		c.body(path, kind, e.Value)
	}
}

func (c *Checker) name(path string, e template.Entry) {
	if !namePattern.MatchString(e.Key) {
		c.addGot(path, "resource name matching "+namePattern.String(), fmt.Sprintf("%q", e.Key), e.KeyNode.Line)
	}
}

// kind reads the Type tag of a resource body
func (c *Checker) kind(path string, n *yaml.Node) (types.Kind, bool) {
	if n == nil || n.Kind != yaml.MappingNode {
		c.Add(path, "resource mapping with a Type", n)
		return "", false
	}

	tag := template.Lookup(n, types.KeyType)
	if template.IsNull(tag) {
		c.addGot(join(path, types.KeyType), "resource type tag", "", n.Line)
		return "", false
	}
	if tag.Kind != yaml.ScalarNode || tag.Tag != "!!str" {
		c.Add(join(path, types.KeyType), "string", tag)
		return "", false
	}

	kind, ok := types.KindForTag(tag.Value)
	if !ok {
		c.addGot(join(path, types.KeyType), "a known resource type", fmt.Sprintf("%q", tag.Value), tag.Line)
		return "", false
	}
	return kind, true
}

// body validates Properties and the extra keys a kind allows next to them
func (c *Checker) body(path string, kind types.Kind, n *yaml.Node) {
	c.duplicates(path, n)

	props := template.Lookup(n, types.KeyProperties)
	if template.IsNull(props) {
		props = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Line: n.Line}
	}
	c.Object(join(path, types.KeyProperties), props, propertySchemas[kind])

	for _, e := range template.Entries(n) {
		switch {
		case e.Key == types.KeyType || e.Key == types.KeyProperties:
		case kind == types.KindService:
			c.function(join(path, e.Key), e)
		case kind == types.KindFunction && e.Key == types.KeyEvents:
			c.events(join(path, e.Key), e.Value)
		default:
			c.addGot(join(path, e.Key), "only Type and Properties", "unexpected key", e.KeyNode.Line)
		}
	}
}

func (c *Checker) function(path string, e template.Entry) {
	c.name(path, e)
	kind, ok := c.kind(path, e.Value)
	if !ok {
		return
	}
	if kind != types.KindFunction {
		c.addGot(join(path, types.KeyType), types.TagFunction, string(kind), e.Value.Line)
		return
	}
	c.body(path, kind, e.Value)
}

func (c *Checker) events(path string, n *yaml.Node) {
	if template.IsNull(n) {
		return
	}
	if n.Kind != yaml.MappingNode {
		c.Add(path, "mapping of trigger name to trigger", n)
		return
	}
	c.duplicates(path, n)

	for _, e := range template.Entries(n) {
		tpath := join(path, e.Key)
		c.name(tpath, e)
		c.trigger(tpath, e.Value)
	}
}

func (c *Checker) trigger(path string, n *yaml.Node) {
	if n == nil || n.Kind != yaml.MappingNode {
		c.Add(path, "trigger mapping with Type and Properties", n)
		return
	}
	c.duplicates(path, n)

	for _, e := range template.Entries(n) {
		if e.Key != types.KeyType && e.Key != types.KeyProperties {
			c.addGot(join(path, e.Key), "only Type and Properties", "unexpected key", e.KeyNode.Line)
		}
	}

	typ := template.Lookup(n, types.KeyType)
	if template.IsNull(typ) {
		c.addGot(join(path, types.KeyType), "trigger type", "", n.Line)
		return
	}
	required, known := types.TriggerRequiredProperties[typ.Value]
	if typ.Kind != yaml.ScalarNode || !known {
		c.addGot(join(path, types.KeyType), "one of "+strings.Join(triggerTypes(), ", "),
			fmt.Sprintf("%q", typ.Value), typ.Line)
		return
	}

	props := template.Lookup(n, types.KeyProperties)
	ppath := join(path, types.KeyProperties)
	if template.IsNull(props) || props.Kind != yaml.MappingNode {
		if props == nil {
			c.addGot(ppath, "mapping", "", n.Line)
		} else {
			c.Add(ppath, "mapping", props)
		}
		return
	}
	c.duplicates(ppath, props)
	for _, key := range required {
		if template.IsNull(template.Lookup(props, key)) {
			c.addGot(join(ppath, key), "required "+typ.Value+" trigger property", "", props.Line)
		}
	}
}

func triggerTypes() []string {
	names := make([]string, 0, len(types.TriggerRequiredProperties))
	for name := range types.TriggerRequiredProperties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Object validates a mapping against declared fields. A null optional field counts as absent.
func (c *Checker) Object(path string, n *yaml.Node, obj *Object) {
	n = template.Resolve(n)
	if n == nil || n.Kind != yaml.MappingNode {
		c.Add(path, "mapping", n)
		return
	}
	c.duplicates(path, n)
	if obj == nil {
		return
	}

	for _, name := range obj.names() {
		f := obj.Fields[name]
		v := template.Lookup(n, name)
		if template.IsNull(v) {
			if f.Required {
				got := ""
				if v != nil {
					got = "null"
				}
				c.addGot(join(path, name), f.expected(), got, n.Line)
			}
			continue
		}
		c.Field(join(path, name), v, f)
	}
}

// Field validates one non-null value
func (c *Checker) Field(path string, n *yaml.Node, f Field) {
	n = template.Resolve(n)
	switch f.Type {
	case String, Bool, Int:
		if !scalarOf(n, f.Type) {
			c.Add(path, f.expected(), n)
			return
		}
		if len(f.Enum) > 0 && !inEnum(n.Value, f.Enum, f.FoldCase) {
			c.addGot(path, f.expected(), fmt.Sprintf("%q", n.Value), n.Line)
			return
		}
	case Map:
		if n.Kind != yaml.MappingNode {
			c.Add(path, f.expected(), n)
			return
		}
		if f.Object != nil {
			c.Object(path, n, f.Object)
		} else {
			c.duplicates(path, n)
		}
	case StringMap:
		if n.Kind != yaml.MappingNode {
			c.Add(path, f.expected(), n)
			return
		}
		c.duplicates(path, n)
		for _, e := range template.Entries(n) {
			if e.Value == nil || e.Value.Kind != yaml.ScalarNode || template.IsNull(e.Value) {
				c.Add(join(path, e.Key), "string", e.Value)
			}
		}
	case List:
		if n.Kind != yaml.SequenceNode {
			c.Add(path, f.expected(), n)
			return
		}
		if len(n.Content) < f.MinItems {
			c.addGot(path, fmt.Sprintf("at least %d item(s)", f.MinItems), fmt.Sprintf("%d", len(n.Content)), n.Line)
		}
		if f.Items != nil {
			for i, item := range n.Content {
				ipath := indexPath(path, i)
				if template.IsNull(item) {
					c.Add(ipath, f.Items.expected(), item)
					continue
				}
				c.Field(ipath, item, *f.Items)
			}
		}
	}

	if f.Check != nil {
		f.Check(c, path, n)
	}
}

func scalarOf(n *yaml.Node, t Type) bool {
	if n == nil || n.Kind != yaml.ScalarNode {
		return false
	}
	switch t {
	case String:
		return n.Tag == "!!str"
	case Bool:
		return n.Tag == "!!bool"
	case Int:
		return n.Tag == "!!int"
	}
	return true
}

func inEnum(v string, enum []string, fold bool) bool {
	for _, e := range enum {
		if v == e || (fold && strings.EqualFold(v, e)) {
			return true
		}
	}
	return false
}

// duplicates flags keys declared more than once in one mapping
func (c *Checker) duplicates(path string, n *yaml.Node) {
	n = template.Resolve(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return
	}
	seen := make(map[string]bool, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i]
		if seen[key.Value] {
			c.addGot(join(path, key.Value), "unique key", "duplicate", key.Line)
			continue
		}
		seen[key.Value] = true
	}
}
