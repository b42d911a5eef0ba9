// Package template loads serverless templates from YAML or JSON.
//
// Templates are kept as yaml.Node trees so validation can report line numbers
// and later stages see resources in declaration order.
package template

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format of a template file
type Format string

const (
	FormatAuto Format = ""
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// KeyResources wraps the resource mapping in CloudFormation-style templates.
const KeyResources = "Resources"

// Document is a parsed template
type Document struct {
	Path string
	// Resources is the mapping from resource name to resource body.
	Resources *yaml.Node
}

// Entry is one key/value pair of a mapping node
type Entry struct {
	Key     string
	KeyNode *yaml.Node
	Value   *yaml.Node
}

// Load reads and parses a template file
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}

	doc, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", path, err)
	}
	doc.Path = path
	return doc, nil
}

// FormatFromPath picks the format by file extension
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON
	case ".yml", ".yaml":
		return FormatYAML
	default:
		return FormatAuto
	}
}

// Parse decodes template bytes. JSON may carry comments and trailing commas.
func Parse(data []byte, format Format) (*Document, error) {
	if format == FormatAuto {
		format = FormatYAML
		if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
			format = FormatJSON
		}
	}
	if format == FormatJSON {
		data = jsonc.ToJSON(data)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("template is empty")
	}

	top := Resolve(root.Content[0])
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("template root must be a mapping, got %s", Describe(top))
	}

	if wrapped := Lookup(top, KeyResources); wrapped != nil && wrapped.Kind == yaml.MappingNode {
		top = wrapped
	}

	return &Document{Resources: top}, nil
}

// Resolve follows alias nodes to their anchors
func Resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

// Entries returns the pairs of a mapping node in declaration order.
// Merge keys (<<) are expanded in place. Keys written in the mapping itself
// win over merged ones, and earlier merge sources win over later ones.
func Entries(m *yaml.Node) []Entry {
	m = Resolve(m)
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}

	explicit := make(map[string]bool, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		if !isMerge(m.Content[i]) {
			explicit[m.Content[i].Value] = true
		}
	}

	entries := make([]Entry, 0, len(m.Content)/2)
	merged := make(map[string]bool)
	for i := 0; i+1 < len(m.Content); i += 2 {
		if !isMerge(m.Content[i]) {
			entries = append(entries, Entry{
				Key:     m.Content[i].Value,
				KeyNode: m.Content[i],
				Value:   Resolve(m.Content[i+1]),
			})
			continue
		}
		for _, src := range mergeSources(m.Content[i+1]) {
			for _, e := range Entries(src) {
				if explicit[e.Key] || merged[e.Key] {
					continue
				}
				merged[e.Key] = true
				entries = append(entries, e)
			}
		}
	}
	return entries
}

func isMerge(k *yaml.Node) bool {
	return k.Kind == yaml.ScalarNode && (k.Tag == "!!merge" || (k.Value == "<<" && k.Tag == "" && k.Style == 0))
}

// mergeSources returns the mappings a merge key pulls in: one alias or a sequence of them
func mergeSources(v *yaml.Node) []*yaml.Node {
	v = Resolve(v)
	if v == nil {
		return nil
	}
	switch v.Kind {
	case yaml.MappingNode:
		return []*yaml.Node{v}
	case yaml.SequenceNode:
		var out []*yaml.Node
		for _, item := range v.Content {
			if item = Resolve(item); item != nil && item.Kind == yaml.MappingNode {
				out = append(out, item)
			}
		}
		return out
	}
	return nil
}

// Lookup returns the value for key in a mapping node, or nil
func Lookup(m *yaml.Node, key string) *yaml.Node {
	for _, e := range Entries(m) {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

// IsNull reports whether a node is absent or an explicit null
func IsNull(n *yaml.Node) bool {
	n = Resolve(n)
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// Describe names the shape of a node for error messages
func Describe(n *yaml.Node) string {
	n = Resolve(n)
	if n == nil {
		return "nothing"
	}
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!str":
			return "string"
		case "!!int":
			return "integer"
		case "!!float":
			return "number"
		case "!!bool":
			return "boolean"
		case "!!null":
			return "null"
		default:
			return n.Tag
		}
	default:
		return "unknown"
	}
}
