package manifest

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jameshunt/clockwork/pkg/resource"
)

// yamlNode is the on-disk shape of one syntax-tree node: a direct
// structural mirror of Node, with Op spelled out as a word instead of an
// enum ordinal. Loading a manifest this way decodes data, it does not
// parse a language -- there is no lexer, no grammar, and no operator
// precedence; yaml.v3 walks the document tree and Go's struct tags do
// the rest, the way the teacher's own config loading works.
type yamlNode struct {
	Op    string `yaml:"op"`
	Kind  string `yaml:"kind,omitempty"`
	ID    string `yaml:"id,omitempty"`
	Name  string `yaml:"name,omitempty"`
	Value string `yaml:"value,omitempty"`
	Cond  string `yaml:"cond,omitempty"`

	Children []yamlNode `yaml:"children,omitempty"`
	Then     []yamlNode `yaml:"then,omitempty"`
	Else     []yamlNode `yaml:"else,omitempty"`
}

// yamlManifest is the on-disk shape of an entire Manifest: a map of
// policy name to its root node's children.
type yamlManifest struct {
	Policies map[string][]yamlNode `yaml:"policies"`
}

var opNames = map[string]Op{
	"policy":     OpPolicy,
	"resource":   OpResourceDecl,
	"attr":       OpAttr,
	"dependency": OpDependency,
	"if":         OpIf,
	"include":    OpInclude,
}

// Load decodes a Manifest from r's YAML document. Every policy becomes a
// top-level OpPolicy node whose Children are the decoded tree.
func Load(r io.Reader) (*Manifest, error) {
	var doc yamlManifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("manifest: decode yaml: %w", err)
	}

	m := New()
	for name, children := range doc.Policies {
		root := &Node{Op: OpPolicy}
		nodes, err := convertNodes(children)
		if err != nil {
			return nil, fmt.Errorf("manifest: policy %q: %w", name, err)
		}
		root.Children = nodes
		m.AddPolicy(name, root)
	}
	return m, nil
}

func convertNodes(in []yamlNode) ([]*Node, error) {
	out := make([]*Node, 0, len(in))
	for _, n := range in {
		node, err := convertNode(n)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

func convertNode(n yamlNode) (*Node, error) {
	op, ok := opNames[n.Op]
	if !ok {
		return nil, fmt.Errorf("unknown node op %q", n.Op)
	}

	node := &Node{
		Op:    op,
		ID:    n.ID,
		Name:  n.Name,
		Value: n.Value,
		Cond:  n.Cond,
	}
	if n.Kind != "" {
		node.Kind = resource.Kind(n.Kind)
	}

	var err error
	if node.Children, err = convertNodes(n.Children); err != nil {
		return nil, err
	}
	if node.Then, err = convertNodes(n.Then); err != nil {
		return nil, err
	}
	if node.Else, err = convertNodes(n.Else); err != nil {
		return nil, err
	}
	return node, nil
}
