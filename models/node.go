package models

import (
	"encoding/json"
	"fmt"
)

// Kind distinguishes files from folders.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// NoParent marks the root node.
const NoParent = -1

// Node is one file-system entry. Parent and Children are indices into the
// owning Tree.
type Node struct {
	Path      string
	Name      string
	Kind      Kind
	Parent    int
	Children  []int
	IsProduct bool
	Product   *Product
}

// Tree is a node arena filled in depth-first pre-order. Nodes[0] is the root.
type Tree struct {
	Nodes []Node
}

// Add appends n and links it under its parent, returning its index.
func (t *Tree) Add(n Node) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, n)
	if n.Parent != NoParent {
		parent := &t.Nodes[n.Parent]
		parent.Children = append(parent.Children, idx)
	}
	return idx
}

// Root returns the root node or nil for an empty tree.
func (t *Tree) Root() *Node {
	if t == nil || len(t.Nodes) == 0 {
		return nil
	}
	return &t.Nodes[0]
}

// Products returns copies of every product node in pre-order.
func (t *Tree) Products() []*Product {
	var out []*Product
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if n.IsProduct && n.Product != nil {
			out = append(out, n.Product.Clone())
		}
	}
	return out
}

// CountKinds returns the number of file and folder nodes.
func (t *Tree) CountKinds() (files, folders int) {
	for i := range t.Nodes {
		switch t.Nodes[i].Kind {
		case KindFile:
			files++
		case KindFolder:
			folders++
		}
	}
	return files, folders
}

// MarshalJSON writes the arena as the nested tree the legacy manifest uses.
func (t Tree) MarshalJSON() ([]byte, error) {
	if len(t.Nodes) == 0 {
		return []byte("null"), nil
	}
	return t.marshalNode(0)
}

func (t Tree) marshalNode(idx int) ([]byte, error) {
	n := t.Nodes[idx]
	out := make(map[string]json.RawMessage)

	if n.IsProduct && n.Product != nil {
		encoded, err := n.Product.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode product %q: %w", n.Path, err)
		}
		if err := json.Unmarshal(encoded, &out); err != nil {
			return nil, fmt.Errorf("decode product %q: %w", n.Path, err)
		}
		out["isProduct"] = json.RawMessage("true")
	}

	var err error
	if out["path"], err = MarshalNoEscape(n.Path); err != nil {
		return nil, err
	}
	if out["name"], err = MarshalNoEscape(n.Name); err != nil {
		return nil, err
	}
	if out["type"], err = MarshalNoEscape(n.Kind); err != nil {
		return nil, err
	}

	if n.Kind == KindFolder {
		children := make([]json.RawMessage, 0, len(n.Children))
		for _, child := range n.Children {
			encoded, err := t.marshalNode(child)
			if err != nil {
				return nil, err
			}
			children = append(children, encoded)
		}
		if out["children"], err = MarshalNoEscape(children); err != nil {
			return nil, err
		}
	}

	return MarshalNoEscape(out)
}
