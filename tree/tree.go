// Package tree prints repository paths as a directory tree.
package tree

import (
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

type NodeType uint8

const (
	LeafNode NodeType = iota
	TreeNode
)

type Node struct {
	Type     NodeType
	Name     string
	children map[string]*Node
	path     []string
}

// Path returns the slash separated path of the node from the root.
func (n *Node) Path() string {
	return path.Join(append(n.path[:len(n.path):len(n.path)], n.Name)...)
}

const rootName = "/"

// New will create a new tree from a list of slash separated paths.
func New(files []string) *Node {
	tree := &Node{
		Type:     TreeNode,
		Name:     rootName,
		children: make(map[string]*Node),
	}
	tree.addPaths(files)
	return tree
}

func (n *Node) Add(paths ...string) { n.addPaths(paths) }

// FilterBy returns the subtree containing only the given paths. Paths that
// name a directory keep everything below it.
func (n *Node) FilterBy(paths ...string) *Node {
	if len(paths) == 0 {
		return n
	}
	other := New(paths)
	return n.and(other).trimRoot(other)
}

// TrimSingleRoot will walk down the tree removing nodes as long as each node
// only has one child.
func (n *Node) TrimSingleRoot() *Node {
	for len(n.children) == 1 && n.Type != LeafNode {
		for _, child := range n.children {
			if child.Type == LeafNode {
				return n
			}
			*n = *child
		}
	}
	return n
}

func (n *Node) ListPaths() []string {
	paths := make([]string, 0)
	traverse(n, func(node *Node) {
		if node.Type == LeafNode {
			paths = append(paths, node.Path())
		}
	})
	return paths
}

func (n *Node) Len() int { return count(n) }

func (n *Node) addPaths(paths []string) {
	for _, p := range paths {
		expand(split(p), n)
	}
}

// Printer writes a tree using box drawing characters.
type Printer struct {
	// Marker returns a short status shown before each file name.
	Marker func(*Node) string
	// MarkerStyle decorates a non-empty marker after it has been measured.
	MarkerStyle func(string) string
	// Style decorates a node's name, for example with color.
	Style func(*Node, string) string
}

// Print will write a string representation of the tree to an io.Writer.
func Print(w io.Writer, t *Node) error {
	return new(Printer).Print(w, t)
}

func (p *Printer) Print(w io.Writer, t *Node) error {
	width := 0
	if p.Marker != nil {
		traverse(t, func(n *Node) {
			if n.Type == LeafNode {
				width = max(width, len(p.Marker(n)))
			}
		})
	}
	pr := printer{w: w, Printer: p, width: width}
	return pr.walk(t, "")
}

// PrintHeight will return the height of the output if Print is called.
func PrintHeight(tree *Node) int {
	var n = 1
	if len(tree.children) == 0 {
		return n
	}
	for _, ch := range tree.children {
		n += PrintHeight(ch)
	}
	return n
}

func expand(parts []string, tree *Node) {
	if tree == nil || len(parts) == 0 {
		return
	}
	child, ok := tree.children[parts[0]]
	if !ok {
		tp := TreeNode
		if len(parts) == 1 {
			tp = LeafNode
		}
		child = createNode(tree, parts[0], tp)
		tree.insertChild(child)
	} else if len(parts) > 1 {
		child.Type = TreeNode
	}
	expand(parts[1:], child)
}

type printer struct {
	*Printer
	w     io.Writer
	width int
}

func (p *printer) walk(t *Node, prefix string) error {
	var (
		end      = len(t.children) - 1
		line     string
		children = t.getChildren()
	)
	for i, node := range children {
		if i == end {
			line = "└──"
		} else {
			line = "├──"
		}
		name := node.Name
		if p.Style != nil {
			name = p.Style(node, name)
		}
		mark := ""
		if p.width > 0 {
			m := ""
			if node.Type == LeafNode {
				m = p.Marker(node)
			}
			mark = strings.Repeat(" ", p.width-len(m)+1)
			if m != "" && p.MarkerStyle != nil {
				m = p.MarkerStyle(m)
			}
			mark = m + mark
		}
		if _, err := fmt.Fprintf(p.w, "%s%s %s%s\n", prefix, line, mark, name); err != nil {
			return err
		}
		next := prefix + "│  "
		if i == end {
			next = prefix + "   "
		}
		if err := p.walk(node, next); err != nil {
			return err
		}
	}
	return nil
}

func traverse(node *Node, fn func(node *Node)) {
	fn(node)
	for _, child := range node.getChildren() {
		traverse(child, fn)
	}
}

func count(root *Node) int {
	if root.Type == LeafNode {
		return 1
	}
	var n int
	for _, child := range root.children {
		n += count(child)
	}
	return n
}

func createNode(parent *Node, name string, tp NodeType) *Node {
	n := &Node{Name: name, Type: tp}
	if parent != nil && parent.Name != rootName {
		n.path = append(parent.path[:len(parent.path):len(parent.path)], parent.Name)
	}
	return n
}

func (n *Node) getChildren() []*Node {
	if n.children == nil {
		return nil
	}
	res := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		res = append(res, c)
	}
	sort.Sort(nodelist(res))
	return res
}

func (n *Node) insertChild(child *Node) {
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	n.children[child.Name] = child
}

func (n *Node) and(other *Node) *Node {
	res := Node{
		Type:     n.Type,
		Name:     n.Name,
		path:     n.path,
		children: make(map[string]*Node),
	}
	for name, child := range other.children {
		orig, ok := n.children[name]
		if !ok {
			continue
		}
		if child.Type == TreeNode {
			res.children[name] = orig.and(child)
			continue
		}
		var cp Node
		deepCopy(&cp, orig)
		res.children[name] = &cp
	}
	return &res
}

func (n *Node) trimRoot(other *Node) *Node {
	if len(n.children) == 1 {
		for name, child := range other.children {
			orig, ok := n.children[name]
			if !ok || orig.Type == LeafNode {
				continue
			}
			n = orig.trimRoot(child)
			break
		}
	}
	return n
}

func deepCopy(dst, n *Node) {
	dst.Type = n.Type
	dst.Name = n.Name
	dst.path = append(dst.path, n.path...)
	if n.children != nil {
		dst.children = make(map[string]*Node, len(n.children))
		for k, v := range n.children {
			var c Node
			deepCopy(&c, v)
			dst.children[k] = &c
		}
	}
}

// nodelist sorts directories before files and then by name.
type nodelist []*Node

func (nl nodelist) Less(i, j int) bool {
	l, r := nl[i].Type == TreeNode, nl[j].Type == TreeNode
	if l == r {
		return strings.Compare(nl[i].Name, nl[j].Name) < 0
	}
	return l
}

func (nl nodelist) Len() int { return len(nl) }

func (nl nodelist) Swap(i, j int) {
	nl[i], nl[j] = nl[j], nl[i]
}

var _ sort.Interface = (*nodelist)(nil)

func split(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '/' })
}
