// Package content implements the rich-text document model shared by the editor and the
// persistence layer, and the derived views built from it (HTML, preview text, asset references).
package content

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the type of a node in a content tree.
type Kind string

const (
	KindDoc            Kind = "doc"
	KindParagraph      Kind = "paragraph"
	KindHeading        Kind = "heading"
	KindBulletList     Kind = "bulletList"
	KindOrderedList    Kind = "orderedList"
	KindListItem       Kind = "listItem"
	KindTaskList       Kind = "taskList"
	KindTaskItem       Kind = "taskItem"
	KindBlockquote     Kind = "blockquote"
	KindCodeBlock      Kind = "codeBlock"
	KindHorizontalRule Kind = "horizontalRule"
	KindHardBreak      Kind = "hardBreak"
	KindText           Kind = "text"
	KindImage          Kind = "image"
)

// Known reports whether k is one of the documented node kinds.
func (k Kind) Known() bool {
	switch k {
	case KindDoc, KindParagraph, KindHeading, KindBulletList, KindOrderedList, KindListItem,
		KindTaskList, KindTaskItem, KindBlockquote, KindCodeBlock, KindHorizontalRule,
		KindHardBreak, KindText, KindImage:
		return true
	default:
		return false
	}
}

// Leaf reports whether nodes of kind k never carry children.
func (k Kind) Leaf() bool {
	switch k {
	case KindText, KindImage, KindHorizontalRule, KindHardBreak:
		return true
	default:
		return false
	}
}

// Mark is an inline style applied to a text node.
type Mark string

const (
	MarkBold      Mark = "bold"
	MarkItalic    Mark = "italic"
	MarkUnderline Mark = "underline"
	MarkStrike    Mark = "strike"
	MarkCode      Mark = "code"
)

// markOrder is the outer-to-inner nesting order used when wrapping text.
var markOrder = []Mark{MarkBold, MarkItalic, MarkUnderline, MarkStrike, MarkCode}

func (m Mark) known() bool {
	for _, candidate := range markOrder {
		if m == candidate {
			return true
		}
	}
	return false
}

// Align is a block text alignment.
type Align string

const (
	AlignLeft    Align = "left"
	AlignCenter  Align = "center"
	AlignRight   Align = "right"
	AlignJustify Align = "justify"
)

func (a Align) valid() bool {
	switch a {
	case AlignLeft, AlignCenter, AlignRight, AlignJustify:
		return true
	default:
		return false
	}
}

// Attrs holds the kind-specific optional fields of a node.
type Attrs struct {
	Level       int    `json:"level,omitempty"`
	TextAlign   Align  `json:"textAlign,omitempty"`
	Checked     bool   `json:"checked,omitempty"`
	Src         string `json:"src,omitempty"`
	Alt         string `json:"alt,omitempty"`
	StoragePath string `json:"storagePath,omitempty"`
	Pending     bool   `json:"pending,omitempty"`
	UploadID    string `json:"uploadId,omitempty"`
}

func (a Attrs) empty() bool {
	return a == Attrs{}
}

// Node is one element of a content tree.
type Node struct {
	Kind    Kind
	Attrs   Attrs
	Content []*Node
	Text    string
	Marks   []Mark
}

var ErrNotDocument = errors.New("content root is not a doc node")

// NewDoc returns a document holding the given blocks.
func NewDoc(blocks ...*Node) *Node {
	return &Node{Kind: KindDoc, Content: blocks}
}

// NewText returns a text node carrying the given marks.
func NewText(text string, marks ...Mark) *Node {
	return &Node{Kind: KindText, Text: text, Marks: normalizeMarks(marks)}
}

// NewBlock returns a node of the given kind wrapping children.
func NewBlock(kind Kind, children ...*Node) *Node {
	return &Node{Kind: kind, Content: children}
}

// HasMark reports whether the node carries mark m.
func (n *Node) HasMark(m Mark) bool {
	for _, candidate := range n.Marks {
		if candidate == m {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the subtree rooted at n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind, Attrs: n.Attrs, Text: n.Text}
	if len(n.Marks) > 0 {
		out.Marks = append([]Mark(nil), n.Marks...)
	}
	if len(n.Content) > 0 {
		out.Content = make([]*Node, 0, len(n.Content))
		for _, child := range n.Content {
			if child == nil {
				continue
			}
			out.Content = append(out.Content, child.Clone())
		}
	}
	return out
}

// Equal reports whether two trees are structurally identical.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.Attrs != b.Attrs || a.Text != b.Text {
		return false
	}
	if len(a.Marks) != len(b.Marks) || len(a.Content) != len(b.Content) {
		return false
	}
	for i := range a.Marks {
		if a.Marks[i] != b.Marks[i] {
			return false
		}
	}
	for i := range a.Content {
		if !Equal(a.Content[i], b.Content[i]) {
			return false
		}
	}
	return true
}

// Walk visits n and its descendants depth-first, parents before children. Returning false
// from fn skips the node's children. Nil nodes are skipped.
func Walk(n *Node, fn func(node, parent *Node) bool) {
	walk(n, nil, fn)
}

func walk(n, parent *Node, fn func(node, parent *Node) bool) {
	if n == nil {
		return
	}
	if !fn(n, parent) {
		return
	}
	if n.Kind.Leaf() {
		return
	}
	for _, child := range n.Content {
		walk(child, n, fn)
	}
}

// Path addresses a position in a tree as child indices from the root. The last index is
// the position within the parent addressed by the preceding indices.
type Path []int

// Resolve returns the node addressed by p.
func (n *Node) Resolve(p Path) (*Node, error) {
	current := n
	for depth, idx := range p {
		if current == nil || idx < 0 || idx >= len(current.Content) {
			return nil, fmt.Errorf("path %v: index %d out of range at depth %d", p, idx, depth)
		}
		current = current.Content[idx]
	}
	if current == nil {
		return nil, fmt.Errorf("path %v: nil node", p)
	}
	return current, nil
}

// InsertAt inserts child at the position addressed by p and returns the parent it was
// inserted into. An empty path appends to the root. The index may equal the parent's
// child count to append.
func (n *Node) InsertAt(p Path, child *Node) (*Node, error) {
	if child == nil {
		return nil, errors.New("insert nil node")
	}
	if len(p) == 0 {
		n.Content = append(n.Content, child)
		return n, nil
	}
	parent, err := n.Resolve(p[:len(p)-1])
	if err != nil {
		return nil, err
	}
	if parent.Kind.Leaf() {
		return nil, fmt.Errorf("path %v: cannot insert into %s node", p, parent.Kind)
	}
	idx := p[len(p)-1]
	if idx < 0 || idx > len(parent.Content) {
		return nil, fmt.Errorf("path %v: index %d out of range", p, idx)
	}
	parent.Content = append(parent.Content, nil)
	copy(parent.Content[idx+1:], parent.Content[idx:])
	parent.Content[idx] = child
	return parent, nil
}

// Remove detaches child from parent. It reports whether child was found.
func Remove(parent, child *Node) bool {
	if parent == nil || child == nil {
		return false
	}
	for i, candidate := range parent.Content {
		if candidate == child {
			parent.Content = append(parent.Content[:i], parent.Content[i+1:]...)
			return true
		}
	}
	return false
}

type wireMark struct {
	Type string `json:"type"`
}

type wireNode struct {
	Type    string     `json:"type"`
	Attrs   *Attrs     `json:"attrs,omitempty"`
	Content []*Node    `json:"content,omitempty"`
	Text    string     `json:"text,omitempty"`
	Marks   []wireMark `json:"marks,omitempty"`
}

// MarshalJSON encodes the node in the editing widget's JSON shape.
func (n *Node) MarshalJSON() ([]byte, error) {
	w := wireNode{Type: string(n.Kind), Text: n.Text}
	if !n.Attrs.empty() {
		attrs := n.Attrs
		w.Attrs = &attrs
	}
	if n.Kind != KindText && len(n.Content) > 0 {
		w.Content = make([]*Node, 0, len(n.Content))
		for _, child := range n.Content {
			if child != nil {
				w.Content = append(w.Content, child)
			}
		}
	}
	for _, m := range n.Marks {
		w.Marks = append(w.Marks, wireMark{Type: string(m)})
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the editing widget's JSON shape. Unknown marks and invalid
// alignments are dropped; duplicate marks collapse.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	n.Kind = Kind(w.Type)
	n.Text = w.Text
	n.Attrs = Attrs{}
	if w.Attrs != nil {
		n.Attrs = *w.Attrs
	}
	if n.Attrs.TextAlign != "" && !n.Attrs.TextAlign.valid() {
		n.Attrs.TextAlign = ""
	}
	n.Content = nil
	if n.Kind != KindText {
		for _, child := range w.Content {
			if child != nil {
				n.Content = append(n.Content, child)
			}
		}
	}
	marks := make([]Mark, 0, len(w.Marks))
	for _, m := range w.Marks {
		marks = append(marks, Mark(m.Type))
	}
	n.Marks = normalizeMarks(marks)
	return nil
}

func normalizeMarks(marks []Mark) []Mark {
	if len(marks) == 0 {
		return nil
	}
	out := make([]Mark, 0, len(marks))
	for _, m := range marks {
		if !m.known() {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == m {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
