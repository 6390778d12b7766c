package content

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// FromMarkdown parses GitHub-flavored Markdown into a document. Raw HTML is dropped.
func FromMarkdown(src []byte) *Node {
	root := markdown.Parser().Parse(text.NewReader(src))
	doc := NewDoc()
	c := mdConverter{src: src}
	doc.Content = c.blocks(root)
	return doc
}

type mdConverter struct {
	src []byte
}

func (c mdConverter) blocks(parent ast.Node) []*Node {
	var out []*Node
	for child := parent.FirstChild(); child != nil; child = child.NextSibling() {
		if node := c.block(child); node != nil {
			out = append(out, node)
		}
	}
	return out
}

func (c mdConverter) block(n ast.Node) *Node {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return &Node{Kind: KindParagraph, Content: c.inlines(n, nil)}
	case *ast.Heading:
		return &Node{Kind: KindHeading, Attrs: Attrs{Level: n.Level}, Content: c.inlines(n, nil)}
	case *ast.Blockquote:
		return &Node{Kind: KindBlockquote, Content: c.blocks(n)}
	case *ast.ThematicBreak:
		return &Node{Kind: KindHorizontalRule}
	case *ast.FencedCodeBlock:
		return c.codeBlock(n.Lines())
	case *ast.CodeBlock:
		return c.codeBlock(n.Lines())
	case *ast.List:
		return c.list(n)
	case *ast.HTMLBlock:
		return nil
	default:
		if n.Type() == ast.TypeBlock {
			return &Node{Kind: KindParagraph, Content: c.inlines(n, nil)}
		}
		return nil
	}
}

func (c mdConverter) codeBlock(lines *text.Segments) *Node {
	var buf bytes.Buffer
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		buf.Write(segment.Value(c.src))
	}
	code := string(bytes.TrimRight(buf.Bytes(), "\n"))
	node := &Node{Kind: KindCodeBlock}
	if code != "" {
		node.Content = []*Node{{Kind: KindText, Text: code}}
	}
	return node
}

func (c mdConverter) list(list *ast.List) *Node {
	task := isTaskList(list)
	kind := KindBulletList
	switch {
	case task:
		kind = KindTaskList
	case list.IsOrdered():
		kind = KindOrderedList
	}
	out := &Node{Kind: kind}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		if task {
			out.Content = append(out.Content, &Node{
				Kind:    KindTaskItem,
				Attrs:   Attrs{Checked: taskChecked(item)},
				Content: c.blocks(item),
			})
			continue
		}
		out.Content = append(out.Content, &Node{Kind: KindListItem, Content: c.blocks(item)})
	}
	return out
}

func taskCheckBox(item ast.Node) *east.TaskCheckBox {
	first := item.FirstChild()
	if first == nil {
		return nil
	}
	box, _ := first.FirstChild().(*east.TaskCheckBox)
	return box
}

func isTaskList(list *ast.List) bool {
	if list.FirstChild() == nil {
		return false
	}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		if taskCheckBox(item) == nil {
			return false
		}
	}
	return true
}

func taskChecked(item ast.Node) bool {
	box := taskCheckBox(item)
	return box != nil && box.IsChecked
}

func (c mdConverter) inlines(parent ast.Node, marks []Mark) []*Node {
	var out []*Node
	for child := parent.FirstChild(); child != nil; child = child.NextSibling() {
		out = append(out, c.inline(child, marks)...)
	}
	return mergeText(out)
}

func withMark(marks []Mark, m Mark) []Mark {
	next := make([]Mark, 0, len(marks)+1)
	next = append(next, marks...)
	return normalizeMarks(append(next, m))
}

func (c mdConverter) inline(n ast.Node, marks []Mark) []*Node {
	switch n := n.(type) {
	case *ast.Text:
		var out []*Node
		if value := string(n.Segment.Value(c.src)); value != "" {
			out = append(out, NewText(value, marks...))
		}
		if n.HardLineBreak() {
			out = append(out, &Node{Kind: KindHardBreak})
		} else if n.SoftLineBreak() {
			out = append(out, NewText(" ", marks...))
		}
		return out
	case *ast.String:
		return []*Node{NewText(string(n.Value), marks...)}
	case *ast.Emphasis:
		if n.Level >= 2 {
			return c.inlines(n, withMark(marks, MarkBold))
		}
		return c.inlines(n, withMark(marks, MarkItalic))
	case *east.Strikethrough:
		return c.inlines(n, withMark(marks, MarkStrike))
	case *ast.CodeSpan:
		return c.inlines(n, withMark(marks, MarkCode))
	case *ast.Image:
		alt := PlainText(&Node{Kind: KindParagraph, Content: c.inlines(n, nil)})
		return []*Node{{Kind: KindImage, Attrs: Attrs{Src: string(n.Destination), Alt: alt}}}
	case *ast.AutoLink:
		return []*Node{NewText(string(n.URL(c.src)), marks...)}
	case *east.TaskCheckBox, *ast.RawHTML:
		return nil
	default:
		return c.inlines(n, marks)
	}
}

// mergeText joins adjacent text nodes that carry the same marks.
func mergeText(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, node := range nodes {
		if len(out) > 0 {
			last := out[len(out)-1]
			if last.Kind == KindText && node.Kind == KindText && sameMarks(last.Marks, node.Marks) {
				last.Text += node.Text
				continue
			}
		}
		out = append(out, node)
	}
	return out
}

func sameMarks(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for _, m := range a {
		found := false
		for _, other := range b {
			if m == other {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
