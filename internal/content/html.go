package content

import (
	"strconv"
	"strings"
)

var markTags = map[Mark]string{
	MarkBold:      "strong",
	MarkItalic:    "em",
	MarkUnderline: "u",
	MarkStrike:    "s",
	MarkCode:      "code",
}

// RenderHTML converts a document to an HTML fragment. Text payloads are emitted as-is.
// Unknown node kinds render their children without a wrapper.
func RenderHTML(doc *Node) string {
	if doc == nil {
		return ""
	}
	var b strings.Builder
	renderNode(&b, doc)
	return b.String()
}

func renderNode(b *strings.Builder, node *Node) {
	switch node.Kind {
	case KindDoc:
		renderChildren(b, node)
	case KindText:
		renderText(b, node)
	case KindParagraph:
		renderBlock(b, node, "p", "")
	case KindHeading:
		level := node.Attrs.Level
		if level < 1 || level > 6 {
			level = 1
		}
		renderBlock(b, node, "h"+strconv.Itoa(level), "")
	case KindBulletList:
		renderBlock(b, node, "ul", "")
	case KindOrderedList:
		renderBlock(b, node, "ol", "")
	case KindListItem:
		renderBlock(b, node, "li", "")
	case KindTaskList:
		renderBlock(b, node, "ul", "task-list")
	case KindTaskItem:
		renderTaskItem(b, node)
	case KindBlockquote:
		renderBlock(b, node, "blockquote", "")
	case KindCodeBlock:
		b.WriteString("<pre")
		writeAlign(b, node.Attrs.TextAlign)
		b.WriteString("><code>")
		renderChildren(b, node)
		b.WriteString("</code></pre>")
	case KindHorizontalRule:
		b.WriteString("<hr/>")
	case KindHardBreak:
		b.WriteString("<br/>")
	case KindImage:
		renderImage(b, node)
	default:
		renderChildren(b, node)
	}
}

func renderChildren(b *strings.Builder, node *Node) {
	for _, child := range node.Content {
		if child != nil {
			renderNode(b, child)
		}
	}
}

func renderBlock(b *strings.Builder, node *Node, tag, class string) {
	b.WriteString("<")
	b.WriteString(tag)
	if class != "" {
		b.WriteString(` class="`)
		b.WriteString(class)
		b.WriteString(`"`)
	}
	writeAlign(b, node.Attrs.TextAlign)
	b.WriteString(">")
	renderChildren(b, node)
	b.WriteString("</")
	b.WriteString(tag)
	b.WriteString(">")
}

func renderTaskItem(b *strings.Builder, node *Node) {
	if node.Attrs.Checked {
		b.WriteString(`<li class="task-item checked"`)
	} else {
		b.WriteString(`<li class="task-item"`)
	}
	writeAlign(b, node.Attrs.TextAlign)
	b.WriteString(">")
	if node.Attrs.Checked {
		b.WriteString(`<input type="checkbox" checked disabled/>`)
	} else {
		b.WriteString(`<input type="checkbox" disabled/>`)
	}
	renderChildren(b, node)
	b.WriteString("</li>")
}

func renderImage(b *strings.Builder, node *Node) {
	b.WriteString(`<img src="`)
	b.WriteString(node.Attrs.Src)
	b.WriteString(`"`)
	if node.Attrs.Alt != "" {
		b.WriteString(` alt="`)
		b.WriteString(node.Attrs.Alt)
		b.WriteString(`"`)
	}
	writeAlign(b, node.Attrs.TextAlign)
	b.WriteString(" />")
}

func renderText(b *strings.Builder, node *Node) {
	if node.Text == "" {
		return
	}
	applied := make([]string, 0, len(node.Marks))
	for _, m := range markOrder {
		if node.HasMark(m) {
			applied = append(applied, markTags[m])
		}
	}
	for _, tag := range applied {
		b.WriteString("<" + tag + ">")
	}
	b.WriteString(node.Text)
	for i := len(applied) - 1; i >= 0; i-- {
		b.WriteString("</" + applied[i] + ">")
	}
}

func writeAlign(b *strings.Builder, align Align) {
	if align == "" {
		return
	}
	b.WriteString(` style="text-align:`)
	b.WriteString(string(align))
	b.WriteString(`"`)
}
