package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func paragraph(children ...*Node) *Node {
	return NewBlock(KindParagraph, children...)
}

func image(src, storagePath string, pending bool) *Node {
	return &Node{Kind: KindImage, Attrs: Attrs{Src: src, StoragePath: storagePath, Pending: pending}}
}

func sampleDoc() *Node {
	return NewBlock(KindDoc,
		&Node{Kind: KindHeading, Attrs: Attrs{Level: 2, TextAlign: AlignCenter}, Content: []*Node{NewText("Title")}},
		paragraph(NewText("plain "), NewText("loud", MarkBold, MarkItalic), &Node{Kind: KindHardBreak}),
		NewBlock(KindBulletList,
			NewBlock(KindListItem, paragraph(NewText("one"))),
			NewBlock(KindListItem, paragraph(NewText("two", MarkStrike))),
		),
		NewBlock(KindOrderedList, NewBlock(KindListItem, paragraph(NewText("first")))),
		NewBlock(KindTaskList,
			&Node{Kind: KindTaskItem, Attrs: Attrs{Checked: true}, Content: []*Node{paragraph(NewText("done"))}},
			&Node{Kind: KindTaskItem, Content: []*Node{paragraph(NewText("todo"))}},
		),
		NewBlock(KindBlockquote, paragraph(NewText("quoted", MarkUnderline))),
		NewBlock(KindCodeBlock, NewText("x := 1")),
		&Node{Kind: KindHorizontalRule},
		&Node{Kind: KindImage, Attrs: Attrs{Src: "https://cdn.example/a.png", Alt: "a", StoragePath: "users/u1/images/a.png", TextAlign: AlignRight}},
		&Node{Kind: KindImage, Attrs: Attrs{Src: "preview:abc", Pending: true, UploadID: "abc"}},
	)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	docs := map[string]*Node{
		"empty":  NewDoc(),
		"sample": sampleDoc(),
		"deep": func() *Node {
			root := NewDoc()
			current := root
			for i := 0; i < 200; i++ {
				next := NewBlock(KindBlockquote)
				current.Content = append(current.Content, next)
				current = next
			}
			current.Content = append(current.Content, paragraph(NewText("bottom", MarkCode)))
			return root
		}(),
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			encoded, err := Encode(doc)
			require.NoError(t, err)
			decoded, err := Decode(encoded)
			require.NoError(t, err)
			require.True(t, Equal(doc, decoded), "round trip changed tree: %s", encoded)
		})
	}
}

func TestDecodeVariants(t *testing.T) {
	doc, err := Decode("")
	require.NoError(t, err)
	require.Equal(t, KindDoc, doc.Kind)
	require.Empty(t, doc.Content)

	wrapped := `"{\"type\":\"doc\",\"content\":[{\"type\":\"paragraph\",\"content\":[{\"type\":\"text\",\"text\":\"hi\"}]}]}"`
	doc, err = Decode(wrapped)
	require.NoError(t, err)
	require.Equal(t, "hi", PlainText(doc))

	_, err = Decode(`{"type":"paragraph"}`)
	require.ErrorIs(t, err, ErrNotDocument)

	_, err = Decode(`{"type":`)
	require.Error(t, err)
}

func TestDecodeNormalizesMarksAndAlignment(t *testing.T) {
	raw := `{"type":"doc","content":[{"type":"paragraph","attrs":{"textAlign":"diagonal"},"content":[
		{"type":"text","text":"x","marks":[{"type":"bold"},{"type":"bold"},{"type":"link"},{"type":"italic"}]}]}]}`
	doc, err := Decode(raw)
	require.NoError(t, err)
	para := doc.Content[0]
	require.Equal(t, Align(""), para.Attrs.TextAlign)
	require.Equal(t, []Mark{MarkBold, MarkItalic}, para.Content[0].Marks)
}

func TestDecodeOrEmptyFallsBack(t *testing.T) {
	doc := DecodeOrEmpty("not json")
	require.Equal(t, KindDoc, doc.Kind)
	require.Empty(t, doc.Content)
}

func TestDecodeKeepsUnknownKinds(t *testing.T) {
	raw := `{"type":"doc","content":[{"type":"callout","content":[{"type":"paragraph","content":[{"type":"text","text":"inside"}]}]}]}`
	doc, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, Kind("callout"), doc.Content[0].Kind)
	require.False(t, doc.Content[0].Kind.Known())
	require.Equal(t, "<p>inside</p>", RenderHTML(doc))
}

func TestCloneIsDeep(t *testing.T) {
	doc := sampleDoc()
	clone := doc.Clone()
	require.True(t, Equal(doc, clone))
	clone.Content[1].Content[0].Text = "changed"
	clone.Content[1].Content[1].Marks[0] = MarkCode
	require.Equal(t, "plain ", doc.Content[1].Content[0].Text)
	require.Equal(t, MarkBold, doc.Content[1].Content[1].Marks[0])
}

func TestInsertAtAndRemove(t *testing.T) {
	doc := NewBlock(KindDoc, paragraph(NewText("a")), paragraph(NewText("b")))
	img := image("preview:1", "", true)

	parent, err := doc.InsertAt(Path{1}, img)
	require.NoError(t, err)
	require.Same(t, doc, parent)
	require.Same(t, img, doc.Content[1])
	require.Len(t, doc.Content, 3)

	inline := image("preview:2", "", true)
	parent, err = doc.InsertAt(Path{0, 1}, inline)
	require.NoError(t, err)
	require.Same(t, doc.Content[0], parent)
	require.Same(t, inline, doc.Content[0].Content[1])

	_, err = doc.InsertAt(Path{0, 0, 0}, image("x", "", true))
	require.Error(t, err, "text nodes cannot hold children")
	_, err = doc.InsertAt(Path{9}, image("x", "", true))
	require.Error(t, err)

	require.True(t, Remove(doc, img))
	require.False(t, Remove(doc, img))
	require.Len(t, doc.Content, 2)
}

func TestExtractReferences(t *testing.T) {
	resolver, err := NewResolver("https://files.example.com/notes")
	require.NoError(t, err)

	doc := NewBlock(KindDoc,
		image("https://files.example.com/notes/users%2Fu1%2Fimages%2Fa.png", "", false),
		paragraph(image("", "users/u1/images/a.png", false)),
		image("https://elsewhere.example/cat.gif", "", false),
		image("preview:tmp", "", true),
		image("https://files.example.com/notes/users%2Fu1%2Fimages%2Fpending.png", "", true),
		NewBlock(KindBlockquote, image("users/u1/images/b.png", "", false)),
		image("http://[::1]:namedport/x", "", false),
		image("", "", false),
	)

	refs := ExtractReferences(doc, resolver)
	require.Equal(t, []string{
		"https://elsewhere.example/cat.gif",
		"users/u1/images/a.png",
		"users/u1/images/b.png",
	}, refs.Sorted())
	require.False(t, refs.Has("preview:tmp"))
}

func TestExtractReferencesWithoutBase(t *testing.T) {
	resolver, err := NewResolver("")
	require.NoError(t, err)
	refs := ExtractReferences(NewBlock(KindDoc, image("https://x.example/a.png", "", false)), resolver)
	require.True(t, refs.Has("https://x.example/a.png"))
}

func TestResolverObjectURLRoundTrip(t *testing.T) {
	resolver, err := NewResolver("http://localhost:9000/notes-assets/")
	require.NoError(t, err)
	url := resolver.ObjectURL("users/u 1/images/a.png")
	require.Equal(t, "http://localhost:9000/notes-assets/users%2Fu%201%2Fimages%2Fa.png", url)
	id, err := resolver.Normalize(url)
	require.NoError(t, err)
	require.Equal(t, "users/u 1/images/a.png", id)
}

func TestNewResolverRejectsRelativeBase(t *testing.T) {
	_, err := NewResolver("/assets")
	require.Error(t, err)
}

func TestRefSetMinus(t *testing.T) {
	previous := NewRefSet("A", "B", "C")
	next := NewRefSet("B", "C", "D")
	require.Equal(t, []string{"A"}, previous.Minus(next))
	require.Equal(t, []string{"D"}, next.Minus(previous))
	require.False(t, previous.Equal(next))
	require.True(t, next.Equal(NewRefSet("D", "C", "B", "B")))
}

func TestRenderHTMLScenarios(t *testing.T) {
	tests := []struct {
		name     string
		node     *Node
		expected string
	}{
		{
			name:     "nested marks",
			node:     paragraph(NewText("hello", MarkBold, MarkItalic)),
			expected: "<p><strong><em>hello</em></strong></p>",
		},
		{
			name:     "mark order is canonical",
			node:     paragraph(NewText("hello", MarkStrike, MarkUnderline, MarkItalic, MarkBold)),
			expected: "<p><strong><em><u><s>hello</s></u></em></strong></p>",
		},
		{
			name:     "checked task item",
			node:     &Node{Kind: KindTaskItem, Attrs: Attrs{Checked: true}, Content: []*Node{paragraph(NewText("done"))}},
			expected: `<li class="task-item checked"><input type="checkbox" checked disabled/><p>done</p></li>`,
		},
		{
			name:     "unchecked task item",
			node:     &Node{Kind: KindTaskItem, Content: []*Node{paragraph(NewText("todo"))}},
			expected: `<li class="task-item"><input type="checkbox" disabled/><p>todo</p></li>`,
		},
		{
			name:     "task list",
			node:     NewBlock(KindTaskList),
			expected: `<ul class="task-list"></ul>`,
		},
		{
			name:     "aligned heading",
			node:     &Node{Kind: KindHeading, Attrs: Attrs{Level: 3, TextAlign: AlignJustify}, Content: []*Node{NewText("H")}},
			expected: `<h3 style="text-align:justify">H</h3>`,
		},
		{
			name:     "heading level out of range",
			node:     &Node{Kind: KindHeading, Attrs: Attrs{Level: 9}, Content: []*Node{NewText("H")}},
			expected: `<h1>H</h1>`,
		},
		{
			name:     "lists",
			node:     NewBlock(KindDoc, NewBlock(KindBulletList, NewBlock(KindListItem, NewText("a"))), NewBlock(KindOrderedList, NewBlock(KindListItem, NewText("b")))),
			expected: `<ul><li>a</li></ul><ol><li>b</li></ol>`,
		},
		{
			name:     "leaves",
			node:     paragraph(NewText("a"), &Node{Kind: KindHardBreak}, NewText("b"), &Node{Kind: KindHorizontalRule, Content: []*Node{NewText("ignored")}}),
			expected: `<p>a<br/>b<hr/></p>`,
		},
		{
			name:     "aligned image",
			node:     &Node{Kind: KindImage, Attrs: Attrs{Src: "https://x/a.png", TextAlign: AlignCenter}},
			expected: `<img src="https://x/a.png" style="text-align:center" />`,
		},
		{
			name:     "image with alt",
			node:     &Node{Kind: KindImage, Attrs: Attrs{Src: "a.png", Alt: "cat"}},
			expected: `<img src="a.png" alt="cat" />`,
		},
		{
			name:     "code block and inline code",
			node:     NewBlock(KindDoc, NewBlock(KindCodeBlock, NewText("x")), paragraph(NewText("y", MarkCode))),
			expected: `<pre><code>x</code></pre><p><code>y</code></p>`,
		},
		{
			name:     "unknown kind renders children",
			node:     NewBlock(KindDoc, NewBlock(Kind("mystery"), paragraph(NewText("kept")))),
			expected: `<p>kept</p>`,
		},
		{
			name:     "empty doc",
			node:     NewDoc(),
			expected: ``,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, RenderHTML(tt.node))
		})
	}
}

func TestRenderHTMLDeterministic(t *testing.T) {
	doc := sampleDoc()
	first := RenderHTML(doc)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, RenderHTML(doc))
	}
	decoded, err := Decode(mustEncode(t, doc))
	require.NoError(t, err)
	require.Equal(t, first, RenderHTML(decoded))
}

func TestRenderHTMLSkipsNilChildren(t *testing.T) {
	doc := NewBlock(KindDoc, nil, paragraph(nil, NewText("ok")))
	require.Equal(t, "<p>ok</p>", RenderHTML(doc))
	require.Equal(t, "", RenderHTML(nil))
}

func TestPreviewText(t *testing.T) {
	doc := NewBlock(KindDoc,
		paragraph(NewText("Hello")),
		paragraph(NewText("brave"), NewText("new", MarkBold)),
		NewBlock(KindBulletList, NewBlock(KindListItem, paragraph(NewText("world")))),
	)
	require.Equal(t, "Hello brave new world", ExtractPreviewText(doc, 100))
	require.Equal(t, "Hello brave…", ExtractPreviewText(doc, 11))
	require.Equal(t, "", ExtractPreviewText(doc, 0))
	require.Equal(t, "", ExtractPreviewText(NewDoc(), 10))

	unicode := NewBlock(KindDoc, paragraph(NewText("héllo wörld")))
	require.Equal(t, "héllo…", ExtractPreviewText(unicode, 5))
}

func TestEstimateReadMinutes(t *testing.T) {
	require.Equal(t, 1, EstimateReadMinutes(NewDoc()))
	require.Equal(t, 1, EstimateReadMinutes(NewBlock(KindDoc, paragraph(NewText("a few words")))))

	words := strings.TrimSpace(strings.Repeat("word ", 201))
	require.Equal(t, 201, WordCount(NewBlock(KindDoc, paragraph(NewText(words)))))
	require.Equal(t, 2, EstimateReadMinutes(NewBlock(KindDoc, paragraph(NewText(words)))))

	previous := 0
	for count := 0; count <= 1000; count += 37 {
		minutes := ReadMinutesForWords(count)
		require.GreaterOrEqual(t, minutes, 1)
		require.GreaterOrEqual(t, minutes, previous)
		previous = minutes
	}
	require.Equal(t, 1, ReadMinutesForWords(200))
	require.Equal(t, 2, ReadMinutesForWords(201))
	require.Equal(t, 1, ReadMinutesForWords(-5))
}

func TestWalkSkipsTextChildren(t *testing.T) {
	malformed := &Node{Kind: KindText, Text: "t", Content: []*Node{NewText("hidden")}}
	doc := NewBlock(KindDoc, paragraph(malformed))
	require.Equal(t, "t", PlainText(doc))
	require.Equal(t, "<p>t</p>", RenderHTML(doc))
}

func mustEncode(t *testing.T, doc *Node) string {
	t.Helper()
	encoded, err := Encode(doc)
	require.NoError(t, err)
	return encoded
}
