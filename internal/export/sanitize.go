package export

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var alignedElements = []string{"p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "ul", "ol", "blockquote", "pre", "img"}

// bodyPolicy accepts everything the content renderer emits and nothing executable.
var bodyPolicy = newBodyPolicy()

func newBodyPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("type").Matching(regexp.MustCompile(`^checkbox$`)).OnElements("input")
	p.AllowAttrs("checked", "disabled").OnElements("input")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^task-(list|item)( checked)?$`)).OnElements("ul", "li")
	p.AllowStyles("text-align").MatchingEnum("left", "center", "right", "justify").OnElements(alignedElements...)
	p.AllowElements("u", "s")
	return p
}

// SanitizeBody strips anything from a rendered fragment that the renderer would not produce.
func SanitizeBody(fragment string) string {
	return bodyPolicy.Sanitize(fragment)
}
