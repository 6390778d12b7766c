package export

import (
	"bytes"
	"fmt"
	"html/template"
)

// PrintDocument is the input of the printable page template.
type PrintDocument struct {
	Title string
	// Body is the rendered content fragment; it is sanitized before use.
	Body string
	// AutoPrint opens the print dialog on load and closes the view once printing is done.
	AutoPrint bool
}

type templateData struct {
	Title     string
	Body      template.HTML
	AutoPrint bool
}

var printTemplate = template.Must(template.New("printable").Parse(printableHTML))

// RenderPrintable produces a standalone A4 document around the page body.
func RenderPrintable(doc PrintDocument) (string, error) {
	title := doc.Title
	if title == "" {
		title = "Untitled"
	}
	var buf bytes.Buffer
	err := printTemplate.Execute(&buf, templateData{
		Title:     title,
		Body:      template.HTML(SanitizeBody(doc.Body)),
		AutoPrint: doc.AutoPrint,
	})
	if err != nil {
		return "", fmt.Errorf("render printable: %w", err)
	}
	return buf.String(), nil
}

const printableHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    @page { size: A4; margin: 20mm; }
    body { font-family: Georgia, serif; line-height: 1.6; color: #111; }
    h1.page-title { border-bottom: 1px solid #999; padding-bottom: 0.4rem; }
    pre { background: #f4f4f4; padding: 0.75rem; white-space: pre-wrap; }
    blockquote { border-left: 3px solid #999; margin-left: 0; padding-left: 1rem; color: #444; }
    ul.task-list { list-style: none; padding-left: 0; }
    li.task-item input { margin-right: 0.5rem; }
    img { max-width: 100%; }
  </style>
</head>
<body>
  <h1 class="page-title">{{.Title}}</h1>
  <article>{{.Body}}</article>
  {{- if .AutoPrint}}
  <script>
    window.addEventListener("load", function () { window.print(); });
    window.addEventListener("afterprint", function () { window.close(); });
  </script>
  {{- end}}
</body>
</html>`
