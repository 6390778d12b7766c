package export

import (
	"context"
	"strings"
	"unicode"

	"notes/api/internal/content"
)

// Service exports pages as printable HTML or, when a print facility is configured, PDF.
type Service struct {
	printer Printer
}

// NewService creates an export service. printer may be nil, in which case PDF export reports
// ErrPrintUnavailable.
func NewService(printer Printer) *Service {
	return &Service{printer: printer}
}

// Export renders doc in the requested format.
func (s *Service) Export(ctx context.Context, title string, doc *content.Node, format Format) (*Result, error) {
	body := content.RenderHTML(doc)
	switch format {
	case FormatHTML, "":
		html, err := RenderPrintable(PrintDocument{Title: title, Body: body, AutoPrint: true})
		if err != nil {
			return nil, err
		}
		return &Result{Data: []byte(html), Filename: sanitizeFilename(title) + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		if s.printer == nil {
			return nil, ErrPrintUnavailable
		}
		html, err := RenderPrintable(PrintDocument{Title: title, Body: body})
		if err != nil {
			return nil, err
		}
		pdf, err := s.printer.Print(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: pdf, Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

// sanitizeFilename keeps ASCII letters, digits, hyphens and underscores; spaces become hyphens.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		if b.Len() >= 50 {
			break
		}
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "page"
	}
	return b.String()
}
