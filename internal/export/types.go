// Package export turns pages into standalone printable documents.
package export

import "errors"

// Format represents the export output format.
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a query value to a Format. Empty means HTML.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPrintUnavailable indicates the print facility could not be reached.
	ErrPrintUnavailable  = errors.New("print facility unavailable")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)
