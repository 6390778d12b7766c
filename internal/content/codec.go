package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Encode serializes a document to the string form stored with a page.
func Encode(doc *Node) (string, error) {
	if doc == nil {
		doc = NewDoc()
	}
	if doc.Kind != KindDoc {
		return "", ErrNotDocument
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}
	return string(data), nil
}

// Decode parses the stored string form of a document. An empty string decodes to an
// empty document, and a JSON string wrapping the document is unwrapped once.
func Decode(raw string) (*Node, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return NewDoc(), nil
	}
	data := []byte(trimmed)
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
		data = bytes.TrimSpace([]byte(inner))
		if len(data) == 0 {
			return NewDoc(), nil
		}
	}
	var doc Node
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if doc.Kind != KindDoc {
		return nil, ErrNotDocument
	}
	doc.Attrs = Attrs{}
	doc.Marks = nil
	return &doc, nil
}

// DecodeOrEmpty decodes raw and falls back to an empty document when the stored form
// cannot be parsed.
func DecodeOrEmpty(raw string) *Node {
	doc, err := Decode(raw)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(raw)).Msg("content: malformed stored document, using empty document")
		return NewDoc()
	}
	return doc
}
