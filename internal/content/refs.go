package content

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// RefSet is a set of asset identifiers referenced by a document.
type RefSet map[string]struct{}

// NewRefSet returns a set holding ids.
func NewRefSet(ids ...string) RefSet {
	s := make(RefSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s RefSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

func (s RefSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s RefSet) Len() int {
	return len(s)
}

// Sorted returns the identifiers in lexical order.
func (s RefSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Minus returns the identifiers in s that are not in other, sorted.
func (s RefSet) Minus(other RefSet) []string {
	out := make([]string, 0)
	for id := range s {
		if !other.Has(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (s RefSet) Equal(other RefSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// Resolver normalizes image sources to storage identifiers. Object URLs issued by the
// asset store have the form {base}/{escaped object path}.
type Resolver struct {
	base *url.URL
}

// NewResolver builds a resolver for object URLs rooted at baseURL. An empty baseURL
// yields a resolver that only distinguishes bare paths from external URLs.
func NewResolver(baseURL string) (*Resolver, error) {
	if strings.TrimSpace(baseURL) == "" {
		return &Resolver{}, nil
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse asset base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("asset base url %q must be absolute", baseURL)
	}
	return &Resolver{base: parsed}, nil
}

// ObjectURL returns the public URL for a storage path.
func (r *Resolver) ObjectURL(storagePath string) string {
	if r == nil || r.base == nil {
		return storagePath
	}
	return r.base.String() + "/" + url.PathEscape(storagePath)
}

// Normalize maps an image source to its storage identifier.
func (r *Resolver) Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty image reference")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse image reference: %w", err)
	}
	if parsed.Scheme == "" && parsed.Host == "" {
		return raw, nil
	}
	if r == nil || r.base == nil || !strings.EqualFold(parsed.Host, r.base.Host) {
		return raw, nil
	}
	prefix := strings.TrimRight(r.base.EscapedPath(), "/") + "/"
	escaped := parsed.EscapedPath()
	if !strings.HasPrefix(escaped, prefix) {
		return raw, nil
	}
	objectPath, err := url.PathUnescape(strings.TrimPrefix(escaped, prefix))
	if err != nil {
		return "", fmt.Errorf("unescape object path: %w", err)
	}
	if objectPath == "" {
		return "", fmt.Errorf("image reference %q has no object path", raw)
	}
	return objectPath, nil
}

// ExtractReferences returns the storage identifiers of every committed image in doc.
// Pending placeholders are never references. Unresolvable sources are logged and skipped.
func ExtractReferences(doc *Node, resolver *Resolver) RefSet {
	refs := make(RefSet)
	Walk(doc, func(node, _ *Node) bool {
		if node.Kind != KindImage || node.Attrs.Pending {
			return true
		}
		source := node.Attrs.StoragePath
		if source == "" {
			source = node.Attrs.Src
		}
		id, err := resolver.Normalize(source)
		if err != nil {
			log.Warn().Err(err).Str("src", node.Attrs.Src).Msg("content: skipping image reference")
			return false
		}
		refs.Add(id)
		return false
	})
	return refs
}
