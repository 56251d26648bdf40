// Package links turns document names returned by retrieval into public
// blob storage URLs.
package links

import (
	"fmt"
	"regexp"
	"strings"
)

// versionSuffix matches the "-<digit>" marker indexing pipelines append
// before the extension of chunked PDFs.
var versionSuffix = regexp.MustCompile(`-\d(\.(?i:pdf))$`)

// DefaultSegments maps known collection identifiers to their storage path segment.
func DefaultSegments() map[string]string {
	return map[string]string{
		"epotl-dp":         "epotl-documentos",
		"vopak-dp":         "vopak-documentos",
		"recursos-humanos": "rh-documentos",
		"normativos":       "normativos-documentos",
	}
}

// BaseURLForAccount returns the blob endpoint of a storage account.
func BaseURLForAccount(account string) string {
	return fmt.Sprintf("https://%s.blob.core.windows.net", account)
}

type Resolver struct {
	baseURL      string
	segments     map[string]string
	legacySpaces bool
}

type Option func(*Resolver)

// WithSegments replaces the collection to path segment table.
func WithSegments(segments map[string]string) Option {
	return func(r *Resolver) {
		r.segments = make(map[string]string, len(segments))
		for k, v := range segments {
			r.segments[k] = v
		}
	}
}

// WithStrictEncoding keeps spaces as %20 instead of the legacy bare '%'.
func WithStrictEncoding() Option {
	return func(r *Resolver) {
		r.legacySpaces = false
	}
}

func NewResolver(baseURL string, opts ...Option) *Resolver {
	r := &Resolver{
		baseURL:      strings.TrimRight(baseURL, "/"),
		segments:     DefaultSegments(),
		legacySpaces: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Normalize strips a trailing "-<digit>" marker that sits right before ".pdf".
func Normalize(name string) string {
	return versionSuffix.ReplaceAllString(name, "$1")
}

// Segment returns the path segment for a collection, falling back to the
// identifier itself.
func (r *Resolver) Segment(collection string) string {
	if segment, ok := r.segments[collection]; ok && segment != "" {
		return segment
	}
	return collection
}

// Encode percent-encodes a normalized name for use as a path segment. Every
// byte outside ALPHA / DIGIT / "-._~/" is escaped, so sub-delimiters such as
// '&' and '(' come out encoded. In legacy mode every encoded space collapses
// to a bare '%', which is what links already shared by users contain.
func (r *Resolver) Encode(name string) string {
	encoded := escapePath(name)
	if r.legacySpaces {
		encoded = strings.ReplaceAll(encoded, "%20", "%")
	}
	return encoded
}

func escapePath(name string) string {
	const hex = "0123456789ABCDEF"

	var sb strings.Builder
	sb.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if keepUnescaped(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&0x0f])
	}
	return sb.String()
}

func keepUnescaped(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-._~/", c) >= 0
}

// Resolve builds the public URL of a document in a collection.
func (r *Resolver) Resolve(name, collection string) string {
	return r.baseURL + "/" + r.Segment(collection) + "/" + r.Encode(Normalize(name))
}
