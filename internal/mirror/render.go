package mirror

import (
	"strings"

	"github.com/blackmichael/bsky-mirror/internal/bluesky"
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// EscapeHTML escapes the five characters Telegram's HTML parse mode treats
// specially.
func EscapeHTML(text string) string {
	return htmlEscaper.Replace(text)
}

// RenderPostText converts a post into Telegram HTML. Facets wrap their
// byte-exact span of the UTF-8 text in an inline link; everything outside a
// facet is escaped verbatim, so with no facets the output is exactly the
// escaped text.
//
// Facets are expected pre-sorted and non-overlapping. If any facet is out
// of range, out of order, or overlapping, the whole list is discarded and
// the plain escaped text is returned.
func RenderPostText(post *bluesky.Post) string {
	if len(post.Facets) == 0 {
		return EscapeHTML(post.Text)
	}

	text := []byte(post.Text)
	if !facetsValid(post.Facets, len(text)) {
		return EscapeHTML(post.Text)
	}

	var out strings.Builder
	pos := 0
	for _, facet := range post.Facets {
		out.WriteString(EscapeHTML(string(text[pos:facet.Index.ByteStart])))

		content := EscapeHTML(string(text[facet.Index.ByteStart:facet.Index.ByteEnd]))
		for _, feature := range facet.Features {
			content = wrapFeature(feature, content)
		}
		out.WriteString(content)

		pos = facet.Index.ByteEnd
	}
	out.WriteString(EscapeHTML(string(text[pos:])))

	return out.String()
}

func facetsValid(facets []bluesky.Facet, textLen int) bool {
	pos := 0
	for _, facet := range facets {
		start, end := facet.Index.ByteStart, facet.Index.ByteEnd
		if start < pos || end < start || end > textLen {
			return false
		}
		pos = end
	}
	return true
}

func wrapFeature(feature bluesky.FacetFeature, content string) string {
	switch feature.Type {
	case bluesky.FacetLink:
		return `<a href="` + feature.URI + `">` + content + `</a>`
	case bluesky.FacetMention:
		return `<a href="` + bluesky.ProfileURL(feature.DID) + `">` + content + `</a>`
	case bluesky.FacetHashtag:
		return `<a href="` + bluesky.HashtagURL(feature.Tag) + `">` + content + `</a>`
	default:
		return content
	}
}

// OriginalPostLink renders a short HTML link back to the source post.
func OriginalPostLink(did, rkey, label string) string {
	return `<a href="` + bluesky.PostURL(did, rkey) + `">` + EscapeHTML(label) + `</a>`
}
