package mirror

import (
	"context"

	"github.com/blackmichael/bsky-mirror/internal/bluesky"
)

// PostQuoteFormatter renders a quoted post as a blockquote linking back to
// the original, with a text preview fetched from the quoted author's PDS.
type PostQuoteFormatter struct {
	fetcher RecordFetcher
}

// NewPostQuoteFormatter creates the default quote formatter.
func NewPostQuoteFormatter(fetcher RecordFetcher) *PostQuoteFormatter {
	return &PostQuoteFormatter{fetcher: fetcher}
}

const quotePreviewLimit = 200

// FormatQuote fetches the quoted post and renders an inline HTML
// annotation. A quoted record that is not a post, or that no longer
// exists, yields an empty annotation.
func (f *PostQuoteFormatter) FormatQuote(ctx context.Context, ref bluesky.ATURI) (string, error) {
	if ref.Collection != bluesky.CollectionPost {
		return "", nil
	}

	quoted, err := f.fetcher.GetPost(ctx, ref.DID, ref.RKey)
	if err != nil {
		return "", err
	}
	if quoted == nil {
		return "", nil
	}

	preview := quoted.Text
	if len(preview) > quotePreviewLimit {
		preview = truncateUTF8(preview, quotePreviewLimit) + "…"
	}

	link := `<a href="` + bluesky.PostURL(ref.DID, ref.RKey) + `">` + EscapeHTML(preview) + `</a>`
	return "<blockquote>" + link + "</blockquote>", nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
