package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blackmichael/bsky-mirror/internal/bluesky"
)

func facet(start, end int, feature bluesky.FacetFeature) bluesky.Facet {
	f := bluesky.Facet{Features: []bluesky.FacetFeature{feature}}
	f.Index.ByteStart = start
	f.Index.ByteEnd = end
	return f
}

func TestEscapeHTML(t *testing.T) {
	assert.Equal(t, "a &amp;&lt;&gt;&quot;&#039; b", EscapeHTML(`a &<>"' b`))
	assert.Equal(t, "plain", EscapeHTML("plain"))
}

func TestRenderPostText_NoFacets(t *testing.T) {
	post := &bluesky.Post{Text: `x < y & "z"`}
	assert.Equal(t, EscapeHTML(post.Text), RenderPostText(post))
}

func TestRenderPostText_LinkFacet(t *testing.T) {
	post := &bluesky.Post{
		Text: "see example.com now",
		Facets: []bluesky.Facet{
			facet(4, 15, bluesky.FacetFeature{Type: bluesky.FacetLink, URI: "https://example.com"}),
		},
	}
	assert.Equal(t,
		`see <a href="https://example.com">example.com</a> now`,
		RenderPostText(post))
}

func TestRenderPostText_MentionAndHashtag(t *testing.T) {
	//                 0123456789012345678
	post := &bluesky.Post{
		Text: "hi @alice #go fans",
		Facets: []bluesky.Facet{
			facet(3, 9, bluesky.FacetFeature{Type: bluesky.FacetMention, DID: "did:plc:alice"}),
			facet(10, 13, bluesky.FacetFeature{Type: bluesky.FacetHashtag, Tag: "go"}),
		},
	}
	assert.Equal(t,
		`hi <a href="https://bsky.app/profile/did:plc:alice">@alice</a> <a href="https://bsky.app/hashtag/go">#go</a> fans`,
		RenderPostText(post))
}

func TestRenderPostText_MultibyteOffsets(t *testing.T) {
	// "héllo" is 6 bytes; the facet covers the trailing word by byte
	// offsets over the UTF-8 encoding.
	text := "héllo example.com"
	post := &bluesky.Post{
		Text: text,
		Facets: []bluesky.Facet{
			facet(7, 18, bluesky.FacetFeature{Type: bluesky.FacetLink, URI: "https://example.com"}),
		},
	}
	assert.Equal(t,
		`héllo <a href="https://example.com">example.com</a>`,
		RenderPostText(post))
}

func TestRenderPostText_EscapesInsideFacet(t *testing.T) {
	post := &bluesky.Post{
		Text: "a<b link c>d",
		Facets: []bluesky.Facet{
			facet(4, 8, bluesky.FacetFeature{Type: bluesky.FacetLink, URI: "https://example.com"}),
		},
	}
	assert.Equal(t,
		`a&lt;b <a href="https://example.com">link</a> c&gt;d`,
		RenderPostText(post))
}

func TestRenderPostText_ReconstructsEveryByte(t *testing.T) {
	// With identity wrappers removed, the concatenation of pre-facet,
	// facet and post-facet segments must reproduce the full text.
	text := "один two три four"
	post := &bluesky.Post{
		Text: text,
		Facets: []bluesky.Facet{
			facet(9, 12, bluesky.FacetFeature{Type: bluesky.FacetHashtag, Tag: "two"}),
			facet(13, 19, bluesky.FacetFeature{Type: bluesky.FacetHashtag, Tag: "три"}),
		},
	}

	rendered := RenderPostText(post)
	for _, segment := range []string{"один ", "two", " ", "три", " four"} {
		assert.Contains(t, rendered, segment)
	}
}

func TestRenderPostText_InvalidFacetsFallBack(t *testing.T) {
	cases := map[string][]bluesky.Facet{
		"out of range": {
			facet(0, 99, bluesky.FacetFeature{Type: bluesky.FacetHashtag, Tag: "x"}),
		},
		"overlapping": {
			facet(0, 5, bluesky.FacetFeature{Type: bluesky.FacetHashtag, Tag: "x"}),
			facet(3, 8, bluesky.FacetFeature{Type: bluesky.FacetHashtag, Tag: "y"}),
		},
		"descending": {
			facet(5, 8, bluesky.FacetFeature{Type: bluesky.FacetHashtag, Tag: "x"}),
			facet(0, 3, bluesky.FacetFeature{Type: bluesky.FacetHashtag, Tag: "y"}),
		},
		"negative span": {
			facet(5, 3, bluesky.FacetFeature{Type: bluesky.FacetHashtag, Tag: "x"}),
		},
	}

	for name, facets := range cases {
		t.Run(name, func(t *testing.T) {
			post := &bluesky.Post{Text: "hello world", Facets: facets}
			assert.Equal(t, "hello world", RenderPostText(post))
		})
	}
}

func TestOriginalPostLink(t *testing.T) {
	assert.Equal(t,
		`<a href="https://bsky.app/profile/did:plc:abc/post/xyz">~</a>`,
		OriginalPostLink("did:plc:abc", "xyz", "~"))
}
