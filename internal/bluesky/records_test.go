package bluesky

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decode(t *testing.T, raw string) Record {
	t.Helper()
	return DecodeRecord(json.RawMessage(raw), testLogger())
}

func TestDecodeRecord_Post(t *testing.T) {
	record := decode(t, `{
		"$type": "app.bsky.feed.post",
		"createdAt": "2024-06-01T12:00:00Z",
		"text": "hello",
		"langs": ["en"]
	}`)

	post, ok := record.(*Post)
	require.True(t, ok)
	assert.Equal(t, "hello", post.Text)
	assert.Equal(t, []string{"en"}, post.Langs)
	assert.Nil(t, post.Embed)
	assert.False(t, post.Sensitive())
}

func TestDecodeRecord_PostWithUnknownFieldsTolerated(t *testing.T) {
	record := decode(t, `{
		"$type": "app.bsky.feed.post",
		"createdAt": "2024-06-01T12:00:00Z",
		"text": "hello",
		"someFutureField": {"nested": true}
	}`)
	require.IsType(t, &Post{}, record)
}

func TestDecodeRecord_PostWithImages(t *testing.T) {
	record := decode(t, `{
		"$type": "app.bsky.feed.post",
		"createdAt": "2024-06-01T12:00:00Z",
		"text": "pics",
		"embed": {
			"$type": "app.bsky.embed.images",
			"images": [{
				"alt": "a cat",
				"image": {
					"$type": "blob",
					"ref": {"$link": "bafkreib"},
					"mimeType": "image/jpeg",
					"size": 12345
				}
			}]
		}
	}`)

	post := record.(*Post)
	require.NotNil(t, post.Embed)
	require.NotNil(t, post.Embed.Images)
	require.Len(t, post.Embed.Images.Images, 1)
	assert.Equal(t, "bafkreib", post.Embed.Images.Images[0].Image.Ref.Link)
	assert.Equal(t, "a cat", post.Embed.Images.Images[0].Alt)
}

func TestDecodeRecord_PostWithRecordWithMedia(t *testing.T) {
	record := decode(t, `{
		"$type": "app.bsky.feed.post",
		"createdAt": "2024-06-01T12:00:00Z",
		"text": "quote with pic",
		"embed": {
			"$type": "app.bsky.embed.recordWithMedia",
			"record": {
				"$type": "app.bsky.embed.record",
				"record": {"uri": "at://did:plc:x/app.bsky.feed.post/rk", "cid": "bafy"}
			},
			"media": {
				"$type": "app.bsky.embed.images",
				"images": [{
					"image": {"$type": "blob", "ref": {"$link": "bafkimg"}, "mimeType": "image/png", "size": 10}
				}]
			}
		}
	}`)

	post := record.(*Post)
	require.NotNil(t, post.Embed.RecordWithMedia)
	assert.Equal(t, "at://did:plc:x/app.bsky.feed.post/rk", post.Embed.RecordWithMedia.Record.Record.URI)
	require.NotNil(t, post.Embed.RecordWithMedia.Media.Images)
	assert.Len(t, post.Embed.RecordWithMedia.Media.Images.Images, 1)
}

func TestDecodeRecord_PostWithFacets(t *testing.T) {
	record := decode(t, `{
		"$type": "app.bsky.feed.post",
		"createdAt": "2024-06-01T12:00:00Z",
		"text": "see example.com #go @alice",
		"facets": [
			{"index": {"byteStart": 4, "byteEnd": 15},
			 "features": [{"$type": "app.bsky.richtext.facet#link", "uri": "https://example.com"}]},
			{"index": {"byteStart": 16, "byteEnd": 19},
			 "features": [{"$type": "app.bsky.richtext.facet#tag", "tag": "go"}]},
			{"index": {"byteStart": 20, "byteEnd": 26},
			 "features": [{"$type": "app.bsky.richtext.facet#mention", "did": "did:plc:alice"}]}
		]
	}`)

	post := record.(*Post)
	require.Len(t, post.Facets, 3)
	assert.Equal(t, FacetLink, post.Facets[0].Features[0].Type)
	assert.Equal(t, "https://example.com", post.Facets[0].Features[0].URI)
	assert.Equal(t, FacetHashtag, post.Facets[1].Features[0].Type)
	assert.Equal(t, "go", post.Facets[1].Features[0].Tag)
	assert.Equal(t, FacetMention, post.Facets[2].Features[0].Type)
	assert.Equal(t, "did:plc:alice", post.Facets[2].Features[0].DID)
}

func TestDecodeRecord_LegacyHashtagFacet(t *testing.T) {
	record := decode(t, `{
		"$type": "app.bsky.feed.post",
		"createdAt": "2024-06-01T12:00:00Z",
		"text": "#go",
		"facets": [
			{"index": {"byteStart": 0, "byteEnd": 3},
			 "features": [{"$type": "app.bsky.richtext.facet#hashtag", "tag": "go"}]}
		]
	}`)

	post := record.(*Post)
	require.Len(t, post.Facets, 1)
	assert.Equal(t, FacetHashtag, post.Facets[0].Features[0].Type)
}

func TestDecodeRecord_UnknownFacetFeatureRejectsRecord(t *testing.T) {
	record := decode(t, `{
		"$type": "app.bsky.feed.post",
		"createdAt": "2024-06-01T12:00:00Z",
		"text": "x",
		"facets": [
			{"index": {"byteStart": 0, "byteEnd": 1},
			 "features": [{"$type": "app.bsky.richtext.facet#mystery"}]}
		]
	}`)
	assert.Nil(t, record)
}

func TestDecodeRecord_UnknownEmbedRejectsRecord(t *testing.T) {
	record := decode(t, `{
		"$type": "app.bsky.feed.post",
		"createdAt": "2024-06-01T12:00:00Z",
		"text": "x",
		"embed": {"$type": "app.bsky.embed.holograms"}
	}`)
	assert.Nil(t, record)
}

func TestDecodeRecord_SelfLabels(t *testing.T) {
	record := decode(t, `{
		"$type": "app.bsky.feed.post",
		"createdAt": "2024-06-01T12:00:00Z",
		"text": "spicy",
		"labels": {
			"$type": "com.atproto.label.defs#selfLabels",
			"values": [{"val": "porn"}]
		}
	}`)

	post := record.(*Post)
	assert.True(t, post.Sensitive())
}

func TestDecodeRecord_RepostAndLike(t *testing.T) {
	repost := decode(t, `{
		"$type": "app.bsky.feed.repost",
		"createdAt": "2024-06-01T12:00:00Z",
		"subject": {"uri": "at://did:plc:x/app.bsky.feed.post/rk", "cid": "bafy"}
	}`)
	require.IsType(t, &Repost{}, repost)
	assert.Equal(t, CollectionRepost, repost.RecordType())

	like := decode(t, `{
		"$type": "app.bsky.feed.like",
		"createdAt": "2024-06-01T12:00:00Z",
		"subject": {"uri": "at://did:plc:x/app.bsky.feed.post/rk", "cid": "bafy"}
	}`)
	require.IsType(t, &Like{}, like)
}

func TestDecodeRecord_Threadgate(t *testing.T) {
	record := decode(t, `{
		"$type": "app.bsky.feed.threadgate",
		"createdAt": "2024-06-01T12:00:00Z",
		"allow": [
			{"$type": "app.bsky.feed.threadgate#mentionRule"},
			{"$type": "app.bsky.feed.threadgate#followingRule"},
			{"$type": "app.bsky.feed.threadgate#listRule", "list": ["at://did:plc:x/app.bsky.graph.list/l1"]}
		]
	}`)

	gate, ok := record.(*Threadgate)
	require.True(t, ok)
	assert.True(t, gate.FollowersOnly())
	assert.Len(t, gate.Allow, 3)
}

func TestDecodeRecord_ThreadgateWithoutFollowingRule(t *testing.T) {
	record := decode(t, `{
		"$type": "app.bsky.feed.threadgate",
		"createdAt": "2024-06-01T12:00:00Z",
		"allow": [{"$type": "app.bsky.feed.threadgate#mentionRule"}]
	}`)

	gate := record.(*Threadgate)
	assert.False(t, gate.FollowersOnly())
}

func TestDecodeRecord_UnknownType(t *testing.T) {
	assert.Nil(t, decode(t, `{"$type": "app.bsky.graph.follow", "subject": "did:plc:x"}`))
}

func TestDecodeRecord_Malformed(t *testing.T) {
	assert.Nil(t, decode(t, `{"$type": "app.bsky.feed.post", "text": 42}`))
	assert.Nil(t, decode(t, `not json`))
}
