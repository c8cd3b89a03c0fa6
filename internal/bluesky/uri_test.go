package bluesky

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseATURI(t *testing.T) {
	ref, err := ParseATURI("at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:abc", ref.DID)
	assert.Equal(t, "app.bsky.feed.post", ref.Collection)
	assert.Equal(t, "3l3qo2vuowo2b", ref.RKey)
}

func TestParseATURI_Invalid(t *testing.T) {
	for _, uri := range []string{
		"https://bsky.app/profile/x",
		"at://did:plc:abc",
		"at://did:plc:abc/app.bsky.feed.post",
		"at://did:plc:abc//rkey",
		"at:///app.bsky.feed.post/rkey",
		"",
	} {
		_, err := ParseATURI(uri)
		assert.Error(t, err, "uri %q should be rejected", uri)
	}
}

func TestPostURL(t *testing.T) {
	assert.Equal(t,
		"https://bsky.app/profile/did:plc:abc/post/rk1",
		PostURL("did:plc:abc", "rk1"))
}
