package jetstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent_Commit(t *testing.T) {
	frame := `{
		"did": "did:plc:abc",
		"time_us": 1725911162329308,
		"kind": "commit",
		"commit": {
			"rev": "3l3f6nzl3cv2s",
			"operation": "create",
			"collection": "app.bsky.feed.post",
			"rkey": "3l3qo2vuowo2b",
			"record": {"$type": "app.bsky.feed.post", "text": "hi"},
			"cid": "bafyreia"
		}
	}`

	event, err := ParseEvent([]byte(frame))
	require.NoError(t, err)

	assert.Equal(t, KindCommit, event.Kind)
	assert.Equal(t, "did:plc:abc", event.DID)
	assert.Equal(t, "1725911162329308", event.TimeUS)
	require.NotNil(t, event.Commit)
	assert.Equal(t, OpCreate, event.Commit.Operation)
	assert.Equal(t, "app.bsky.feed.post", event.Commit.Collection)
	assert.Equal(t, "3l3qo2vuowo2b", event.Commit.RKey)
	assert.JSONEq(t, `{"$type": "app.bsky.feed.post", "text": "hi"}`, string(event.Commit.Record))
}

func TestParseEvent_TimeUSKeepsFullPrecision(t *testing.T) {
	// 2^53+1 is not representable as a float64; the decimal string must
	// survive untouched.
	frame := `{"did":"did:plc:abc","time_us":9007199254740993,"kind":"commit","commit":{"operation":"delete","collection":"app.bsky.feed.post","rkey":"x"}}`

	event, err := ParseEvent([]byte(frame))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", event.TimeUS)
}

func TestParseEvent_Identity(t *testing.T) {
	frame := `{"did":"did:plc:abc","time_us":1,"kind":"identity","identity":{"did":"did:plc:abc","handle":"alice.bsky.social","seq":42,"time":"2024-06-01T00:00:00Z"}}`

	event, err := ParseEvent([]byte(frame))
	require.NoError(t, err)
	assert.Equal(t, KindIdentity, event.Kind)
	require.NotNil(t, event.Identity)
	assert.Equal(t, "alice.bsky.social", event.Identity.Handle)
	assert.Nil(t, event.Commit)
}

func TestParseEvent_Account(t *testing.T) {
	frame := `{"did":"did:plc:abc","time_us":1,"kind":"account","account":{"active":false,"did":"did:plc:abc","seq":7,"status":"takendown","time":"2024-06-01T00:00:00Z"}}`

	event, err := ParseEvent([]byte(frame))
	require.NoError(t, err)
	assert.Equal(t, KindAccount, event.Kind)
	require.NotNil(t, event.Account)
	assert.False(t, event.Account.Active)
	assert.Equal(t, "takendown", event.Account.Status)
}

func TestParseEvent_UnknownKind(t *testing.T) {
	_, err := ParseEvent([]byte(`{"did":"did:plc:abc","time_us":1,"kind":"mystery"}`))
	assert.Error(t, err)
}

func TestParseEvent_MalformedJSON(t *testing.T) {
	_, err := ParseEvent([]byte(`{"did":`))
	assert.Error(t, err)
}
