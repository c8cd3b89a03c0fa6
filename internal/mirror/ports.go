package mirror

import (
	"context"

	"github.com/blackmichael/bsky-mirror/internal/bluesky"
	"github.com/blackmichael/bsky-mirror/internal/telegram"
)

// MappingStore persists which posts have been mirrored and under which
// destination message ids. A missing row means "not currently mirrored".
type MappingStore interface {
	// GetMapping returns the ordered destination message ids for a post,
	// or false when the post was never mirrored.
	GetMapping(ctx context.Context, did, rkey string, chatID int64) ([]int64, bool, error)

	// PutMapping records the message ids after a confirmed send. Existing
	// rows are left untouched.
	PutMapping(ctx context.Context, did, rkey string, chatID int64, msgIDs []int64) error

	// DeleteMapping removes the row after a confirmed remote deletion.
	DeleteMapping(ctx context.Context, did, rkey string, chatID int64) error
}

// Sender is the outbound messaging capability, one method per Bot API
// operation the mirror uses.
type Sender interface {
	SendMessage(ctx context.Context, params telegram.SendMessageParams) (*telegram.Message, error)
	SendPhoto(ctx context.Context, params telegram.SendPhotoParams) (*telegram.Message, error)
	SendMediaGroup(ctx context.Context, params telegram.SendMediaGroupParams) ([]telegram.Message, error)
	DeleteMessages(ctx context.Context, params telegram.DeleteMessagesParams) error
}

// RecordFetcher reads records and blob locations from accounts' hosting
// endpoints.
type RecordFetcher interface {
	// GetPost fetches a post record; absence is (nil, nil).
	GetPost(ctx context.Context, did, rkey string) (*bluesky.Post, error)

	// GetThreadgate fetches the reply gate governing the post with the
	// given rkey; absence is (nil, nil).
	GetThreadgate(ctx context.Context, did, rkey string) (*bluesky.Threadgate, error)

	// BlobURL returns a URL from which the blob can be fetched.
	BlobURL(ctx context.Context, did, cid string) (string, error)
}

// QuoteFormatter renders an inline annotation for a quoted record. An empty
// string or an error means the annotation is omitted; it is never fatal to
// the mirrored post.
type QuoteFormatter interface {
	FormatQuote(ctx context.Context, ref bluesky.ATURI) (string, error)
}
