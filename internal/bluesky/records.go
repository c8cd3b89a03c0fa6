package bluesky

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Collection NSIDs this service knows how to decode.
const (
	CollectionPost       = "app.bsky.feed.post"
	CollectionRepost     = "app.bsky.feed.repost"
	CollectionLike       = "app.bsky.feed.like"
	CollectionThreadgate = "app.bsky.feed.threadgate"
	CollectionProfile    = "app.bsky.actor.profile"
)

// Embed type discriminators.
const (
	embedImages          = "app.bsky.embed.images"
	embedVideo           = "app.bsky.embed.video"
	embedRecord          = "app.bsky.embed.record"
	embedRecordWithMedia = "app.bsky.embed.recordWithMedia"
	embedExternal        = "app.bsky.embed.external"
)

// Facet feature discriminators.
const (
	FacetLink    = "app.bsky.richtext.facet#link"
	FacetMention = "app.bsky.richtext.facet#mention"
	FacetHashtag = "app.bsky.richtext.facet#tag"

	// facetHashtagLegacy appears in records written by older clients.
	facetHashtagLegacy = "app.bsky.richtext.facet#hashtag"
)

// Threadgate rule discriminators.
const (
	GateMentionRule   = "app.bsky.feed.threadgate#mentionRule"
	GateFollowingRule = "app.bsky.feed.threadgate#followingRule"
	GateListRule      = "app.bsky.feed.threadgate#listRule"
)

// Record is one of the closed set of record shapes this service decodes:
// Post, Repost, Like or Threadgate.
type Record interface {
	RecordType() string
}

// Blob is an AT Protocol blob reference.
type Blob struct {
	Type string `json:"$type"`
	Ref  struct {
		Link string `json:"$link"`
	} `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// StrongRef is a reference to a specific version of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ReplyRef references the parent and root of a reply chain.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// AspectRatio is the declared width/height of an image or video.
type AspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Image is a single entry of an images embed.
type Image struct {
	Alt         string       `json:"alt,omitempty"`
	AspectRatio *AspectRatio `json:"aspectRatio,omitempty"`
	Image       Blob         `json:"image"`
}

// ImagesEmbed is a set of 1..4 attached images.
type ImagesEmbed struct {
	Images []Image `json:"images"`
}

// VideoEmbed is a single attached video.
type VideoEmbed struct {
	Video       Blob         `json:"video"`
	AspectRatio *AspectRatio `json:"aspectRatio,omitempty"`
}

// RecordEmbed quotes another record.
type RecordEmbed struct {
	Record StrongRef `json:"record"`
}

// RecordWithMediaEmbed quotes another record and attaches media to the quote.
type RecordWithMediaEmbed struct {
	Media  Embed       `json:"media"`
	Record RecordEmbed `json:"record"`
}

// ExternalEmbed is an external link card.
type ExternalEmbed struct {
	External struct {
		URI         string `json:"uri"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Thumb       *Blob  `json:"thumb,omitempty"`
	} `json:"external"`
}

// Embed is the tagged union of post embed shapes. Exactly one field is
// non-nil after a successful decode.
type Embed struct {
	Images          *ImagesEmbed
	Video           *VideoEmbed
	Record          *RecordEmbed
	RecordWithMedia *RecordWithMediaEmbed
	External        *ExternalEmbed
}

// UnmarshalJSON decodes the embed union by its $type discriminator. An
// unknown discriminator is an error so malformed records fail closed.
func (e *Embed) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"$type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	switch probe.Type {
	case embedImages:
		e.Images = &ImagesEmbed{}
		return json.Unmarshal(data, e.Images)
	case embedVideo:
		e.Video = &VideoEmbed{}
		return json.Unmarshal(data, e.Video)
	case embedRecord:
		e.Record = &RecordEmbed{}
		return json.Unmarshal(data, e.Record)
	case embedRecordWithMedia:
		e.RecordWithMedia = &RecordWithMediaEmbed{}
		return json.Unmarshal(data, e.RecordWithMedia)
	case embedExternal:
		e.External = &ExternalEmbed{}
		return json.Unmarshal(data, e.External)
	default:
		return fmt.Errorf("unknown embed type %q", probe.Type)
	}
}

// FacetFeature annotates a facet span as a link, mention or hashtag.
type FacetFeature struct {
	Type string

	// URI is set for link features.
	URI string

	// DID is set for mention features.
	DID string

	// Tag is set for hashtag features.
	Tag string
}

func (f *FacetFeature) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type string `json:"$type"`
		URI  string `json:"uri"`
		DID  string `json:"did"`
		Tag  string `json:"tag"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case FacetLink, FacetMention, FacetHashtag:
	case facetHashtagLegacy:
		raw.Type = FacetHashtag
	default:
		return fmt.Errorf("unknown facet feature %q", raw.Type)
	}
	f.Type = raw.Type
	f.URI = raw.URI
	f.DID = raw.DID
	f.Tag = raw.Tag
	return nil
}

// Facet is a byte-offset-addressed annotation over the post text.
type Facet struct {
	Index struct {
		ByteStart int `json:"byteStart"`
		ByteEnd   int `json:"byteEnd"`
	} `json:"index"`
	Features []FacetFeature `json:"features"`
}

// SelfLabels is the com.atproto.label.defs#selfLabels content label set.
type SelfLabels struct {
	Values []struct {
		Val string `json:"val"`
	} `json:"values"`
}

// Post is an app.bsky.feed.post record.
type Post struct {
	CreatedAt string      `json:"createdAt"`
	Text      string      `json:"text"`
	Langs     []string    `json:"langs,omitempty"`
	Reply     *ReplyRef   `json:"reply,omitempty"`
	Embed     *Embed      `json:"embed,omitempty"`
	Labels    *SelfLabels `json:"labels,omitempty"`
	Facets    []Facet     `json:"facets,omitempty"`
}

func (*Post) RecordType() string { return CollectionPost }

// Sensitive reports whether the post carries any content label, which maps
// to the spoiler flag on mirrored media.
func (p *Post) Sensitive() bool {
	return p.Labels != nil && len(p.Labels.Values) > 0
}

// Repost is an app.bsky.feed.repost record.
type Repost struct {
	CreatedAt string    `json:"createdAt"`
	Subject   StrongRef `json:"subject"`
}

func (*Repost) RecordType() string { return CollectionRepost }

// Like is an app.bsky.feed.like record.
type Like struct {
	CreatedAt string    `json:"createdAt"`
	Subject   StrongRef `json:"subject"`
}

func (*Like) RecordType() string { return CollectionLike }

// ThreadgateRule is one allow-rule of a threadgate record.
type ThreadgateRule struct {
	Type string   `json:"$type"`
	List []string `json:"list,omitempty"`
}

// Threadgate is an app.bsky.feed.threadgate record, restricting who may
// reply to a post.
type Threadgate struct {
	CreatedAt string           `json:"createdAt"`
	Allow     []ThreadgateRule `json:"allow"`
}

func (*Threadgate) RecordType() string { return CollectionThreadgate }

// FollowersOnly reports whether the gate restricts replies to followed
// accounts.
func (t *Threadgate) FollowersOnly() bool {
	for _, rule := range t.Allow {
		if rule.Type == GateFollowingRule {
			return true
		}
	}
	return false
}

// Profile is an app.bsky.actor.profile record. Only the fields the mirror
// cares about are decoded.
type Profile struct {
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
}

// DecodeRecord converts a raw record payload into one of the known record
// shapes. Unknown extra fields are tolerated; a structural mismatch or an
// unknown $type returns nil after logging, so callers treat "malformed" and
// "not a kind we handle" uniformly.
func DecodeRecord(raw json.RawMessage, logger *slog.Logger) Record {
	var probe struct {
		Type string `json:"$type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		logger.Warn("failed to probe record type", "error", err)
		return nil
	}

	var (
		record Record
		err    error
	)
	switch probe.Type {
	case CollectionPost:
		post := &Post{}
		err = json.Unmarshal(raw, post)
		record = post
	case CollectionRepost:
		repost := &Repost{}
		err = json.Unmarshal(raw, repost)
		record = repost
	case CollectionLike:
		like := &Like{}
		err = json.Unmarshal(raw, like)
		record = like
	case CollectionThreadgate:
		gate := &Threadgate{}
		err = json.Unmarshal(raw, gate)
		record = gate
	default:
		logger.Debug("skipping record of unknown type", "type", probe.Type)
		return nil
	}

	if err != nil {
		logger.Warn("failed to decode record", "type", probe.Type, "error", err)
		return nil
	}
	return record
}
