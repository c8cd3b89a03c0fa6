// Package mirror contains the reconciliation engine that turns Bluesky
// commit events into idempotent Telegram messaging operations.
package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blackmichael/bsky-mirror/internal/bluesky"
	"github.com/blackmichael/bsky-mirror/internal/jetstream"
	"github.com/blackmichael/bsky-mirror/internal/telegram"
)

// QuotePosition selects where a quote annotation is placed relative to the
// post text.
type QuotePosition string

const (
	QuoteBefore QuotePosition = "before"
	QuoteAfter  QuotePosition = "after"
)

// Options configures the reconciler.
type Options struct {
	// ChatID is the destination Telegram chat.
	ChatID int64

	// QuoteAsReply reclassifies a post quoting the same author's own post
	// as a reply to it, anchored on the quoted post's mirrored message.
	QuoteAsReply bool

	// QuotePosition places the quote annotation before or after the post
	// text. Defaults to before.
	QuotePosition QuotePosition

	// LinkToOriginal prepends a small link back to the source post.
	LinkToOriginal bool
}

// Reconciler is the per-event state machine. For every commit event it
// decides on zero or one set of messaging operations, resolving reply and
// quote references against the mapping store, and records the outcome so
// redelivered events are no-ops.
//
// State per (author, rkey, chat) is binary: a mapping row exists (mirrored)
// or it does not. Rows are written only after a confirmed send and removed
// only after a confirmed remote deletion, which is what makes at-least-once
// redelivery safe.
type Reconciler struct {
	store   MappingStore
	sender  Sender
	fetcher RecordFetcher
	quotes  QuoteFormatter
	opts    Options
	logger  *slog.Logger
}

// NewReconciler creates a Reconciler with injected collaborators.
func NewReconciler(
	store MappingStore,
	sender Sender,
	fetcher RecordFetcher,
	quotes QuoteFormatter,
	opts Options,
	logger *slog.Logger,
) *Reconciler {
	if opts.QuotePosition == "" {
		opts.QuotePosition = QuoteBefore
	}
	return &Reconciler{
		store:   store,
		sender:  sender,
		fetcher: fetcher,
		quotes:  quotes,
		opts:    opts,
		logger:  logger,
	}
}

// HandleEvent processes one commit event to completion. Errors returned
// here are hard per-event failures, caught and logged at the dispatch
// boundary.
func (r *Reconciler) HandleEvent(ctx context.Context, event *jetstream.Event) error {
	if event.Kind != jetstream.KindCommit || event.Commit == nil {
		return nil
	}
	if event.Commit.Collection != bluesky.CollectionPost {
		return nil
	}

	switch event.Commit.Operation {
	case jetstream.OpCreate:
		return r.handleCreate(ctx, event)
	case jetstream.OpDelete:
		return r.handleDelete(ctx, event)
	case jetstream.OpUpdate:
		// Never observed for posts. Explicitly ignored so an existing
		// mapping row is not corrupted.
		r.logger.Warn("ignoring update operation",
			"did", event.DID, "rkey", event.Commit.RKey)
		return nil
	default:
		return fmt.Errorf("unknown operation %q", event.Commit.Operation)
	}
}

func (r *Reconciler) handleCreate(ctx context.Context, event *jetstream.Event) error {
	commit := event.Commit

	record := bluesky.DecodeRecord(commit.Record, r.logger)
	post, ok := record.(*bluesky.Post)
	if !ok {
		// Different record kind or malformed payload; both are normal
		// skips, not errors.
		return nil
	}

	// Dedup path for at-least-once redelivery: an existing row means the
	// post is already mirrored.
	if _, mapped, err := r.store.GetMapping(ctx, event.DID, commit.RKey, r.opts.ChatID); err != nil {
		return fmt.Errorf("lookup mapping: %w", err)
	} else if mapped {
		r.logger.Info("post already mirrored, skipping",
			"did", event.DID, "rkey", commit.RKey)
		return nil
	}

	allowed, err := r.mirrorAllowed(ctx, event)
	if err != nil {
		return fmt.Errorf("visibility check: %w", err)
	}
	if !allowed {
		r.logger.Info("post suppressed by reply gate",
			"did", event.DID, "rkey", commit.RKey)
		return nil
	}

	var replyTo int64
	quoteRef, hasQuote := quotedRecord(post)

	if r.opts.QuoteAsReply && hasQuote &&
		quoteRef.Collection == bluesky.CollectionPost && quoteRef.DID == event.DID {
		// A self-quote becomes a reply to the quoted post's mirror.
		anchor, found, err := r.resolveAnchor(ctx, quoteRef)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		replyTo = anchor
		hasQuote = false
	}

	if post.Reply != nil {
		parent, err := bluesky.ParseATURI(post.Reply.Parent.URI)
		if err != nil {
			return fmt.Errorf("parse reply parent: %w", err)
		}

		// Replies to non-posts or across accounts are out of scope.
		if parent.Collection != bluesky.CollectionPost || parent.DID != event.DID {
			return nil
		}

		anchor, found, err := r.resolveAnchor(ctx, parent)
		if err != nil {
			return err
		}
		if !found {
			// Parent was never mirrored; drop silently.
			return nil
		}
		replyTo = anchor
	}

	text := RenderPostText(post)
	if r.opts.LinkToOriginal {
		text = OriginalPostLink(event.DID, commit.RKey, "~") + " " + text
	}

	if hasQuote {
		text = r.annotateQuote(ctx, text, quoteRef)
	}

	msgIDs, err := r.send(ctx, event.DID, post, text, replyTo)
	if err != nil {
		return fmt.Errorf("send to telegram: %w", err)
	}

	if err := r.store.PutMapping(ctx, event.DID, commit.RKey, r.opts.ChatID, msgIDs); err != nil {
		return fmt.Errorf("persist mapping: %w", err)
	}

	r.logger.Info("mirrored post",
		"did", event.DID, "rkey", commit.RKey, "message_ids", msgIDs)
	return nil
}

func (r *Reconciler) handleDelete(ctx context.Context, event *jetstream.Event) error {
	commit := event.Commit

	msgIDs, mapped, err := r.store.GetMapping(ctx, event.DID, commit.RKey, r.opts.ChatID)
	if err != nil {
		return fmt.Errorf("lookup mapping: %w", err)
	}
	if !mapped {
		// Never mirrored, or already deleted.
		return nil
	}

	err = r.sender.DeleteMessages(ctx, telegram.DeleteMessagesParams{
		ChatID:     r.opts.ChatID,
		MessageIDs: msgIDs,
	})
	if err != nil {
		// Row retained so a redelivered delete can retry.
		return fmt.Errorf("delete messages: %w", err)
	}

	if err := r.store.DeleteMapping(ctx, event.DID, commit.RKey, r.opts.ChatID); err != nil {
		return fmt.Errorf("remove mapping: %w", err)
	}

	r.logger.Info("deleted mirrored post",
		"did", event.DID, "rkey", commit.RKey, "message_ids", msgIDs)
	return nil
}

// mirrorAllowed checks the reply gate on the new post's own rkey: a
// followers-only gate suppresses mirroring of the gated post itself. A
// missing gate record allows; a lookup failure is a hard per-event error.
func (r *Reconciler) mirrorAllowed(ctx context.Context, event *jetstream.Event) (bool, error) {
	gate, err := r.fetcher.GetThreadgate(ctx, event.DID, event.Commit.RKey)
	if err != nil {
		return false, err
	}
	if gate == nil {
		return true, nil
	}
	return !gate.FollowersOnly(), nil
}

// resolveAnchor looks up the mirror of a referenced post and returns its
// primary (first) message id as the reply anchor.
func (r *Reconciler) resolveAnchor(ctx context.Context, ref bluesky.ATURI) (int64, bool, error) {
	ids, mapped, err := r.store.GetMapping(ctx, ref.DID, ref.RKey, r.opts.ChatID)
	if err != nil {
		return 0, false, fmt.Errorf("lookup mapping for %s/%s: %w", ref.DID, ref.RKey, err)
	}
	if !mapped || len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

// annotateQuote attaches a best-effort quote annotation. Formatter failure
// or an empty result just omits the annotation.
func (r *Reconciler) annotateQuote(ctx context.Context, text string, ref bluesky.ATURI) string {
	annotation, err := r.quotes.FormatQuote(ctx, ref)
	if err != nil {
		r.logger.Warn("quote annotation failed, omitting",
			"error", err, "quoted", ref.DID+"/"+ref.RKey)
		return text
	}
	if annotation == "" {
		return text
	}

	if r.opts.QuotePosition == QuoteAfter {
		return text + "\n\n" + annotation
	}
	return annotation + "\n\n" + text
}

// send picks the messaging operation from the media shape: no images is a
// plain text send, one image a captioned photo, several a media group with
// the caption on the first entry. Video and external-link embeds fall
// through as text-only.
func (r *Reconciler) send(ctx context.Context, did string, post *bluesky.Post, text string, replyTo int64) ([]int64, error) {
	var replyParams *telegram.ReplyParameters
	if replyTo != 0 {
		replyParams = &telegram.ReplyParameters{MessageID: replyTo}
	}

	images := postImages(post)
	spoiler := post.Sensitive()

	switch {
	case len(images) == 0:
		msg, err := r.sender.SendMessage(ctx, telegram.SendMessageParams{
			ChatID:             r.opts.ChatID,
			Text:               text,
			ParseMode:          "HTML",
			LinkPreviewOptions: &telegram.LinkPreviewOptions{IsDisabled: true},
			ReplyParameters:    replyParams,
		})
		if err != nil {
			return nil, err
		}
		return []int64{msg.MessageID}, nil

	case len(images) == 1:
		photoURL, err := r.fetcher.BlobURL(ctx, did, images[0].Image.Ref.Link)
		if err != nil {
			return nil, fmt.Errorf("resolve blob url: %w", err)
		}

		msg, err := r.sender.SendPhoto(ctx, telegram.SendPhotoParams{
			ChatID:          r.opts.ChatID,
			Photo:           photoURL,
			Caption:         text,
			ParseMode:       "HTML",
			HasSpoiler:      spoiler,
			ReplyParameters: replyParams,
		})
		if err != nil {
			return nil, err
		}
		return []int64{msg.MessageID}, nil

	default:
		media := make([]telegram.InputMediaPhoto, len(images))
		for i, img := range images {
			photoURL, err := r.fetcher.BlobURL(ctx, did, img.Image.Ref.Link)
			if err != nil {
				return nil, fmt.Errorf("resolve blob url: %w", err)
			}
			media[i] = telegram.InputMediaPhoto{
				Type:       "photo",
				Media:      photoURL,
				ParseMode:  "HTML",
				HasSpoiler: spoiler,
			}
			if i == 0 {
				media[i].Caption = text
			}
		}

		msgs, err := r.sender.SendMediaGroup(ctx, telegram.SendMediaGroupParams{
			ChatID:          r.opts.ChatID,
			Media:           media,
			ReplyParameters: replyParams,
		})
		if err != nil {
			return nil, err
		}

		ids := make([]int64, len(msgs))
		for i, msg := range msgs {
			ids[i] = msg.MessageID
		}
		return ids, nil
	}
}

// postImages extracts the image set from a post's embed, looking through
// recordWithMedia bundles. Video embeds yield no images.
func postImages(post *bluesky.Post) []bluesky.Image {
	if post.Embed == nil {
		return nil
	}
	if post.Embed.Images != nil {
		return post.Embed.Images.Images
	}
	if post.Embed.RecordWithMedia != nil && post.Embed.RecordWithMedia.Media.Images != nil {
		return post.Embed.RecordWithMedia.Media.Images.Images
	}
	return nil
}

// quotedRecord returns the strong ref of a quoted record, if the embed
// carries one.
func quotedRecord(post *bluesky.Post) (bluesky.ATURI, bool) {
	if post.Embed == nil {
		return bluesky.ATURI{}, false
	}

	var uri string
	switch {
	case post.Embed.Record != nil:
		uri = post.Embed.Record.Record.URI
	case post.Embed.RecordWithMedia != nil:
		uri = post.Embed.RecordWithMedia.Record.Record.URI
	default:
		return bluesky.ATURI{}, false
	}

	ref, err := bluesky.ParseATURI(uri)
	if err != nil {
		return bluesky.ATURI{}, false
	}
	return ref, true
}
