package jetstream

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const reconnectBackoff = 5 * time.Second

// defaultEndpoints is the public Jetstream instance pool. One is picked at
// random when no explicit URL is configured.
var defaultEndpoints = []string{
	"wss://jetstream1.us-east.bsky.network/subscribe",
	"wss://jetstream2.us-east.bsky.network/subscribe",
	"wss://jetstream1.us-west.bsky.network/subscribe",
	"wss://jetstream2.us-west.bsky.network/subscribe",
}

// CursorStore persists the feed position so a restart resumes where the
// previous run left off.
type CursorStore interface {
	// GetCursor returns the last persisted cursor, or "" if none was saved.
	GetCursor(ctx context.Context) (string, error)

	// SetCursor persists the cursor.
	SetCursor(ctx context.Context, cursor string) error
}

// Sink receives decoded commit events in arrival order. Enqueue must not
// block the read loop; it returns false when the sink no longer accepts
// events (shutdown).
type Sink interface {
	Enqueue(event *Event) bool
}

// Options configures a Jetstream subscription.
type Options struct {
	// URL is the Jetstream endpoint. Empty picks one of the public
	// instances at random.
	URL string

	// WantedDIDs restricts the subscription to events from these repos.
	WantedDIDs []string

	// WantedCollections restricts the subscription to these record
	// collection NSIDs.
	WantedCollections []string

	// MaxMessageSizeBytes asks the server to drop frames larger than this.
	// Zero means no limit.
	MaxMessageSizeBytes int
}

// Client maintains a long-lived Jetstream subscription. It reconnects on
// connection loss, resuming from the most recently observed cursor, and
// hands every commit event to the sink in arrival order.
type Client struct {
	opts    Options
	cursors CursorStore
	sink    Sink
	logger  *slog.Logger

	// OnConnect and OnDisconnect, when set, are invoked from the read
	// loop's goroutine on connection state changes.
	OnConnect    func()
	OnDisconnect func()

	cursor string
}

// NewClient creates a Jetstream client. The cursor store seeds the resume
// position on the first dial and is advanced as events are handed off.
func NewClient(opts Options, cursors CursorStore, sink Sink, logger *slog.Logger) *Client {
	if opts.URL == "" {
		opts.URL = defaultEndpoints[rand.Intn(len(defaultEndpoints))]
	}
	return &Client{
		opts:    opts,
		cursors: cursors,
		sink:    sink,
		logger:  logger,
	}
}

// Run connects and processes events until the context is cancelled,
// reconnecting on transient errors.
func (c *Client) Run(ctx context.Context) error {
	cursor, err := c.cursors.GetCursor(ctx)
	if err != nil {
		c.logger.Warn("failed to load cursor, starting from live", "error", err)
	}
	c.cursor = cursor

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.subscribe(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("jetstream connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reconnectBackoff):
				}
			}
		}
	}
}

func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse jetstream url: %w", err)
	}

	q := u.Query()
	for _, did := range c.opts.WantedDIDs {
		q.Add("wantedDids", did)
	}
	for _, coll := range c.opts.WantedCollections {
		q.Add("wantedCollections", coll)
	}
	if c.opts.MaxMessageSizeBytes > 0 {
		q.Set("maxMessageSizeBytes", strconv.Itoa(c.opts.MaxMessageSizeBytes))
	}
	if c.cursor != "" {
		q.Set("cursor", c.cursor)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) subscribe(ctx context.Context) error {
	wsURL, err := c.buildURL()
	if err != nil {
		return err
	}

	c.logger.Info("connecting to jetstream", "url", wsURL)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial jetstream: %w", err)
	}
	defer conn.Close()

	c.logger.Info("connected to jetstream")
	if c.OnConnect != nil {
		c.OnConnect()
	}
	defer func() {
		if c.OnDisconnect != nil {
			c.OnDisconnect()
		}
	}()

	// Close the socket when the context is cancelled so ReadMessage
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		event, err := ParseEvent(message)
		if err != nil {
			c.logger.Error("failed to parse event", "error", err)
			continue
		}

		c.cursor = event.TimeUS

		if event.Kind != KindCommit || event.Commit == nil {
			continue
		}

		// The cursor is persisted as the event is handed off, before its
		// outcome is known. Across a crash this replays the in-flight
		// event, so downstream handling must be idempotent.
		if err := c.cursors.SetCursor(ctx, event.TimeUS); err != nil {
			c.logger.Error("failed to save cursor", "error", err)
		}

		if !c.sink.Enqueue(event) {
			return fmt.Errorf("event sink closed")
		}
	}
}

// Cursor returns the most recently observed feed position.
func (c *Client) Cursor() string {
	return c.cursor
}
