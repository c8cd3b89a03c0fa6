package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the application.
type Config struct {
	// TelegramToken is the Bot API token.
	TelegramToken string

	// TelegramAPIURL overrides the Bot API endpoint (for local bot API
	// servers). Empty uses the public endpoint.
	TelegramAPIURL string

	// ChatID is the destination Telegram chat.
	ChatID int64

	// WatchedDIDs are the accounts whose posts are mirrored.
	WatchedDIDs []string

	// JetstreamURL overrides the Jetstream endpoint. Empty picks one of
	// the public instances.
	JetstreamURL string

	// DatabasePath is the SQLite database file.
	DatabasePath string

	// PLCDirectoryURL overrides the did:plc directory endpoint.
	PLCDirectoryURL string

	// QuoteAsReply reclassifies self-quotes as replies to the quoted
	// post's mirror.
	QuoteAsReply bool

	// QuotePosition places quote annotations "before" or "after" the
	// post text.
	QuotePosition string

	// LinkToOriginal prepends a link back to the source post.
	LinkToOriginal bool

	// StatusPort is the port of the status HTTP server. Zero disables it.
	StatusPort int
}

// Load reads configuration from environment variables with sensible
// defaults.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is required")
	}

	chatIDRaw := os.Getenv("MIRROR_CHAT_ID")
	if chatIDRaw == "" {
		return nil, fmt.Errorf("MIRROR_CHAT_ID is required")
	}
	chatID, err := strconv.ParseInt(chatIDRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MIRROR_CHAT_ID: %w", err)
	}

	didsRaw := os.Getenv("WATCHED_DIDS")
	if didsRaw == "" {
		return nil, fmt.Errorf("WATCHED_DIDS is required (comma-separated)")
	}
	var dids []string
	for _, did := range strings.Split(didsRaw, ",") {
		did = strings.TrimSpace(did)
		if did != "" {
			dids = append(dids, did)
		}
	}
	if len(dids) == 0 {
		return nil, fmt.Errorf("WATCHED_DIDS is required (comma-separated)")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "mirror.db"
	}

	quotePosition := os.Getenv("QUOTE_POSITION")
	switch quotePosition {
	case "", "before":
		quotePosition = "before"
	case "after":
	default:
		return nil, fmt.Errorf("invalid QUOTE_POSITION %q (want before or after)", quotePosition)
	}

	quoteAsReply, err := boolEnv("QUOTE_AS_REPLY", true)
	if err != nil {
		return nil, err
	}
	linkToOriginal, err := boolEnv("LINK_TO_ORIGINAL", false)
	if err != nil {
		return nil, err
	}

	statusPort := 0
	if p := os.Getenv("STATUS_PORT"); p != "" {
		statusPort, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid STATUS_PORT: %w", err)
		}
	}

	return &Config{
		TelegramToken:   token,
		TelegramAPIURL:  os.Getenv("TELEGRAM_API_URL"),
		ChatID:          chatID,
		WatchedDIDs:     dids,
		JetstreamURL:    os.Getenv("JETSTREAM_URL"),
		DatabasePath:    dbPath,
		PLCDirectoryURL: os.Getenv("PLC_DIRECTORY_URL"),
		QuoteAsReply:    quoteAsReply,
		QuotePosition:   quotePosition,
		LinkToOriginal:  linkToOriginal,
		StatusPort:      statusPort,
	}, nil
}

func boolEnv(name string, def bool) (bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return value, nil
}
