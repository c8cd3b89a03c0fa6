package bluesky

import (
	"fmt"
	"strings"
)

// ATURI is a parsed at:// record reference.
type ATURI struct {
	DID        string
	Collection string
	RKey       string
}

// ParseATURI splits an "at://did/collection/rkey" URI into its parts.
func ParseATURI(uri string) (ATURI, error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return ATURI{}, fmt.Errorf("not an at-uri: %q", uri)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ATURI{}, fmt.Errorf("invalid at-uri: %q", uri)
	}

	return ATURI{DID: parts[0], Collection: parts[1], RKey: parts[2]}, nil
}

// PostURL returns the public bsky.app URL for a post.
func PostURL(did, rkey string) string {
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", did, rkey)
}

// ProfileURL returns the public bsky.app URL for an account.
func ProfileURL(did string) string {
	return "https://bsky.app/profile/" + did
}

// HashtagURL returns the public bsky.app search URL for a hashtag.
func HashtagURL(tag string) string {
	return "https://bsky.app/hashtag/" + tag
}
