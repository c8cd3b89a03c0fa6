// Command identify resolves a Bluesky handle or DID and prints the
// account's identity details: the DID to put in WATCHED_DIDS, the hosting
// endpoint, and the profile.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/blackmichael/bsky-mirror/internal/bluesky"
	"github.com/blackmichael/bsky-mirror/internal/identity"
)

const resolveHandleURL = "https://public.api.bsky.app/xrpc/com.atproto.identity.resolveHandle"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		account      string
		plcDirectory string
	)

	flag.StringVar(&account, "account", "", "Bluesky handle (e.g. user.bsky.social) or DID")
	flag.StringVar(&plcDirectory, "plc-directory", "", "did:plc directory URL (default https://plc.directory)")
	flag.Parse()

	if account == "" {
		return fmt.Errorf("--account is required")
	}

	ctx := context.Background()

	did := account
	if !strings.HasPrefix(account, "did:") {
		resolved, err := resolveHandle(ctx, account)
		if err != nil {
			return fmt.Errorf("resolve handle %s: %w", account, err)
		}
		did = resolved
	}
	fmt.Printf("DID:     %s\n", did)

	resolver := identity.NewResolver(plcDirectory)
	doc, err := resolver.Resolve(ctx, did)
	if err != nil {
		return err
	}
	if len(doc.AlsoKnownAs) > 0 {
		fmt.Printf("Aliases: %s\n", strings.Join(doc.AlsoKnownAs, ", "))
	}

	pds, err := doc.PDSEndpoint()
	if err != nil {
		return err
	}
	fmt.Printf("PDS:     %s\n", pds)

	profile, err := bluesky.NewClient(resolver).GetProfile(ctx, did)
	if err != nil {
		return err
	}
	if profile.DisplayName != "" {
		fmt.Printf("Name:    %s\n", profile.DisplayName)
	}
	if profile.Description != "" {
		fmt.Printf("Bio:     %s\n", strings.ReplaceAll(profile.Description, "\n", " "))
	}

	return nil
}

func resolveHandle(ctx context.Context, handle string) (string, error) {
	reqURL := resolveHandleURL + "?handle=" + url.QueryEscape(handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolveHandle failed (status %d): %s", resp.StatusCode, body)
	}

	var result struct {
		DID string `json:"did"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	return result.DID, nil
}
