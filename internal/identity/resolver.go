// Package identity resolves DIDs to their identity documents and hosting
// endpoints.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultPLCDirectory = "https://plc.directory"
	cacheSize           = 100
)

// Document is a DID identity document.
type Document struct {
	ID          string    `json:"id"`
	AlsoKnownAs []string  `json:"alsoKnownAs"`
	Service     []Service `json:"service"`
}

// Service is one service endpoint entry of an identity document.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// PDSEndpoint returns the document's personal data server endpoint, the
// host that stores the account's records.
func (d *Document) PDSEndpoint() (string, error) {
	for _, svc := range d.Service {
		if svc.Type == "AtprotoPersonalDataServer" {
			return svc.ServiceEndpoint, nil
		}
	}
	return "", fmt.Errorf("identity document for %s has no PDS service entry", d.ID)
}

// Resolver fetches and caches DID documents. Concurrent lookups for the
// same DID share one in-flight resolution; only successful resolutions are
// cached, so a failed lookup is retried on the next demand.
type Resolver struct {
	plcDirectory string
	httpClient   *http.Client

	cache  *lru.Cache[string, *Document]
	flight singleflight.Group
}

// NewResolver creates a Resolver. If plcDirectory is empty, the public
// https://plc.directory instance is used.
func NewResolver(plcDirectory string) *Resolver {
	if plcDirectory == "" {
		plcDirectory = defaultPLCDirectory
	}
	cache, _ := lru.New[string, *Document](cacheSize)
	return &Resolver{
		plcDirectory: plcDirectory,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache,
	}
}

// Resolve returns the identity document for a DID. Supported schemes are
// did:web (well-known HTTPS lookup) and did:plc (directory lookup).
func (r *Resolver) Resolve(ctx context.Context, did string) (*Document, error) {
	if doc, ok := r.cache.Get(did); ok {
		return doc, nil
	}

	v, err, _ := r.flight.Do(did, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated the cache while we were waiting.
		if doc, ok := r.cache.Get(did); ok {
			return doc, nil
		}

		doc, err := r.fetch(ctx, did)
		if err != nil {
			return nil, err
		}

		r.cache.Add(did, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

// PDSEndpoint resolves a DID and returns its hosting endpoint.
func (r *Resolver) PDSEndpoint(ctx context.Context, did string) (string, error) {
	doc, err := r.Resolve(ctx, did)
	if err != nil {
		return "", err
	}
	return doc.PDSEndpoint()
}

func (r *Resolver) fetch(ctx context.Context, did string) (*Document, error) {
	var docURL string
	switch {
	case strings.HasPrefix(did, "did:web:"):
		docURL = "https://" + strings.TrimPrefix(did, "did:web:") + "/.well-known/did.json"
	case strings.HasPrefix(did, "did:plc:"):
		docURL = r.plcDirectory + "/" + did
	default:
		return nil, fmt.Errorf("unsupported DID scheme: %s", did)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch identity document: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read identity document: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity lookup for %s failed (status %d): %s", did, resp.StatusCode, body)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal identity document: %w", err)
	}

	if doc.ID != did {
		return nil, fmt.Errorf("identity document id %q does not match %q", doc.ID, did)
	}

	return &doc, nil
}
