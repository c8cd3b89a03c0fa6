package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	carv2 "github.com/ipld/go-car/v2"
)

// Resolver resolves a DID to the account's hosting endpoint.
type Resolver interface {
	PDSEndpoint(ctx context.Context, did string) (string, error)
}

// Client fetches records from accounts' personal data servers.
type Client struct {
	resolver   Resolver
	httpClient *http.Client
}

// NewClient creates a record-fetching client backed by the given identity
// resolver.
func NewClient(resolver Resolver) *Client {
	return &Client{
		resolver: resolver,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetRecord fetches a single record from the account's PDS via
// com.atproto.sync.getRecord and returns it as JSON. A missing record (404)
// returns (nil, nil).
//
// The response is a CAR bundle of signed blocks; it is scanned linearly for
// the block whose $type matches the requested collection.
func (c *Client) GetRecord(ctx context.Context, did, collection, rkey string) (json.RawMessage, error) {
	pds, err := c.resolver.PDSEndpoint(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("resolve PDS for %s: %w", did, err)
	}

	q := url.Values{}
	q.Set("did", did)
	q.Set("collection", collection)
	q.Set("rkey", rkey)
	reqURL := pds + "/xrpc/com.atproto.sync.getRecord?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getRecord %s/%s/%s failed (status %d): %s", did, collection, rkey, resp.StatusCode, body)
	}

	return scanArchive(body, collection)
}

// GetPost fetches an app.bsky.feed.post record. Absence is (nil, nil).
func (c *Client) GetPost(ctx context.Context, did, rkey string) (*Post, error) {
	raw, err := c.GetRecord(ctx, did, CollectionPost, rkey)
	if err != nil || raw == nil {
		return nil, err
	}

	var post Post
	if err := json.Unmarshal(raw, &post); err != nil {
		return nil, fmt.Errorf("decode post record: %w", err)
	}
	return &post, nil
}

// GetThreadgate fetches the threadgate record governing replies to the post
// with the given rkey. Absence is (nil, nil).
func (c *Client) GetThreadgate(ctx context.Context, did, rkey string) (*Threadgate, error) {
	raw, err := c.GetRecord(ctx, did, CollectionThreadgate, rkey)
	if err != nil || raw == nil {
		return nil, err
	}

	var gate Threadgate
	if err := json.Unmarshal(raw, &gate); err != nil {
		return nil, fmt.Errorf("decode threadgate record: %w", err)
	}
	return &gate, nil
}

// GetProfile fetches the account's profile record.
func (c *Client) GetProfile(ctx context.Context, did string) (*Profile, error) {
	raw, err := c.GetRecord(ctx, did, CollectionProfile, "self")
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("account %s has no profile record", did)
	}

	var profile Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("decode profile record: %w", err)
	}
	return &profile, nil
}

// BlobURL returns the PDS URL serving the blob with the given CID.
func (c *Client) BlobURL(ctx context.Context, did, blobCID string) (string, error) {
	pds, err := c.resolver.PDSEndpoint(ctx, did)
	if err != nil {
		return "", fmt.Errorf("resolve PDS for %s: %w", did, err)
	}

	q := url.Values{}
	q.Set("did", did)
	q.Set("cid", blobCID)
	return pds + "/xrpc/com.atproto.sync.getBlob?" + q.Encode(), nil
}

// scanArchive walks the blocks of a CAR bundle and returns the first record
// whose declared $type matches the requested collection, re-encoded as
// JSON. No matching block yields (nil, nil).
func scanArchive(data []byte, collection string) (json.RawMessage, error) {
	reader, err := carv2.NewBlockReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read archive header: %w", err)
	}

	for {
		block, err := reader.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read archive block: %w", err)
		}

		var decoded any
		if err := cbor.Unmarshal(block.RawData(), &decoded); err != nil {
			// Not every block is a record (MST nodes, commit objects).
			continue
		}

		record, ok := normalizeCBOR(decoded).(map[string]any)
		if !ok {
			continue
		}
		if record["$type"] != collection {
			continue
		}

		out, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("re-encode record: %w", err)
		}
		return out, nil
	}
}

// normalizeCBOR converts a decoded DAG-CBOR value into a JSON-encodable
// shape: map keys become strings and CID links (tag 42) become
// {"$link": "<cid>"} objects, matching the JSON representation of records.
func normalizeCBOR(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			out[key] = normalizeCBOR(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeCBOR(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeCBOR(item)
		}
		return out
	case cbor.Tag:
		if val.Number == 42 {
			if raw, ok := val.Content.([]byte); ok && len(raw) > 1 {
				// DAG-CBOR links carry a leading identity-multibase byte.
				if parsed, err := cid.Cast(raw[1:]); err == nil {
					return map[string]any{"$link": parsed.String()}
				}
			}
		}
		return normalizeCBOR(val.Content)
	default:
		return v
	}
}
