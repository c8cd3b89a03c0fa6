package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plcDocument(did string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"alsoKnownAs": ["at://alice.example"],
		"service": [{
			"id": "#atproto_pds",
			"type": "AtprotoPersonalDataServer",
			"serviceEndpoint": "https://pds.example"
		}]
	}`, did)
}

func TestResolve_PLCDirectory(t *testing.T) {
	const did = "did:plc:abc123"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+did, r.URL.Path)
		w.Write([]byte(plcDocument(did)))
	}))
	defer server.Close()

	resolver := NewResolver(server.URL)
	doc, err := resolver.Resolve(context.Background(), did)
	require.NoError(t, err)
	assert.Equal(t, did, doc.ID)

	pds, err := doc.PDSEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "https://pds.example", pds)
}

func TestResolve_CachesSuccess(t *testing.T) {
	const did = "did:plc:cached"
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(plcDocument(did)))
	}))
	defer server.Close()

	resolver := NewResolver(server.URL)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, did)
	require.NoError(t, err)
	_, err = resolver.Resolve(ctx, did)
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
}

func TestResolve_FailureNotCached(t *testing.T) {
	const did = "did:plc:flaky"
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(plcDocument(did)))
	}))
	defer server.Close()

	resolver := NewResolver(server.URL)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, did)
	require.Error(t, err)

	// The failed lookup must not be cached; the next demand retries.
	doc, err := resolver.Resolve(ctx, did)
	require.NoError(t, err)
	assert.Equal(t, did, doc.ID)
	assert.Equal(t, int32(2), hits.Load())
}

func TestResolve_ConcurrentLookupsShareOneFlight(t *testing.T) {
	const did = "did:plc:herd"
	var hits atomic.Int32
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte(plcDocument(did)))
	}))
	defer server.Close()

	resolver := NewResolver(server.URL)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := resolver.Resolve(ctx, did)
			assert.NoError(t, err)
			assert.Equal(t, did, doc.ID)
		}()
	}

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
}

func TestResolve_DocumentMismatchRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(plcDocument("did:plc:somebody-else")))
	}))
	defer server.Close()

	resolver := NewResolver(server.URL)
	_, err := resolver.Resolve(context.Background(), "did:plc:expected")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestResolve_UnsupportedScheme(t *testing.T) {
	resolver := NewResolver("")
	_, err := resolver.Resolve(context.Background(), "did:key:zQ3sh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported DID scheme")
}

func TestPDSEndpoint_MissingServiceEntry(t *testing.T) {
	doc := &Document{
		ID:      "did:plc:nopds",
		Service: []Service{{ID: "#other", Type: "SomethingElse", ServiceEndpoint: "https://x"}},
	}
	_, err := doc.PDSEndpoint()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no PDS service entry")
}
