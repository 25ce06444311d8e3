// Package remotestore implements sync.RemoteStore against an HTTP
// backend using If-Match/If-None-Match ETag semantics.
package remotestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"time"

	syncpkg "usersync/internal/sync"
	"usersync/pkg/logging"
)

// Client is a net/http-backed sync.RemoteStore. It issues
// GET /resources/{resource} for Read, POST /resources/{resource} with an
// If-Match header for Write, translating HTTP 412 into a
// KindPreconditionFailed error.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client against baseURL (e.g.
// "https://sync.example.com/api/v1"). A nil httpClient defaults to
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) resourceURL(resource syncpkg.Resource, suffix string) string {
	return c.baseURL + path.Join("/resources", string(resource), suffix)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("remotestore: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if extra, ok := syncpkg.HeadersFromContext(ctx); ok {
		for k, v := range extra {
			req.Header.Set(k, v)
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remotestore: %s %s: %w", method, url, err)
	}
	return resp, nil
}

// Read fetches the current envelope for resource, sending
// If-None-Match: lastSyncRef when lastSyncRef is non-empty. A 304 Not
// Modified reply returns its ETag with nil content, which the engine
// reads as "unchanged since lastSyncRef".
func (c *Client) Read(ctx context.Context, resource syncpkg.Resource, lastSyncRef string) (string, []byte, error) {
	headers := map[string]string{}
	if lastSyncRef != "" {
		headers["If-None-Match"] = lastSyncRef
	}
	resp, err := c.do(ctx, http.MethodGet, c.resourceURL(resource, ""), nil, headers)
	if err != nil {
		return "", nil, wrapNetworkErr(resource, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return "", nil, nil
	case http.StatusNotModified:
		return resp.Header.Get("ETag"), nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, newStatusErr(resource, "fetch remote resource", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, wrapNetworkErr(resource, err)
	}
	return resp.Header.Get("ETag"), data, nil
}

// Write stores envelopeJSON as the new value of resource, conditional on
// ifMatchRef: empty means "must not yet exist" (sent as If-None-Match:
// *), non-empty is sent as If-Match.
func (c *Client) Write(ctx context.Context, resource syncpkg.Resource, envelopeJSON []byte, ifMatchRef string) (string, error) {
	headers := map[string]string{}
	if ifMatchRef == "" {
		headers["If-None-Match"] = "*"
	} else {
		headers["If-Match"] = ifMatchRef
	}

	resp, err := c.do(ctx, http.MethodPost, c.resourceURL(resource, ""), envelopeJSON, headers)
	if err != nil {
		return "", wrapNetworkErr(resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed {
		return "", preconditionErr(resource, resp)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", newStatusErr(resource, "write remote resource", resp)
	}
	return resp.Header.Get("ETag"), nil
}

// ResolveContent fetches the envelope stored at a specific historical
// ref.
func (c *Client) ResolveContent(ctx context.Context, resource syncpkg.Resource, ref string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.resourceURL(resource, "/"+url.PathEscape(ref)), nil, nil)
	if err != nil {
		return nil, wrapNetworkErr(resource, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newStatusErr(resource, "resolve remote ref", resp)
	}
	return io.ReadAll(resp.Body)
}

// refsResponse is the wire shape of a GET .../refs listing.
type refsResponse struct {
	Refs []refEntryWire `json:"refs"`
}

type refEntryWire struct {
	Ref     string    `json:"ref"`
	Created time.Time `json:"created"`
}

// GetAllRefs lists every ref the remote store has recorded for
// resource, newest first.
func (c *Client) GetAllRefs(ctx context.Context, resource syncpkg.Resource) ([]syncpkg.RefEntry, error) {
	resp, err := c.do(ctx, http.MethodGet, c.resourceURL(resource, "/refs"), nil, nil)
	if err != nil {
		return nil, wrapNetworkErr(resource, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newStatusErr(resource, "list remote refs", resp)
	}

	var wire refsResponse
	if err := decodeJSON(resp.Body, &wire); err != nil {
		return nil, wrapNetworkErr(resource, err)
	}
	refs := make([]syncpkg.RefEntry, 0, len(wire.Refs))
	for _, r := range wire.Refs {
		refs = append(refs, syncpkg.RefEntry{Created: r.Created, Ref: r.Ref})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Created.After(refs[j].Created) })
	return refs, nil
}

func wrapNetworkErr(resource syncpkg.Resource, err error) error {
	logging.Warn("RemoteStoreClient", "request failed for %s: %v", resource, err)
	return syncpkg.NewNetworkError(resource, "remote request failed", err)
}
