package remotestore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncpkg "usersync/internal/sync"
)

func TestReadReturnsContentAndETag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", "abc")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"version":1,"content":"x"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	ref, content, err := client.Read(context.Background(), syncpkg.Resource("settings"), "")
	require.NoError(t, err)
	assert.Equal(t, "abc", ref)
	assert.Equal(t, `{"version":1,"content":"x"}`, string(content))
}

func TestReadNotFoundReturnsNilContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	ref, content, err := client.Read(context.Background(), syncpkg.Resource("settings"), "")
	require.NoError(t, err)
	assert.Empty(t, ref)
	assert.Nil(t, content)
}

func TestWritePreconditionFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.Header.Get("If-Match"))
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	_, err := client.Write(context.Background(), syncpkg.Resource("settings"), []byte(`{}`), "0")
	assert.True(t, syncpkg.IsKind(err, syncpkg.KindPreconditionFailed))
}

func TestWriteSuccessReturnsNewETag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"ping":true}`, string(body))
		w.Header().Set("ETag", "1")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	ref, err := client.Write(context.Background(), syncpkg.Resource("settings"), []byte(`{"ping":true}`), "0")
	require.NoError(t, err)
	assert.Equal(t, "1", ref)
}

func TestHeadersFromContextForwarded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-1", r.Header.Get("X-Trace"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	ctx := syncpkg.WithHeaders(context.Background(), map[string]string{"X-Trace": "req-1"})
	client := NewClient(server.URL, nil)
	_, _, err := client.Read(ctx, syncpkg.Resource("settings"), "")
	require.NoError(t, err)
}
