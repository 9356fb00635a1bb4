package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "exports", CacheControl: "no-cache"})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploads(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/exports/o")
		assert.Equal(t, "runs/r1/index.html", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "<html>cloned</html>")
		assert.Contains(t, string(body), "text/html")
		fmt.Fprintln(w, `{"name": "runs/r1/index.html", "bucket": "exports"}`)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), "/runs/r1/index.html", "text/html", strings.NewReader("<html>cloned</html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://exports/runs/r1/index.html", uri)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler)

	_, err := store.PutObject(context.Background(), "runs/r1/index.html", "text/html", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	assert.Error(t, err)
}
