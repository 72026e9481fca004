package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
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

	store, err := New(client, Config{Bucket: "test-bucket", Prefix: "/crawl/"})
	require.NoError(t, err)
	return store
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "crawl/docs/a.txt", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "alpha")
		fmt.Fprintln(w, `{"name": "crawl/docs/a.txt", "bucket": "test-bucket"}`)
	}))

	uri, err := store.PutObject(context.Background(), "docs/a.txt", "text/plain", strings.NewReader("alpha"))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/crawl/docs/a.txt", uri)
}

func TestPutObjectFailingReaderNeverUploads(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		uploads.Add(1)
		fmt.Fprintln(w, `{"name": "x"}`)
	}))

	r := io.MultiReader(strings.NewReader("partial"), brokenReader{})
	_, err := store.PutObject(context.Background(), "docs/a.txt", "text/plain", r)
	require.ErrorContains(t, err, "copy object")
	require.Zero(t, uploads.Load())
}

func TestDeleteObject(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if strings.HasSuffix(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"error": {"code": 404, "message": "No such object"}}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, store.DeleteObject(context.Background(), "docs/a.txt"))
	require.NoError(t, store.DeleteObject(context.Background(), "missing"))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
