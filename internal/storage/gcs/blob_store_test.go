package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/iotest"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	type upload struct {
		path, name, body string
	}
	uploads := make(chan upload, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		uploads <- upload{path: r.URL.Path, name: r.URL.Query().Get("name"), body: string(body)}
		name := r.URL.Query().Get("name")
		fmt.Fprintln(w, `{"name": "`+name+`", "bucket": "og-archive"}`)
	})

	store, err := New(newTestClient(t, handler), Config{
		Bucket:       "og-archive",
		Prefix:       "/renders/",
		CacheControl: "public, max-age=600",
	})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "2024/05/abc.OGImage.png", "image/png", bytes.NewReader([]byte("png-bytes")))
	require.NoError(t, err)
	require.Equal(t, "gs://og-archive/renders/2024/05/abc.OGImage.png", uri)

	got := <-uploads
	require.Contains(t, got.path, "/upload/storage/v1/b/og-archive/o")
	require.Equal(t, "renders/2024/05/abc.OGImage.png", got.name)
	require.Contains(t, got.body, "png-bytes")
	require.Contains(t, got.body, "image/png")
	require.Contains(t, got.body, "public, max-age=600")
	require.Contains(t, got.body, `inline; filename=\"abc.OGImage.png\"`)
	require.Contains(t, got.body, `"crc32c"`)
}

func TestPutObjectReadError(t *testing.T) {
	t.Parallel()

	store, err := New(newTestClient(t, http.NotFoundHandler()), Config{Bucket: "og-archive"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "a.png", "image/png", iotest.ErrReader(errors.New("boom")))
	require.ErrorContains(t, err, "read artifact")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"code": 403, "message": "denied"}}`, http.StatusForbidden)
	})
	store, err := New(newTestClient(t, handler), Config{Bucket: "og-archive"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "a.png", "image/png", bytes.NewReader([]byte("x")))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	require.Equal(t, "x.png", store.ObjectName("x.png"))
	_, err = store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
}
