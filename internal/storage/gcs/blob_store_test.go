package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "tiles"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "tiles", Prefix: "/scenery/"})
	require.NoError(t, err)
	require.Equal(t, "scenery/Earth nav data/+40-130/+45-123.txt", store.ObjectName("Earth nav data/+40-130/+45-123.txt"))

	bare, err := New(client, Config{Bucket: "tiles"})
	require.NoError(t, err)
	require.Equal(t, "a/b.txt", bare.ObjectName("/a/b.txt"))
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "tiles"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "text/plain", nil)
	require.Error(t, err)
}
