package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{Bucket: " "})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	withPrefix, err := New(client, Config{Bucket: "b", Prefix: "/archive/"})
	require.NoError(t, err)
	assert.Equal(t, "archive/pages/Alice/1-x.html", withPrefix.ObjectName("pages/Alice/1-x.html"))

	bare, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "pages/Alice/1-x.html", bare.ObjectName("/pages/Alice/1-x.html"))

	_, err = bare.PutObject(context.Background(), "", "text/html", nil)
	assert.Error(t, err)
}
